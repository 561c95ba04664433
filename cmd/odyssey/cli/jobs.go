package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/jobs"
)

// JobsCLI enqueues and inspects worker tasks from the command line.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects a client and an inspector to the worker's Redis.
func NewJobsCLI(conn asynq.RedisConnOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(conn), inspector: asynq.NewInspector(conn)}
}

// Close closes the client and the inspector.
func (c *JobsCLI) Close() error {
	return errors.Join(c.inspector.Close(), c.client.Close())
}

// ResolveTask builds the task for a job name. Both the task type and its
// short alias are accepted.
func ResolveTask(name string) (*asynq.Task, []asynq.Option, error) {
	switch name {
	case jobs.TaskCatalogSync, "catalog-sync":
		task, err := jobs.NewCatalogSyncTask("cli")
		return task, []asynq.Option{asynq.MaxRetry(3)}, err
	case jobs.TaskSessionSweep, "session-sweep":
		task, err := jobs.NewSessionSweepTask(0)
		return task, []asynq.Option{asynq.MaxRetry(1)}, err
	default:
		return nil, nil, fmt.Errorf("unsupported job %q", name)
	}
}

// Enqueuer is the part of *asynq.Client the trigger command uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TriggerOptions defines flags for the jobs trigger command.
type TriggerOptions struct {
	Output
	Name string
}

type triggerSummary struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Queue string `json:"queue"`
}

// TriggerCommand enqueues a job on its queue and prints the task id.
func (c *JobsCLI) TriggerCommand(ctx context.Context, opts TriggerOptions) int {
	return triggerCommand(ctx, c.client, opts)
}

func triggerCommand(ctx context.Context, client Enqueuer, opts TriggerOptions) int {
	const name = "jobs trigger"
	if opts.Name == "" {
		return opts.fail(name, "job name is required (catalog-sync, session-sweep)")
	}
	task, taskOpts, err := ResolveTask(opts.Name)
	if err != nil {
		return opts.fail(name, "%v", err)
	}
	info, err := client.EnqueueContext(ctx, task, append(taskOpts, asynq.Queue(jobs.QueueFor(task.Type())))...)
	if err != nil {
		return opts.fail(name, "%v", err)
	}
	summary := triggerSummary{ID: info.ID, Type: info.Type, Queue: info.Queue}
	return opts.emit(name, summary, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "enqueued %s as %s on queue %s\n", summary.Type, summary.ID, summary.Queue)
	})
}

// QueueStats is one queue line of jobs stats.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Paused    bool   `json:"paused,omitempty"`
}

// inspectQueues reports every worker queue. Queues that were never written to
// report zeros.
func inspectQueues(inspector jobs.QueueInspector) ([]QueueStats, error) {
	out := make([]QueueStats, 0, len(jobs.Queues()))
	for _, name := range jobs.Queues() {
		info, err := inspector.GetQueueInfo(name)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		stats := QueueStats{Queue: name}
		if info != nil {
			stats = QueueStats{
				Queue:     name,
				Pending:   info.Pending,
				Active:    info.Active,
				Scheduled: info.Scheduled,
				Retry:     info.Retry,
				Paused:    info.Paused,
			}
		}
		out = append(out, stats)
	}
	return out, nil
}

// StatsOptions defines flags for the jobs stats command.
type StatsOptions struct {
	Output
}

// StatsCommand prints queue counters.
func (c *JobsCLI) StatsCommand(opts StatsOptions) int {
	return statsCommand(c.inspector, opts)
}

func statsCommand(inspector jobs.QueueInspector, opts StatsOptions) int {
	const name = "jobs stats"
	if inspector == nil {
		return opts.fail(name, "inspector not configured")
	}
	stats, err := inspectQueues(inspector)
	if err != nil {
		return opts.fail(name, "%v", err)
	}
	return opts.emit(name, stats, func(w io.Writer) {
		for _, q := range stats {
			state := ""
			if q.Paused {
				state = " paused"
			}
			_, _ = fmt.Fprintf(w, "%-9s pending=%d active=%d scheduled=%d retry=%d%s\n", q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, state)
		}
	})
}
