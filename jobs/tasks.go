package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueCritical carries catalog work that gates permission checks.
	QueueCritical = "critical"
	// QueueDefault carries housekeeping.
	QueueDefault = "default"
	// TaskCatalogSync upserts the platform's declared permissions into the catalog.
	TaskCatalogSync = "rbac:catalog_sync"
	// TaskSessionSweep deletes expired login session records.
	TaskSessionSweep = "auth:session_sweep"
)

// Queues lists every queue the worker serves, highest priority first.
func Queues() []string {
	return []string{QueueCritical, QueueDefault}
}

// QueueFor returns the queue a task type is enqueued on.
func QueueFor(taskType string) string {
	if taskType == TaskCatalogSync {
		return QueueCritical
	}
	return QueueDefault
}

// CatalogSyncPayload describes a catalog sync run.
type CatalogSyncPayload struct {
	// Source labels who asked for the run (cron, cli, startup).
	Source string `json:"source"`
}

// NewCatalogSyncTask constructs a catalog sync task.
func NewCatalogSyncTask(source string) (*asynq.Task, error) {
	data, err := json.Marshal(CatalogSyncPayload{Source: source})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSync, data), nil
}

// SessionSweepPayload describes a session sweep run.
type SessionSweepPayload struct {
	// BatchSize caps the rows deleted per statement.
	BatchSize int `json:"batch_size"`
}

// NewSessionSweepTask constructs a session sweep task.
func NewSessionSweepTask(batchSize int) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}
