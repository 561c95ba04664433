package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
)

const defaultSweepBatch = 500

// SessionSweepJob removes login session records past their expiry.
type SessionSweepJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob wires dependencies for the sweep handler.
func NewSessionSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes session sweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Pool == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultSweepBatch
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskSessionSweep)
	defer func() {
		err = tracker.End(err)
	}()

	const query = `DELETE FROM sessions WHERE id IN (
	SELECT id FROM sessions WHERE expires_at < NOW() ORDER BY expires_at LIMIT $1)`
	total := int64(0)
	for {
		tag, execErr := j.Pool.Exec(ctx, query, payload.BatchSize)
		if execErr != nil {
			return execErr
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(payload.BatchSize) {
			break
		}
	}
	metrics.AddProcessed(TaskSessionSweep, total)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("expired sessions swept", slog.Int64("deleted", total))
	return nil
}
