package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionWriter upserts permission definitions.
type PermissionWriter interface {
	EnsurePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error)
}

// CatalogChangeNotifier is told after the catalog changed so super-admin
// snapshots pick up new slugs.
type CatalogChangeNotifier interface {
	CatalogChanged(ctx context.Context) error
}

// CatalogSyncJob keeps the permission catalog in step with the permissions the
// code declares.
type CatalogSyncJob struct {
	Store    PermissionWriter
	Scopes   func() []shared.ScopeDefinition
	Notifier CatalogChangeNotifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewCatalogSyncJob wires dependencies for the sync handler.
func NewCatalogSyncJob(store PermissionWriter, notifier CatalogChangeNotifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	return &CatalogSyncJob{Store: store, Scopes: shared.AllScopes, Notifier: notifier, Logger: logger, Metrics: metrics}
}

// Handle processes catalog sync tasks.
func (j *CatalogSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("catalog sync: handler not configured")
	}
	var payload CatalogSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Sync(ctx, payload.Source)
	return err
}

// Sync upserts every declared scope and returns how many were written.
func (j *CatalogSyncJob) Sync(ctx context.Context, source string) (synced int, err error) {
	tracker := j.metrics().Track(TaskCatalogSync)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("source", source))
	scopes := j.Scopes()
	for _, scope := range scopes {
		slug, parseErr := rbac.ParseSlug(scope.Slug)
		if parseErr != nil {
			// declared in code, so a bad slug is a programming error
			return synced, fmt.Errorf("catalog sync: %w", parseErr)
		}
		if _, err = j.Store.EnsurePermission(ctx, rbac.Permission{Name: scope.Name, Slug: slug, GroupName: scope.Group}); err != nil {
			logger.Error("ensure permission", slog.String("slug", string(slug)), slog.Any("error", err))
			return synced, err
		}
		synced++
	}
	j.metrics().AddProcessed(TaskCatalogSync, int64(synced))
	logger.Info("catalog synced", slog.Int("permissions", synced))
	if j.Notifier != nil {
		if notifyErr := j.Notifier.CatalogChanged(ctx); notifyErr != nil {
			logger.Warn("catalog change notification failed", slog.Any("error", notifyErr))
		}
	}
	return synced, nil
}

func (j *CatalogSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *CatalogSyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
