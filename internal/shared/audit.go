package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions for access-control changes.
const (
	AuditRoleCreate       = "role.create"
	AuditRoleUpdate       = "role.update"
	AuditRolePermissions  = "role.permissions.replace"
	AuditUserOverrides    = "user.overrides.replace"
	AuditUserRoleAssigned = "user.role.assign"
)

// AuditEntry is one committed change to roles or user overrides.
type AuditEntry struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID int64
	Meta     map[string]any
	At       time.Time
}

// AuditSink receives audit entries.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditLogger writes entries into access_audit_log.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry. A zero At is stamped by the database.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		t := entry.At.UTC()
		at = &t
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO access_audit_log (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES (NULLIF($1::bigint, 0), $2, $3, $4, $5, COALESCE($6::timestamptz, NOW()))`, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	return err
}

func (e AuditEntry) validate() error {
	if e.Action == "" || e.Entity == "" || e.EntityID == 0 {
		return errors.New("audit entry requires action/entity/entity_id")
	}
	return nil
}

// NewAuditEntry builds an entry attributed to the session user in ctx, if any.
func NewAuditEntry(ctx context.Context, action, entity string, entityID int64, meta map[string]any) AuditEntry {
	actor, _ := SessionUserID(ctx)
	return AuditEntry{ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: meta}
}
