package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, name string, slug rbac.Slug, description string, perms []rbac.Slug) (int64, error)
	UpdateRole(ctx context.Context, id int64, name, description string) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, perms []rbac.Slug) error
}

// CatalogSource exposes the current permission catalog.
type CatalogSource interface {
	Catalog(ctx context.Context) (*rbac.Catalog, error)
}

// Notifier is told about committed role changes.
type Notifier interface {
	RoleChanged(ctx context.Context, roleID int64) error
}

// Service handles role business logic.
type Service struct {
	repo     RepositoryPort
	catalog  CatalogSource
	notifier Notifier
	audit    shared.AuditSink
	logger   *slog.Logger
}

// NewService builds Service instance. notifier may be nil.
func NewService(repo RepositoryPort, catalog CatalogSource, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: catalog, notifier: notifier, logger: logger}
}

// WithAudit records committed role changes to sink.
func (s *Service) WithAudit(sink shared.AuditSink) *Service {
	s.audit = sink
	return s
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	return s.repo.GetRole(ctx, id)
}

// UpdateRolePermissions replaces the role's permission set wholesale and
// returns the role as committed.
func (s *Service) UpdateRolePermissions(ctx context.Context, roleID int64, slugs []string) (rbac.Role, error) {
	role, err := s.mutable(ctx, roleID)
	if err != nil {
		return rbac.Role{}, err
	}
	perms, err := s.validate(ctx, slugs)
	if err != nil {
		return rbac.Role{}, err
	}
	if err := s.repo.ReplaceRolePermissions(ctx, role.ID, perms); err != nil {
		return rbac.Role{}, err
	}
	s.logger.Info("role permissions replaced", slog.Int64("role_id", role.ID), slog.Int("permissions", len(perms)))
	s.record(ctx, shared.AuditRolePermissions, role.ID, map[string]any{"permissions": perms})
	s.notify(ctx, role.ID)
	return s.repo.GetRole(ctx, role.ID)
}

// CreateRole creates a role with its initial permission set.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (rbac.Role, error) {
	slug, err := rbac.ParseSlug(input.Slug)
	if err != nil {
		return rbac.Role{}, err
	}
	if slug == rbac.SuperAdminRoleSlug {
		return rbac.Role{}, fmt.Errorf("%w: %s is reserved", rbac.ErrForbidden, slug)
	}
	perms, err := s.validate(ctx, input.Permissions)
	if err != nil {
		return rbac.Role{}, err
	}
	id, err := s.repo.CreateRole(ctx, strings.TrimSpace(input.Name), slug, strings.TrimSpace(input.Description), perms)
	if err != nil {
		return rbac.Role{}, err
	}
	s.logger.Info("role created", slog.Int64("role_id", id), slog.String("slug", string(slug)))
	s.record(ctx, shared.AuditRoleCreate, id, map[string]any{"slug": slug, "permissions": perms})
	s.notify(ctx, id)
	return s.repo.GetRole(ctx, id)
}

// UpdateRole updates name and description without touching permissions.
func (s *Service) UpdateRole(ctx context.Context, id int64, input UpdateRoleInput) (rbac.Role, error) {
	role, err := s.mutable(ctx, id)
	if err != nil {
		return rbac.Role{}, err
	}
	if err := s.repo.UpdateRole(ctx, role.ID, strings.TrimSpace(input.Name), strings.TrimSpace(input.Description)); err != nil {
		return rbac.Role{}, err
	}
	s.record(ctx, shared.AuditRoleUpdate, role.ID, map[string]any{"name": strings.TrimSpace(input.Name)})
	s.notify(ctx, role.ID)
	return s.repo.GetRole(ctx, role.ID)
}

func (s *Service) mutable(ctx context.Context, id int64) (rbac.Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return rbac.Role{}, err
	}
	if role.IsSuperAdmin() {
		return rbac.Role{}, fmt.Errorf("%w: super admin role is immutable", rbac.ErrForbidden)
	}
	return role, nil
}

func (s *Service) validate(ctx context.Context, slugs []string) ([]rbac.Slug, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	catalog, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Validate(slugs)
}

func (s *Service) record(ctx context.Context, action string, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.NewAuditEntry(ctx, action, "role", roleID, meta)); err != nil {
		s.logger.Warn("role audit failed", slog.String("action", action), slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, roleID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.RoleChanged(ctx, roleID); err != nil {
		s.logger.Warn("role change notification failed", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}
