package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ReplaceOverrides(ctx context.Context, userID int64, grants, blocks []rbac.Slug) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	UpdateProfile(ctx context.Context, userID int64, name string) error
}

// Directory exposes the catalog and role lookups the service validates against.
type Directory interface {
	Catalog(ctx context.Context) (*rbac.Catalog, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
}

// Notifier is told about committed changes to a user's permission inputs.
type Notifier interface {
	UserChanged(ctx context.Context, userID int64) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	dir      Directory
	notifier Notifier
	audit    shared.AuditSink
	logger   *slog.Logger
}

// NewService builds Service instance. notifier may be nil.
func NewService(repo RepositoryPort, dir Directory, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, dir: dir, notifier: notifier, logger: logger}
}

// WithAudit records committed override and role changes to sink.
func (s *Service) WithAudit(sink shared.AuditSink) *Service {
	s.audit = sink
	return s
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// Profile returns the profile view of a user.
func (s *Service) Profile(ctx context.Context, id int64) (Profile, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return Profile{ID: user.ID, Email: user.Email, Name: user.Name, RoleSlug: user.RoleSlug}, nil
}

// ReplaceOverrides sets the user's direct grants and blocks. A slug present
// in both lists stays blocked.
func (s *Service) ReplaceOverrides(ctx context.Context, userID int64, input OverridesInput) (User, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return User{}, err
	}
	catalog, err := s.dir.Catalog(ctx)
	if err != nil {
		return User{}, err
	}
	grants, err := catalog.Validate(input.Grants)
	if err != nil {
		return User{}, err
	}
	blocks, err := catalog.Validate(input.Blocks)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.ReplaceOverrides(ctx, userID, grants, blocks); err != nil {
		return User{}, err
	}
	s.logger.Info("user overrides replaced", slog.Int64("user_id", userID), slog.Int("grants", len(grants)), slog.Int("blocks", len(blocks)))
	s.record(ctx, shared.AuditUserOverrides, userID, map[string]any{"grants": grants, "blocks": blocks})
	s.notify(ctx, userID)
	return s.repo.GetUser(ctx, userID)
}

// AssignRole moves a user to another role. Only super admins may hand out the
// super-admin role.
func (s *Service) AssignRole(ctx context.Context, userID int64, input AssignRoleInput, actorSuperAdmin bool) (User, error) {
	role, err := s.dir.GetRole(ctx, input.RoleID)
	if err != nil {
		return User{}, err
	}
	if role.IsSuperAdmin() && !actorSuperAdmin {
		return User{}, fmt.Errorf("%w: only super admins can assign %s", rbac.ErrForbidden, role.Slug)
	}
	if err := s.repo.AssignRole(ctx, userID, role.ID); err != nil {
		return User{}, err
	}
	s.logger.Info("user role assigned", slog.Int64("user_id", userID), slog.Int64("role_id", role.ID))
	s.record(ctx, shared.AuditUserRoleAssigned, userID, map[string]any{"role_id": role.ID, "role_slug": role.Slug})
	s.notify(ctx, userID)
	return s.repo.GetUser(ctx, userID)
}

// UpdateProfile changes the profile fields. Access is decided by the caller.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, input ProfileInput) (Profile, error) {
	if err := s.repo.UpdateProfile(ctx, userID, strings.TrimSpace(input.Name)); err != nil {
		return Profile{}, err
	}
	return s.Profile(ctx, userID)
}

func (s *Service) record(ctx context.Context, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.NewAuditEntry(ctx, action, "user", userID, meta)); err != nil {
		s.logger.Warn("user audit failed", slog.String("action", action), slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, userID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.UserChanged(ctx, userID); err != nil {
		s.logger.Warn("user change notification failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
