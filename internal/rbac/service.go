package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// Resolution is the outcome of resolving one user against the store.
type Resolution struct {
	UserID   int64        `json:"user_id"`
	RoleID   int64        `json:"role_id"`
	RoleSlug Slug         `json:"role_slug"`
	Active   bool         `json:"active"`
	Set      EffectiveSet `json:"effective"`
}

// Service resolves effective permissions directly from the store. It keeps no
// cache: every call observes the latest committed role bundle.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Resolve loads the user, their role and, for super admins, the current
// catalog, then computes the effective set. Inactive users resolve to an empty
// set.
func (s *Service) Resolve(ctx context.Context, userID int64) (Resolution, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	role, err := s.store.GetRole(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("rbac user references missing role", slog.Int64("user_id", userID), slog.Int64("role_id", user.RoleID))
		}
		return Resolution{}, err
	}
	res := Resolution{UserID: user.ID, RoleID: role.ID, RoleSlug: role.Slug, Active: user.IsActive}
	if !user.IsActive {
		res.Set = Resolve(ResolveInput{})
		return res, nil
	}
	in := ResolveInput{
		RolePermissions: role.Permissions,
		DirectGrants:    user.DirectGrants,
		DirectBlocks:    user.DirectBlocks,
		SuperAdmin:      role.IsSuperAdmin(),
	}
	if in.SuperAdmin {
		perms, err := s.store.ListPermissions(ctx)
		if err != nil {
			return Resolution{}, err
		}
		in.Catalog = NewCatalog(perms).Slugs()
	}
	res.Set = Resolve(in)
	return res, nil
}

// Catalog reads the permission catalog from the store.
func (s *Service) Catalog(ctx context.Context) (*Catalog, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(perms), nil
}

// ListPermissions returns all permissions ordered by slug.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetRole reads one role from the store.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}
