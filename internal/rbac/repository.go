package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the read side of the record-storage collaborator.
type Store interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleSelect reads a role and its permission slugs as one statement, so a
// concurrent replace is observed either fully or not at all.
const RoleSelect = `SELECT r.id, r.name, r.slug, COALESCE(r.description, ''), r.created_at, r.updated_at,
	COALESCE(array_agg(p.slug ORDER BY p.slug) FILTER (WHERE p.slug IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id`

// ScanRole scans a row produced by RoleSelect.
func ScanRole(row pgx.Row) (Role, error) {
	var (
		role  Role
		slug  string
		perms []string
	)
	if err := row.Scan(&role.ID, &role.Name, &slug, &role.Description, &role.CreatedAt, &role.UpdatedAt, &perms); err != nil {
		return Role{}, err
	}
	role.Slug = Slug(slug)
	role.Permissions = toSlugs(perms)
	return role, nil
}

// GetRole fetches a role with its permission slugs.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, RoleSelect+` WHERE r.id = $1 GROUP BY r.id`, id)
	role, err := ScanRole(row)
	if err != nil {
		return Role{}, StoreError("get role", err)
	}
	return role, nil
}

// GetUser fetches a user with direct grants and blocks.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	const query = `SELECT u.id, u.email, COALESCE(u.name, ''), u.role_id, u.is_active,
	COALESCE((SELECT array_agg(p.slug ORDER BY p.slug) FROM user_permission_grants g JOIN permissions p ON p.id = g.permission_id WHERE g.user_id = u.id), '{}'),
	COALESCE((SELECT array_agg(p.slug ORDER BY p.slug) FROM user_permission_blocks b JOIN permissions p ON p.id = b.permission_id WHERE b.user_id = u.id), '{}')
FROM users u WHERE u.id = $1`
	var (
		user           User
		grants, blocks []string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&user.ID, &user.Email, &user.Name, &user.RoleID, &user.IsActive, &grants, &blocks)
	if err != nil {
		return User{}, StoreError("get user", err)
	}
	user.DirectGrants = toSlugs(grants)
	user.DirectBlocks = toSlugs(blocks)
	return user, nil
}

// ListPermissions returns all permissions ordered by slug.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, slug, COALESCE(group_name, '') FROM permissions ORDER BY slug`)
	if err != nil {
		return nil, StoreError("list permissions", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var (
			p    Permission
			slug string
		)
		if err := rows.Scan(&p.ID, &p.Name, &slug, &p.GroupName); err != nil {
			return nil, StoreError("scan permission", err)
		}
		p.Slug = Slug(slug)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, StoreError("list permissions", err)
	}
	return perms, nil
}

// EnsurePermission upserts a permission definition keyed by slug.
func (r *Repository) EnsurePermission(ctx context.Context, p Permission) (Permission, error) {
	const query = `INSERT INTO permissions (name, slug, group_name) VALUES ($1, $2, $3)
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, group_name = EXCLUDED.group_name
RETURNING id, name, slug, COALESCE(group_name, '')`
	var (
		out  Permission
		slug string
	)
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(p.Name), string(p.Slug), strings.TrimSpace(p.GroupName)).
		Scan(&out.ID, &out.Name, &slug, &out.GroupName)
	if err != nil {
		return Permission{}, StoreError("ensure permission", err)
	}
	out.Slug = Slug(slug)
	return out, nil
}

// StoreError maps pgx.ErrNoRows to ErrNotFound and wraps anything else as
// ErrStoreUnavailable.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("rbac: %s: %w: %w", op, ErrStoreUnavailable, err)
}

func toSlugs(raw []string) []Slug {
	out := make([]Slug, len(raw))
	for i, s := range raw {
		out[i] = Slug(s)
	}
	return out
}

var _ Store = (*Repository)(nil)
