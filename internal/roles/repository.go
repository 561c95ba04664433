package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles with their permission slugs.
func (r *Repository) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.pool.Query(ctx, rbac.RoleSelect+` GROUP BY r.id ORDER BY r.id`)
	if err != nil {
		return nil, rbac.StoreError("list roles", err)
	}
	defer rows.Close()
	var roles []rbac.Role
	for rows.Next() {
		role, err := rbac.ScanRole(rows)
		if err != nil {
			return nil, rbac.StoreError("scan role", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, rbac.StoreError("list roles", err)
	}
	return roles, nil
}

// GetRole fetches a role with its permission slugs.
func (r *Repository) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	role, err := rbac.ScanRole(r.pool.QueryRow(ctx, rbac.RoleSelect+` WHERE r.id = $1 GROUP BY r.id`, id))
	if err != nil {
		return rbac.Role{}, rbac.StoreError("get role", err)
	}
	return role, nil
}

// CreateRole inserts a role and its initial permissions in one transaction.
func (r *Repository) CreateRole(ctx context.Context, name string, slug rbac.Slug, description string, perms []rbac.Slug) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO roles (name, slug, description, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id`, name, string(slug), description).Scan(&id)
		if err != nil {
			return err
		}
		return insertRolePermissions(ctx, tx, id, perms)
	})
	if err != nil {
		return 0, writeError("create role", err)
	}
	return id, nil
}

// UpdateRole updates the plain fields of a role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`, id, name, description)
	if err != nil {
		return writeError("update role", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// ReplaceRolePermissions swaps the role's whole permission set inside one
// transaction. Readers see either the old or the new set.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []rbac.Slug) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if err := insertRolePermissions(ctx, tx, roleID, perms); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
		return err
	})
	if err != nil {
		return writeError("replace role permissions", err)
	}
	return nil
}

func insertRolePermissions(ctx context.Context, tx pgx.Tx, roleID int64, perms []rbac.Slug) error {
	if len(perms) == 0 {
		return nil
	}
	slugs := make([]string, len(perms))
	for i, p := range perms {
		slugs[i] = string(p)
	}
	tag, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, p.id FROM permissions p WHERE p.slug = ANY($2)
ON CONFLICT DO NOTHING`, roleID, slugs)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(slugs) {
		return fmt.Errorf("%w: %d of %d slugs matched", rbac.ErrUnknownPermission, tag.RowsAffected(), len(slugs))
	}
	return nil
}

func writeError(op string, err error) error {
	if errors.Is(err, rbac.ErrUnknownPermission) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return rbac.StoreError(op, err)
}

var _ RepositoryPort = (*Repository)(nil)
