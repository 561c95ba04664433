package users

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

const userSelect = `SELECT u.id, u.email, COALESCE(u.name, ''), u.role_id, r.slug, u.is_active,
	COALESCE((SELECT array_agg(p.slug ORDER BY p.slug) FROM user_permission_grants g JOIN permissions p ON p.id = g.permission_id WHERE g.user_id = u.id), '{}'),
	COALESCE((SELECT array_agg(p.slug ORDER BY p.slug) FROM user_permission_blocks b JOIN permissions p ON p.id = b.permission_id WHERE b.user_id = u.id), '{}'),
	u.created_at, u.updated_at
FROM users u JOIN roles r ON r.id = u.role_id`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.RoleID, &user.RoleSlug, &user.IsActive,
		&user.Grants, &user.Blocks, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, userSelect+` ORDER BY u.id`)
	if err != nil {
		return nil, rbac.StoreError("list users", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, rbac.StoreError("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, rbac.StoreError("list users", err)
	}
	return users, nil
}

// GetUser fetches one user with overrides.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
	if err != nil {
		return User{}, rbac.StoreError("get user", err)
	}
	return user, nil
}

// ReplaceOverrides swaps the user's direct grants and blocks in one
// transaction.
func (r *Repository) ReplaceOverrides(ctx context.Context, userID int64, grants, blocks []rbac.Slug) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permission_grants WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permission_blocks WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if err := insertOverrides(ctx, tx, "user_permission_grants", userID, grants); err != nil {
			return err
		}
		if err := insertOverrides(ctx, tx, "user_permission_blocks", userID, blocks); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE users SET updated_at = NOW() WHERE id = $1`, userID)
		return err
	})
	if err != nil {
		return writeError("replace overrides", err)
	}
	return nil
}

// AssignRole moves the user to roleID.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, userID, roleID)
	if err != nil {
		return writeError("assign role", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// UpdateProfile updates the self-service fields.
func (r *Repository) UpdateProfile(ctx context.Context, userID int64, name string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET name = $2, updated_at = NOW() WHERE id = $1`, userID, name)
	if err != nil {
		return writeError("update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func insertOverrides(ctx context.Context, tx pgx.Tx, table string, userID int64, perms []rbac.Slug) error {
	if len(perms) == 0 {
		return nil
	}
	slugs := make([]string, len(perms))
	for i, p := range perms {
		slugs[i] = string(p)
	}
	// table is one of two constants chosen by ReplaceOverrides
	tag, err := tx.Exec(ctx, `INSERT INTO `+table+` (user_id, permission_id)
SELECT $1, p.id FROM permissions p WHERE p.slug = ANY($2)
ON CONFLICT DO NOTHING`, userID, slugs)
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
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: referenced role", rbac.ErrNotFound)
	}
	return rbac.StoreError(op, err)
}

var _ RepositoryPort = (*Repository)(nil)
