package auth

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// Repository is the storage the auth service needs: account lookup by email
// and the postgres record of login sessions.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository is the postgres Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository returns a PGRepository on pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userByEmail = `SELECT id, email, password_hash, role_id, is_active, created_at, updated_at
FROM users WHERE lower(email) = lower(@email)`

// FindByEmail matches email case-insensitively. A missing account is
// rbac.ErrNotFound.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	rows, err := r.pool.Query(ctx, userByEmail, pgx.NamedArgs{"email": email})
	if err != nil {
		return nil, rbac.StoreError("find user by email", err)
	}
	user, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[User])
	if err != nil {
		return nil, rbac.StoreError("find user by email", err)
	}
	return user, nil
}

// CreateSession records a login. Empty ip and user agent are stored as NULL.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES (@id, @user_id, NOW(), @expires_at, NULLIF(@ip, ''), NULLIF(@ua, ''))`, pgx.NamedArgs{
		"id":         id,
		"user_id":    userID,
		"expires_at": expiresAt.UTC(),
		"ip":         ip,
		"ua":         ua,
	})
	return rbac.StoreError("create session", err)
}

// DeleteSession removes the record of a login. Deleting an unknown id is not
// an error.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = @id`, pgx.NamedArgs{"id": id})
	return rbac.StoreError("delete session", err)
}
