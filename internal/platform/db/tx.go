package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// txAttempts caps how often a transaction aborted by a deadlock or a
// serialization failure is replayed.
const txAttempts = 2

// WithTx runs fn in a read-committed transaction. Writers that replace a set
// of rows lock the owning row with SELECT ... FOR UPDATE first, so concurrent
// replaces queue up and the last one to commit wins. fn may run more than
// once and must not keep state outside the transaction.
func WithTx(ctx context.Context, conn TxBeginner, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, conn, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
		if !Retryable(err) {
			break
		}
	}
	if err != nil && Retryable(err) {
		return fmt.Errorf("platform/db: tx aborted after %d attempts: %w", txAttempts, err)
	}
	return err
}

// Retryable reports whether err is a deadlock or serialization failure.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
