// Package store owns durable storage. Every service mutation runs inside
// a unit of work: one pgx transaction that either commits all repository
// writes or rolls back all of them. No service talks to the pool directly.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx satisfied by both the pool and a
// transaction. Repository helpers accept a Querier so they work either
// inside or outside a unit of work.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps the connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the raw pool for read-only paths that need no transaction.
func (s *Store) Pool() Querier { return s.pool }

// Migrate applies the idempotent schema DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

// UnitOfWork is a single transaction. It satisfies Querier, so repository
// helpers called with it observe the transaction's own prior writes.
type UnitOfWork struct {
	tx pgx.Tx
}

func (u *UnitOfWork) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return u.tx.Exec(ctx, sql, args...)
}

func (u *UnitOfWork) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return u.tx.Query(ctx, sql, args...)
}

func (u *UnitOfWork) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return u.tx.QueryRow(ctx, sql, args...)
}

// WithinTx runs fn inside a transaction. A nil return commits; any error
// or panic rolls everything back. Panics are re-raised after rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(&UnitOfWork{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SoftDelete marks a row deleted. The flag and the timestamp are set in a
// single UPDATE; callers must never set is_deleted by hand.
func SoftDelete(ctx context.Context, q Querier, table, id string) error {
	tag, err := q.Exec(ctx,
		`UPDATE `+table+` SET is_deleted = TRUE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND NOT is_deleted`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: soft delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return asPgError(err, &pgErr) && pgErr.Code == "23505"
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if e, ok := err.(*pgconn.PgError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
