package postgres

import (
	"context"
	"database/sql"

	"github.com/freeflowhq/billing-engine/internal/config"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	_ "github.com/lib/pq"
)

type txKey struct{}

// IClient is the transactional surface the sweep entry points run through:
// one transaction per entity, with a try-lock so concurrent engine instances
// skip entities another instance is already working. The concrete Client
// opens real transactions; tests substitute an in-memory runner.
type IClient interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	TryLockKey(ctx context.Context, key string) (bool, error)
}

// Client wraps a database/sql pool with transaction helpers. Repositories run
// their statements through ExecerContext so the same code works inside and
// outside a transaction.
type Client struct {
	db     *sql.DB
	logger *logger.Logger
}

// ExecerContext is the subset of database operations repositories need
type ExecerContext interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewClient opens a connection pool against the configured DSN
func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to open postgres connection").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	return &Client{db: db, logger: log}, nil
}

// Querier returns the transaction bound to the context if one exists,
// otherwise the pool.
func (c *Client) Querier(ctx context.Context) ExecerContext {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.db
}

// TxFromContext returns the transaction carried by the context, if any
func (c *Client) TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. Nested calls reuse the outer transaction.
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Errorw("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// Close closes the underlying pool
func (c *Client) Close() error {
	return c.db.Close()
}
