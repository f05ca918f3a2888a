// Package storage provides the PostgreSQL persistence layer: the shared
// connection pool, the job store, the entity stores imports and exports move
// data through, and the import error journal.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// PostgreSQL driver, registered for database/sql.
	_ "github.com/lib/pq"
)

const healthCheckTimeout = 5 * time.Second

// Sentinel errors for connection management.
var (
	// ErrNoDatabaseConnection is returned when a store is built without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrConnectionUnhealthy is returned when the database does not answer a ping.
	ErrConnectionUnhealthy = errors.New("database connection unhealthy")
)

// Connection wraps *sql.DB with pool configuration applied. Stores share one
// Connection; closing it is the owner's responsibility.
type Connection struct {
	db *sql.DB
}

// NewConnection opens a PostgreSQL connection pool from the config and
// verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionUnhealthy, err)
	}

	return &Connection{db: db}, nil
}

// NewConnectionFromDB wraps an already-open *sql.DB. Used by tests that manage
// their own container lifecycle.
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// QueryContext runs a query returning rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement returning no rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// DB exposes the underlying pool for migrations and test setup.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// HealthCheck verifies the pool answers a ping within the health timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionUnhealthy, err)
	}

	return nil
}

// Close closes the underlying pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// querier is the subset of query methods shared by *sql.Tx and *Connection,
// letting upserts run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
