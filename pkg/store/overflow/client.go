// Package overflow provides the intake service's local overflow log: a
// small, insert-only Postgres table recording notifications dropped because
// the dispatcher's bounded channel was full (§4.E). Unlike the five
// analytical-store tables, this is genuine relational bookkeeping local to a
// single intake pod, so it is backed by Postgres rather than the BigQuery
// adapter.
package overflow

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds the overflow log's Postgres connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Client wraps the overflow log's database connection.
type Client struct {
	db *sql.DB
}

// DB returns the underlying connection pool, for health checks.
func (c *Client) DB() *sql.DB {
	return c.db
}

// NewClient opens a connection pool against cfg.DSN, applies pending
// migrations, and returns a ready-to-use Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("overflow: open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("overflow: ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("overflow: run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "overflow", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the migration source driver, not m — m.Close() would close
	// the shared *sql.DB passed via postgres.WithInstance().
	return sourceDriver.Close()
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Insert records a dropped notification. Called fire-and-forget by the
// intake handler when the dispatcher channel is full — it never blocks the
// HTTP response and its error is only logged.
func (c *Client) Insert(ctx context.Context, eventID, reason string, receivedAt time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO overflow_log (event_id, received_at, reason) VALUES ($1, $2, $3)`,
		eventID, receivedAt, reason)
	if err != nil {
		return fmt.Errorf("insert overflow log entry: %w", err)
	}
	return nil
}

// Count returns the number of recorded overflow entries, for tests and
// operational inspection.
func (c *Client) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM overflow_log`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overflow log entries: %w", err)
	}
	return n, nil
}
