package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []migration{
	{
		Version: "000001_create_shares",
		SQL: `
			CREATE TABLE IF NOT EXISTS shares (
				id                VARCHAR(64)  PRIMARY KEY,
				file_count        INTEGER      NOT NULL,
				total_size        BIGINT       NOT NULL,
				one_time_download BOOLEAN      NOT NULL DEFAULT FALSE,
				created_at        TIMESTAMPTZ  NOT NULL,
				expires_at        TIMESTAMPTZ  NOT NULL,
				download_count    INTEGER      NOT NULL DEFAULT 0,
				destroyed_at      TIMESTAMPTZ,
				destroy_reason    VARCHAR(32)
			);
			CREATE INDEX IF NOT EXISTS idx_shares_destroyed_at ON shares(destroyed_at);
			CREATE INDEX IF NOT EXISTS idx_shares_expires_at ON shares(expires_at);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
// It backs the optional share ledger; the service runs without it.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to ledger database")
	return &DB{Pool: pool}, nil
}

type migration struct {
	Version string
	SQL     string
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.applyMigration(ctx, m)
		if err != nil {
			return err
		}
		if applied {
			slog.Info("applied migration", "version", m.Version)
		}
	}
	return nil
}

// applyMigration runs one migration in a transaction unless it is already
// recorded. It reports whether anything was applied.
func (db *DB) applyMigration(ctx context.Context, m migration) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
		m.Version,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return false, fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", m.Version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
	}
	return true, nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
