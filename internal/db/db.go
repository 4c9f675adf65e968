// Package db provides the SQLite connection and schema for pollsync.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database. The schema is created by EnsureSchema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{db}, nil
}

// EnsureSchema creates all required tables. It is idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	// Resource tracking - one row per (tenant, resource_id), upserted every run
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS resource_tracking (
			tenant TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			marker TEXT NOT NULL,
			last_event_time INTEGER NOT NULL,
			retrieved_at INTEGER,
			retry_count INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			extensions TEXT,
			last_failure TEXT NOT NULL DEFAULT '',
			banned_until INTEGER,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (tenant, resource_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tracking_banned ON resource_tracking(tenant, banned_until) WHERE banned_until IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create resource_tracking table: %w", err)
	}

	// Event ledger - append-only history of runs and per-resource outcomes
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			tenant TEXT NOT NULL,
			run_id TEXT NOT NULL,
			resource_id TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_run ON event_ledger(run_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_resource ON event_ledger(tenant, resource_id, timestamp) WHERE resource_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
