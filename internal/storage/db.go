// Package storage owns the SQLite-backed persistence layer: items,
// settings, interactions, and the learning engine's behavior events,
// training examples, replay reservoir, and model state. Adapted from
// joestump-claude-ops/internal/db/db.go: same WAL + SetMaxOpenConns(1) +
// goose-embedded-migrations bootstrap, new domain tables and CRUD.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps the single SQLite connection backing the whole core.
type DB struct {
	conn *sql.DB
}

// Open creates a new DB connection at path and applies all pending
// migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: apply migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error { return d.conn.Close() }

// Conn returns the underlying *sql.DB.
func (d *DB) Conn() *sql.DB { return d.conn }
