// Package conversation implements the relational conversation-history
// store: an append-only per-session turn log with recency listing and
// cheap lexical search. Backed by modernc.org/sqlite (pure Go, no CGO)
// with WAL mode.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000

// DB wraps the shared SQLite handle. All conversation store instances
// created by the registry share one DB; the registry closes it on
// shutdown.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the conversation database at path and
// migrates the schema. SQLite serialises writes, so the pool is limited
// to a single connection.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("conversation: create directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("conversation: open %s: %w", path, err)
	}

	conn.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("conversation: enable WAL: %w", err)
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("conversation: set busy_timeout: %w", err)
	}

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying *sql.DB.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.conn.Close()
}
