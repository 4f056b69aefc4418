package knowledge

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id              TEXT PRIMARY KEY,
		name            TEXT    NOT NULL,
		owner_id        TEXT    NOT NULL DEFAULT '',
		scope           TEXT    NOT NULL DEFAULT 'private',
		chunk_size      INTEGER NOT NULL DEFAULT 1000,
		chunk_overlap   INTEGER NOT NULL DEFAULT 100,
		embedding_model TEXT    NOT NULL DEFAULT '',
		is_deleted      INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at      TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS knowledge_files (
		id                TEXT PRIMARY KEY,
		knowledge_base_id TEXT    NOT NULL REFERENCES knowledge_bases(id),
		path              TEXT    NOT NULL,
		size              INTEGER NOT NULL DEFAULT 0,
		hash              TEXT    NOT NULL,
		status            TEXT    NOT NULL DEFAULT 'pending',
		chunk_count       INTEGER NOT NULL DEFAULT 0,
		embedding_model   TEXT    NOT NULL DEFAULT '',
		error_message     TEXT    NOT NULL DEFAULT '',
		processed_at      TEXT    NOT NULL DEFAULT '',
		created_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		UNIQUE (knowledge_base_id, hash)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_files_status ON knowledge_files(status, updated_at)`,
}

// migrate creates or updates the database schema to the latest version.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("knowledge: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("knowledge: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("knowledge: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("knowledge: record schema version: %w", err)
	}

	return nil
}
