package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	defaultBusyTimeout = 5000

	// maxErrorLength bounds the error message recorded on a failed
	// file so a pathological extractor error cannot bloat the row.
	maxErrorLength = 500
)

// Store provides access to knowledge metadata in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the knowledge database at path and
// migrates the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("knowledge: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("knowledge: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("knowledge: set busy_timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Bases ----

// CreateBase persists a new knowledge base and returns it with its
// generated ID and defaults applied.
func (s *Store) CreateBase(ctx context.Context, base Base) (Base, error) {
	if base.ID == "" {
		base.ID = uuid.NewString()
	}
	if base.Scope == "" {
		base.Scope = ScopePrivate
	}
	if base.ChunkSize <= 0 {
		base.ChunkSize = 1000
	}
	if base.ChunkOverlap < 0 {
		base.ChunkOverlap = 0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_bases (id, name, owner_id, scope, chunk_size, chunk_overlap, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		base.ID, base.Name, base.OwnerID, string(base.Scope),
		base.ChunkSize, base.ChunkOverlap, base.EmbeddingModel,
	)
	if err != nil {
		return Base{}, fmt.Errorf("knowledge: create base: %w", err)
	}
	return base, nil
}

// GetBase returns a knowledge base by ID. Soft-deleted bases are not
// visible.
func (s *Store) GetBase(ctx context.Context, id string) (Base, error) {
	var (
		base      Base
		scope     string
		isDeleted int
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, scope, chunk_size, chunk_overlap, embedding_model, is_deleted, created_at, updated_at
		FROM knowledge_bases
		WHERE id = ? AND is_deleted = 0`,
		id,
	).Scan(&base.ID, &base.Name, &base.OwnerID, &scope,
		&base.ChunkSize, &base.ChunkOverlap, &base.EmbeddingModel,
		&isDeleted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Base{}, ErrBaseNotFound
	}
	if err != nil {
		return Base{}, fmt.Errorf("knowledge: get base: %w", err)
	}

	base.Scope = Scope(scope)
	base.IsDeleted = isDeleted != 0
	base.CreatedAt = parseTime(createdAt)
	base.UpdatedAt = parseTime(updatedAt)
	return base, nil
}

// SoftDeleteBase marks a base deleted. The row and its files remain; a
// base is never hard-deleted while children exist.
func (s *Store) SoftDeleteBase(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_bases
		SET is_deleted = 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND is_deleted = 0`,
		id,
	)
	if err != nil {
		return fmt.Errorf("knowledge: soft delete base: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrBaseNotFound
	}
	s.logger.Info("knowledge: base soft-deleted", "base", id)
	return nil
}

// PurgeBase hard-deletes a base row, soft-deleted or not. Refused with
// ErrBaseHasFiles while the base still owns file records; delete those
// first. The chunks a purged base produced are owned by the target
// store and cleared separately.
func (s *Store) PurgeBase(ctx context.Context, id string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM knowledge_files WHERE knowledge_base_id = ?", id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("knowledge: purge base: count files: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d remaining", ErrBaseHasFiles, count)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_bases WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("knowledge: purge base: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrBaseNotFound
	}
	s.logger.Info("knowledge: base purged", "base", id)
	return nil
}

// ---- Files ----

// CreateFile records a new upload in status pending. Two uploads with
// the same hash in one base are rejected with ErrDuplicateFile.
func (s *Store) CreateFile(ctx context.Context, file File) (File, error) {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	file.Status = StatusPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_files (id, knowledge_base_id, path, size, hash, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		file.ID, file.KnowledgeBaseID, file.Path, file.Size, file.Hash, string(file.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return File{}, ErrDuplicateFile
		}
		return File{}, fmt.Errorf("knowledge: create file: %w", err)
	}
	return file, nil
}

// GetFile returns a file by ID.
func (s *Store) GetFile(ctx context.Context, id string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, knowledge_base_id, path, size, hash, status, chunk_count, embedding_model, error_message, processed_at, created_at, updated_at
		FROM knowledge_files
		WHERE id = ?`,
		id,
	)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrFileNotFound
	}
	return file, err
}

// ListFiles returns all files of a knowledge base, newest first.
func (s *Store) ListFiles(ctx context.Context, baseID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, knowledge_base_id, path, size, hash, status, chunk_count, embedding_model, error_message, processed_at, created_at, updated_at
		FROM knowledge_files
		WHERE knowledge_base_id = ?
		ORDER BY created_at DESC`,
		baseID,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge: list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// DeleteFile removes a file record.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("knowledge: delete file: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrFileNotFound
	}
	s.logger.Info("knowledge: file deleted", "file", id)
	return nil
}

// ClaimFile transitions a file from pending to processing. The
// compare-and-set guarantees a file is claimed by exactly one worker.
func (s *Store) ClaimFile(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusPending, StatusProcessing)
}

// MarkCompleted finishes a file with its chunk count and the embedding
// model used, and stamps processed_at.
func (s *Store) MarkCompleted(ctx context.Context, id string, chunkCount int, embeddingModel string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_files
		SET status = ?, chunk_count = ?, embedding_model = ?, error_message = '',
		    processed_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND status = ?`,
		string(StatusCompleted), chunkCount, embeddingModel, id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("knowledge: mark completed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotClaimable
	}
	return nil
}

// MarkFailed records a terminal failure with a truncated error message.
// chunk_count is reset to zero: a failed file produced nothing durable.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_files
		SET status = ?, chunk_count = 0, error_message = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`,
		string(StatusFailed), truncateError(message), id,
	)
	if err != nil {
		return fmt.Errorf("knowledge: mark failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrFileNotFound
	}
	return nil
}

// RetryFile transitions a failed file back to pending so it can be
// re-enqueued.
func (s *Store) RetryFile(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusFailed, StatusPending)
}

// FailStuck re-marks files stuck in processing for longer than maxAge
// as failed, recovering from crashed workers. Returns the number of
// recovered files.
func (s *Store) FailStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format("2006-01-02T15:04:05.000Z")
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_files
		SET status = ?, chunk_count = 0, error_message = 'processing timeout',
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE status = ? AND updated_at < ?`,
		string(StatusFailed), string(StatusProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("knowledge: fail stuck: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Warn("knowledge: recovered stuck files", "count", n)
	}
	return int(n), nil
}

// transition performs a compare-and-set status change.
func (s *Store) transition(ctx context.Context, id string, from, to FileStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_files
		SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("knowledge: transition %s->%s: %w", from, to, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotClaimable
	}
	return nil
}

// ---- Helpers ----

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanFile(sc scanner) (File, error) {
	var (
		file        File
		status      string
		processedAt string
		createdAt   string
		updatedAt   string
	)
	err := sc.Scan(&file.ID, &file.KnowledgeBaseID, &file.Path, &file.Size, &file.Hash,
		&status, &file.ChunkCount, &file.EmbeddingModel, &file.ErrorMessage,
		&processedAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, err
		}
		return File{}, fmt.Errorf("knowledge: scan file: %w", err)
	}

	file.Status = FileStatus(status)
	file.ProcessedAt = parseTime(processedAt)
	file.CreatedAt = parseTime(createdAt)
	file.UpdatedAt = parseTime(updatedAt)
	return file, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
