package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
)

// searchCandidateLimit bounds how many recent turns a lexical search
// scores in memory. Conversation recall favours recency, so older turns
// beyond this window are not considered.
const searchCandidateLimit = 500

// substringBonus is added to the Jaccard score when the query appears
// verbatim in the content.
const substringBonus = 0.5

// Store is a conversation-history store scoped to one (user, session)
// pair. All instances share the DB handle owned by the registry.
type Store struct {
	db        *DB
	userID    string
	sessionID string
	logger    *slog.Logger
	health    memory.Health
	closed    atomic.Bool
}

// New creates a Store for the given owner scope.
func New(db *DB, userID, sessionID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:        db,
		userID:    userID,
		sessionID: sessionID,
		logger:    logger,
	}
}

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Add appends one turn to the session log. metadata["role"] identifies
// the author; missing role defaults to "user". Turns are never mutated
// after creation.
func (s *Store) Add(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if s.closed.Load() {
		return "", memory.ErrStoreClosed
	}
	if strings.TrimSpace(content) == "" {
		return "", memory.ErrEmptyContent
	}
	s.health.Touch()

	role := metadata["role"]
	if role == "" {
		role = "user"
	}

	metaJSON := []byte("{}")
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("conversation: marshal metadata: %w", err)
		}
	}

	id := uuid.NewString()
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO conversation_turns (id, user_id, session_id, seq, role, content, metadata)
		VALUES (?, ?, ?,
		        COALESCE((SELECT MAX(seq) FROM conversation_turns WHERE user_id = ? AND session_id = ?), 0) + 1,
		        ?, ?, ?)`,
		id, s.userID, s.sessionID,
		s.userID, s.sessionID,
		role, content, string(metaJSON),
	)
	if err != nil {
		s.health.RecordError(err)
		return "", fmt.Errorf("conversation: append turn: %w", memory.ErrStorageUnavailable)
	}

	return id, nil
}

// Query returns turns from the session. ModeRecent returns the newest
// limit turns; ModeRelevance scores turns by Jaccard term overlap with
// the query plus an exact-substring bonus, ties broken by recency.
// Backend failure yields a degraded empty result, never an error.
func (s *Store) Query(ctx context.Context, text string, limit int, opts memory.QueryOptions) (memory.QueryResult, error) {
	if s.closed.Load() {
		return memory.DegradedResult("store closed"), nil
	}
	if limit <= 0 {
		return memory.QueryResult{}, nil
	}
	s.health.Touch()
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		items []memory.Item
		err   error
	)
	if opts.Mode == memory.ModeRecent || strings.TrimSpace(text) == "" {
		items, err = s.recent(ctx, limit)
	} else {
		items, err = s.search(ctx, text, limit, opts.MinScore)
	}
	if err != nil {
		s.health.RecordError(err)
		s.logger.Warn("conversation: query degraded",
			"user", s.userID,
			"session", s.sessionID,
			"error", err,
		)
		return memory.DegradedResult(err.Error()), nil
	}

	return memory.QueryResult{
		Items:      items,
		TotalCount: len(items),
		QueryTime:  time.Since(start),
	}, nil
}

// recent returns the newest limit turns, newest first.
func (s *Store) recent(ctx context.Context, limit int) ([]memory.Item, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, role, content, metadata, created_at
		FROM conversation_turns
		WHERE user_id = ? AND session_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		s.userID, s.sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTurns(rows)
}

// search scores the most recent turns by lexical overlap with the query.
func (s *Store) search(ctx context.Context, query string, limit int, minScore float64) ([]memory.Item, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, role, content, metadata, created_at
		FROM conversation_turns
		WHERE user_id = ? AND session_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		s.userID, s.sessionID, searchCandidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	queryTerms := tokenize(query)
	queryLower := strings.ToLower(query)

	var scored []memory.Item
	for _, item := range candidates {
		score := jaccard(queryTerms, tokenize(item.Content))
		if strings.Contains(strings.ToLower(item.Content), queryLower) {
			score += substringBonus
		}
		if score <= 0 || score < minScore {
			continue
		}
		item.RelevanceScore = score
		scored = append(scored, item)
	}

	// Candidates arrive newest first, so a stable sort by score keeps
	// recency as the tie-breaker.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Clear removes turns in the given scope. An explicit session purge is
// the only sanctioned way to delete conversation entries.
func (s *Store) Clear(ctx context.Context, opts memory.ClearOptions) (bool, error) {
	if s.closed.Load() {
		return false, memory.ErrStoreClosed
	}

	q := "DELETE FROM conversation_turns WHERE user_id = ?"
	args := []any{s.userID}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = s.sessionID
	}
	if sessionID != "" {
		q += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if opts.OlderThan > 0 {
		cutoff := time.Now().UTC().Add(-opts.OlderThan)
		q += " AND created_at < ?"
		args = append(args, cutoff.Format("2006-01-02T15:04:05.000Z"))
	}

	result, err := s.db.Conn().ExecContext(ctx, q, args...)
	if err != nil {
		s.health.RecordError(err)
		return false, fmt.Errorf("conversation: clear: %w", err)
	}

	n, _ := result.RowsAffected()
	s.logger.Info("conversation: cleared turns",
		"user", s.userID,
		"session", sessionID,
		"deleted", n,
	)
	return n > 0, nil
}

// HealthCheck reports the store's health snapshot.
func (s *Store) HealthCheck(ctx context.Context) memory.HealthStatus {
	status := s.health.Snapshot(memory.KindConversation, s.userID+"/"+s.sessionID)
	if s.closed.Load() {
		status.Healthy = false
		return status
	}

	var count int
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_turns WHERE user_id = ? AND session_id = ?",
		s.userID, s.sessionID,
	).Scan(&count)
	if err != nil {
		status.Healthy = false
		status.LastError = err.Error()
		return status
	}
	status.ItemCount = count
	return status
}

// Close marks the instance closed. The shared DB handle is owned by the
// registry and closed there. Idempotent.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// tokenize lowercases s and splits it into a term set on anything that
// is not a letter or digit, in any script.
func tokenize(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		terms[f] = struct{}{}
	}
	return terms
}

// jaccard computes |a∩b| / |a∪b| for two term sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var inter int
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func scanTurns(rows *sql.Rows) ([]memory.Item, error) {
	var items []memory.Item
	for rows.Next() {
		var (
			item         memory.Item
			role         string
			metaJSON     string
			createdAtStr string
		)
		if err := rows.Scan(&item.ID, &role, &item.Content, &metaJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}

		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &item.Metadata); err != nil {
				return nil, fmt.Errorf("conversation: unmarshal metadata: %w", err)
			}
		}
		if item.Metadata == nil {
			item.Metadata = make(map[string]string, 2)
		}
		item.Metadata["role"] = role
		item.Metadata["source"] = string(memory.KindConversation)

		if createdAtStr != "" {
			t, err := time.Parse(time.RFC3339Nano, createdAtStr)
			if err != nil {
				return nil, fmt.Errorf("conversation: parse created_at %q: %w", createdAtStr, err)
			}
			item.CreatedAt = t
			item.UpdatedAt = t
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: scan rows: %w", err)
	}
	return items, nil
}
