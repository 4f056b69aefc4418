// Package vector implements the semantic memory stores on top of
// chromem-go, an embedded pure-Go vector database. Each private owner
// gets its own collection; public memory shares a single collection.
// Collection names are derived deterministically from the owner key so
// the registry re-derives the same collection across restarts.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/ruochenliao/ai-training-course-sub000/internal/embed"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
)

// DefaultOversample is the multiple of the asked limit fetched from the
// backend to give the reranker headroom.
const DefaultOversample = 2

// PublicCollection is the shared collection name for public memory.
const PublicCollection = "public_memory"

// CollectionName derives the deterministic collection name for an owner
// scope. An empty userID means the shared public collection.
func CollectionName(userID string) string {
	if userID == "" {
		return PublicCollection
	}
	return "private_" + userID
}

// DB wraps the shared chromem database. The registry owns one DB for
// every vector store instance.
type DB struct {
	db *chromem.DB
}

// Open opens a persistent chromem database at path. An empty path opens
// an in-memory database (tests, ephemeral deployments).
func Open(path string) (*DB, error) {
	if path == "" {
		return &DB{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("vector: open %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Config holds the construction parameters for a Store.
type Config struct {
	Kind     memory.Kind // KindPrivate or KindPublic
	OwnerKey string      // user ID for private, "" for public
	Embedder embed.Embedder
	// Reranker is optional; nil skips the rerank step.
	Reranker embed.Reranker
	// Oversample is the candidate multiplier for reranking.
	// Zero means DefaultOversample.
	Oversample int
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Oversample <= 0 {
		c.Oversample = DefaultOversample
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Store is one semantic memory store bound to a single collection.
type Store struct {
	config     Config
	db         *DB
	collection string

	mu     sync.Mutex // guards lazy collection creation
	col    *chromem.Collection
	health memory.Health
	closed atomic.Bool
}

// New creates a Store over the shared DB. The collection is created
// lazily on first use.
func New(db *DB, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("vector: embedder is required")
	}
	return &Store{
		config:     cfg,
		db:         db,
		collection: CollectionName(cfg.OwnerKey),
	}, nil
}

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

func (s *Store) getCollection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col != nil {
		return s.col, nil
	}
	col, err := s.db.db.GetOrCreateCollection(s.collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: get collection %s: %w", s.collection, err)
	}
	s.col = col
	return col, nil
}

// Add embeds content via the external embedding model and upserts the
// resulting document. metadata is stored alongside for provenance.
func (s *Store) Add(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if s.closed.Load() {
		return "", memory.ErrStoreClosed
	}
	if strings.TrimSpace(content) == "" {
		return "", memory.ErrEmptyContent
	}
	s.health.Touch()

	embedding, err := s.config.Embedder.Embed(ctx, content)
	if err != nil {
		s.health.RecordError(err)
		return "", fmt.Errorf("vector: embed content: %w", err)
	}

	col, err := s.getCollection()
	if err != nil {
		s.health.RecordError(err)
		return "", fmt.Errorf("vector: %s: %w", s.collection, memory.ErrStorageUnavailable)
	}

	id := uuid.NewString()
	meta := map[string]string{
		"source":     string(s.config.Kind),
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		meta[k] = v
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  meta,
	})
	if err != nil {
		s.health.RecordError(err)
		return "", fmt.Errorf("vector: add document: %w", memory.ErrStorageUnavailable)
	}

	return id, nil
}

// AddBatch embeds and upserts a batch of contents sharing metadata in a
// single embedding round trip. Used by the ingestion pipeline.
func (s *Store) AddBatch(ctx context.Context, contents []string, metadata map[string]string) ([]string, error) {
	if s.closed.Load() {
		return nil, memory.ErrStoreClosed
	}
	if len(contents) == 0 {
		return nil, nil
	}
	s.health.Touch()

	embeddings, err := s.config.Embedder.EmbedBatch(ctx, contents)
	if err != nil {
		s.health.RecordError(err)
		return nil, fmt.Errorf("vector: embed batch: %w", err)
	}

	col, err := s.getCollection()
	if err != nil {
		s.health.RecordError(err)
		return nil, fmt.Errorf("vector: %s: %w", s.collection, memory.ErrStorageUnavailable)
	}

	ids := make([]string, len(contents))
	for i, content := range contents {
		id := uuid.NewString()
		meta := map[string]string{
			"source":     string(s.config.Kind),
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		}
		for k, v := range metadata {
			meta[k] = v
		}
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        id,
			Content:   content,
			Embedding: embeddings[i],
			Metadata:  meta,
		}); err != nil {
			s.health.RecordError(err)
			return nil, fmt.Errorf("vector: add document: %w", memory.ErrStorageUnavailable)
		}
		ids[i] = id
	}
	return ids, nil
}

// Query embeds the query text, fetches limit×oversample nearest
// neighbours, converts distance to similarity, optionally reranks, and
// returns the top limit. Backend or embedding failure yields a degraded
// empty result; rerank failure falls back to similarity ordering.
func (s *Store) Query(ctx context.Context, text string, limit int, opts memory.QueryOptions) (memory.QueryResult, error) {
	if s.closed.Load() {
		return memory.DegradedResult("store closed"), nil
	}
	if limit <= 0 || strings.TrimSpace(text) == "" {
		return memory.QueryResult{}, nil
	}
	s.health.Touch()
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	embedding, err := s.config.Embedder.Embed(ctx, text)
	if err != nil {
		s.health.RecordError(err)
		s.config.Logger.Warn("vector: query degraded (embed failed)",
			"collection", s.collection,
			"error", err,
		)
		return memory.DegradedResult(err.Error()), nil
	}

	col, err := s.getCollection()
	if err != nil {
		s.health.RecordError(err)
		return memory.DegradedResult(err.Error()), nil
	}

	// chromem rejects nResults > collection size.
	ask := limit * s.config.Oversample
	if count := col.Count(); ask > count {
		ask = count
	}
	if ask == 0 {
		return memory.QueryResult{QueryTime: time.Since(start)}, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, ask, nil, nil)
	if err != nil {
		s.health.RecordError(err)
		s.config.Logger.Warn("vector: query degraded (backend failed)",
			"collection", s.collection,
			"error", err,
		)
		return memory.DegradedResult(err.Error()), nil
	}

	items := make([]memory.Item, 0, len(results))
	for _, res := range results {
		item := memory.Item{
			ID:             res.ID,
			Content:        res.Content,
			Metadata:       res.Metadata,
			Embedding:      res.Embedding,
			RelevanceScore: similarityScore(res.Similarity),
		}
		if item.Metadata == nil {
			item.Metadata = map[string]string{"source": string(s.config.Kind)}
		}
		if ts := item.Metadata["created_at"]; ts != "" {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				item.CreatedAt = t
			}
		}
		items = append(items, item)
	}

	items = s.rerank(ctx, text, items)

	if opts.MinScore > 0 {
		filtered := items[:0]
		for _, item := range items {
			if item.RelevanceScore >= opts.MinScore {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if len(items) > limit {
		items = items[:limit]
	}

	return memory.QueryResult{
		Items:      items,
		TotalCount: len(items),
		QueryTime:  time.Since(start),
	}, nil
}

// rerank replaces the similarity ordering with the reranker's ordering.
// Any rerank failure falls back to the input ordering.
func (s *Store) rerank(ctx context.Context, query string, items []memory.Item) []memory.Item {
	if s.config.Reranker == nil || len(items) < 2 {
		return items
	}

	docs := make([]string, len(items))
	for i, item := range items {
		docs[i] = item.Content
	}

	ranked, err := s.config.Reranker.Rerank(ctx, query, docs)
	if err != nil || len(ranked) == 0 {
		if err != nil {
			s.config.Logger.Warn("vector: rerank failed, keeping similarity order",
				"collection", s.collection,
				"error", err,
			)
		}
		return items
	}

	out := make([]memory.Item, 0, len(ranked))
	for _, r := range ranked {
		item := items[r.Index]
		item.RelevanceScore = r.Score
		out = append(out, item)
	}
	return out
}

// Clear drops every document in the collection. With a session scope it
// is a no-op: vector memory is not session-partitioned.
func (s *Store) Clear(ctx context.Context, opts memory.ClearOptions) (bool, error) {
	if s.closed.Load() {
		return false, memory.ErrStoreClosed
	}
	if opts.SessionID != "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.db.DeleteCollection(s.collection); err != nil {
		s.health.RecordError(err)
		return false, fmt.Errorf("vector: clear %s: %w", s.collection, err)
	}
	s.col = nil
	s.config.Logger.Info("vector: collection cleared", "collection", s.collection)
	return true, nil
}

// HealthCheck reports the store's health snapshot.
func (s *Store) HealthCheck(_ context.Context) memory.HealthStatus {
	status := s.health.Snapshot(s.config.Kind, s.config.OwnerKey)
	if s.closed.Load() {
		status.Healthy = false
		return status
	}

	s.mu.Lock()
	col := s.col
	s.mu.Unlock()
	if col != nil {
		status.ItemCount = col.Count()
	}
	return status
}

// Close marks the instance closed. The shared chromem DB lives for the
// process; the registry drops its reference on shutdown. Idempotent.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// similarityScore converts the backend's cosine similarity into the
// final relevance score via the distance form 1/(1+distance), which
// also covers Euclidean backends reporting raw distances.
func similarityScore(cosine float32) float64 {
	distance := 1 - float64(cosine)
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}
