// Package registry owns the lifecycle of memory store instances: lazy
// singleton creation per owner scope, idle eviction, aggregated health
// checks, and shutdown.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruochenliao/ai-training-course-sub000/internal/embed"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/conversation"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/vector"
)

// publicOwnerKey keys the single shared public store instance.
const publicOwnerKey = "public"

// Config holds the registry's shared backends and tuning.
type Config struct {
	ConversationDB *conversation.DB
	VectorDB       *vector.DB
	Embedder       embed.Embedder
	// Reranker is optional; nil disables reranking on vector stores.
	Reranker   embed.Reranker
	Oversample int
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// instanceKey identifies one cached store instance.
type instanceKey struct {
	kind     memory.Kind
	ownerKey string
}

// entry tracks a live store instance and its lifecycle timestamps.
type entry struct {
	store        memory.Store
	createdAt    time.Time
	lastAccessed time.Time
}

// Registry caches one store instance per (kind, owner-key) tuple,
// created lazily on first request. Internally synchronized; safe for
// concurrent use.
type Registry struct {
	config Config

	mu        sync.Mutex
	instances map[instanceKey]*entry
	closed    bool
}

// New creates a Registry.
func New(cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	if cfg.ConversationDB == nil {
		return nil, fmt.Errorf("registry: conversation DB is required")
	}
	if cfg.VectorDB == nil {
		return nil, fmt.Errorf("registry: vector DB is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("registry: embedder is required")
	}
	return &Registry{
		config:    cfg,
		instances: make(map[instanceKey]*entry),
	}, nil
}

// ErrRegistryClosed indicates the registry has been shut down.
var ErrRegistryClosed = errors.New("registry: closed")

// Conversation returns the conversation store for (userID, sessionID),
// creating it on first request.
func (r *Registry) Conversation(userID, sessionID string) (memory.Store, error) {
	return r.get(memory.KindConversation, userID+"/"+sessionID, func() (memory.Store, error) {
		return conversation.New(r.config.ConversationDB, userID, sessionID, r.config.Logger), nil
	})
}

// Private returns the per-user private vector store.
func (r *Registry) Private(userID string) (memory.Store, error) {
	return r.get(memory.KindPrivate, userID, func() (memory.Store, error) {
		return vector.New(r.config.VectorDB, vector.Config{
			Kind:       memory.KindPrivate,
			OwnerKey:   userID,
			Embedder:   r.config.Embedder,
			Reranker:   r.config.Reranker,
			Oversample: r.config.Oversample,
			Logger:     r.config.Logger,
		})
	})
}

// Public returns the shared public vector store.
func (r *Registry) Public() (memory.Store, error) {
	return r.get(memory.KindPublic, publicOwnerKey, func() (memory.Store, error) {
		return vector.New(r.config.VectorDB, vector.Config{
			Kind:       memory.KindPublic,
			OwnerKey:   "",
			Embedder:   r.config.Embedder,
			Reranker:   r.config.Reranker,
			Oversample: r.config.Oversample,
			Logger:     r.config.Logger,
		})
	})
}

func (r *Registry) get(kind memory.Kind, ownerKey string, build func() (memory.Store, error)) (memory.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	key := instanceKey{kind: kind, ownerKey: ownerKey}
	if e, ok := r.instances[key]; ok {
		e.lastAccessed = time.Now()
		return e.store, nil
	}

	store, err := build()
	if err != nil {
		return nil, fmt.Errorf("registry: create %s store for %q: %w", kind, ownerKey, err)
	}

	now := time.Now()
	r.instances[key] = &entry{store: store, createdAt: now, lastAccessed: now}
	r.config.Logger.Debug("registry: store created", "kind", kind, "owner", ownerKey)
	return store, nil
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// CleanupIdle closes and evicts instances untouched for longer than
// maxIdle. Returns the number of evicted instances.
func (r *Registry) CleanupIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	var evicted int
	for key, e := range r.instances {
		if e.lastAccessed.After(cutoff) {
			continue
		}
		if err := e.store.Close(); err != nil {
			r.config.Logger.Warn("registry: close during idle cleanup failed",
				"kind", key.kind,
				"owner", key.ownerKey,
				"error", err,
			)
		}
		delete(r.instances, key)
		evicted++
	}

	if evicted > 0 {
		r.config.Logger.Info("registry: evicted idle stores", "count", evicted)
	}
	return evicted
}

// AggregateHealth is the registry-wide health report.
type AggregateHealth struct {
	Status    string                `json:"status"` // "ok" or "degraded"
	Instances []memory.HealthStatus `json:"instances"`
}

// HealthCheckAll aggregates every live instance's health snapshot. The
// registry reports degraded if any instance is unhealthy or has
// recorded errors.
func (r *Registry) HealthCheckAll(ctx context.Context) AggregateHealth {
	r.mu.Lock()
	stores := make([]memory.Store, 0, len(r.instances))
	for _, e := range r.instances {
		stores = append(stores, e.store)
	}
	r.mu.Unlock()

	report := AggregateHealth{Status: "ok"}
	for _, s := range stores {
		status := s.HealthCheck(ctx)
		if !status.Healthy || status.ErrorCount > 0 {
			report.Status = "degraded"
		}
		report.Instances = append(report.Instances, status)
	}
	return report
}

// CloseAll closes every live instance and the shared backends,
// collecting failures instead of stopping at the first. Idempotent.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for key, e := range r.instances {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("registry: close %s/%s: %w", key.kind, key.ownerKey, err))
		}
	}
	r.instances = make(map[instanceKey]*entry)

	if err := r.config.ConversationDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("registry: close conversation db: %w", err))
	}

	r.config.Logger.Info("registry: closed", "errors", len(errs))
	return errors.Join(errs...)
}
