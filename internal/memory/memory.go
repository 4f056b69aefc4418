// Package memory defines the uniform storage contract shared by the
// conversation, private, and public memory stores, plus the value types
// that travel through fusion.
package memory

import (
	"context"
	"time"
)

// Kind identifies one of the three concrete store families.
type Kind string

// Store kinds.
const (
	KindConversation Kind = "conversation"
	KindPrivate      Kind = "private"
	KindPublic       Kind = "public"
)

// Item is a single stored memory record. Immutable once written except
// for lifecycle metadata updates performed by the owning store.
type Item struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Embedding      []float32         `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	RelevanceScore float64           `json:"relevance_score,omitempty"`
}

// QueryResult is an ordered result set from a single store. Items are
// pre-sorted by relevance, highest first.
type QueryResult struct {
	Items      []Item            `json:"items"`
	TotalCount int               `json:"total_count"`
	QueryTime  time.Duration     `json:"query_time"`
	Degraded   bool              `json:"degraded,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DegradedResult builds the empty result a store returns when its
// backend is unreachable: fusion proceeds on the remaining sources
// instead of failing wholesale.
func DegradedResult(reason string) QueryResult {
	return QueryResult{
		Degraded: true,
		Metadata: map[string]string{"degraded": "true", "reason": reason},
	}
}

// QueryMode selects how a store interprets the query text.
type QueryMode string

// Query modes. Not every store supports every mode; unsupported modes
// fall back to the store's default.
const (
	// ModeRelevance ranks by lexical or semantic similarity to the query.
	ModeRelevance QueryMode = "relevance"
	// ModeRecent ignores the query text and returns the newest entries.
	ModeRecent QueryMode = "recent"
)

// QueryOptions tunes a single Query call.
type QueryOptions struct {
	Mode QueryMode
	// Timeout bounds the backend call. Zero means the store default.
	Timeout time.Duration
	// MinScore drops items scoring below the threshold.
	MinScore float64
}

// ClearOptions scopes a destructive Clear call. Zero value clears
// everything the store owns.
type ClearOptions struct {
	SessionID string
	OlderThan time.Duration
}

// HealthStatus is a point-in-time snapshot of a store's health.
type HealthStatus struct {
	Healthy      bool      `json:"healthy"`
	Kind         Kind      `json:"kind"`
	OwnerKey     string    `json:"owner_key"`
	ItemCount    int       `json:"item_count"`
	ErrorCount   int64     `json:"error_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Store is the uniform contract implemented by the conversation store
// and both vector stores. Implementations must be safe for concurrent
// use; Add and Query may run in parallel on the same instance.
type Store interface {
	// Add persists one item and returns its generated ID.
	// Returns ErrStorageUnavailable when the backend is unreachable.
	Add(ctx context.Context, content string, metadata map[string]string) (string, error)

	// Query returns up to limit items ranked by relevance. On backend
	// failure it returns a degraded empty result, not an error, so a
	// single dead source never fails fusion wholesale.
	Query(ctx context.Context, text string, limit int, opts QueryOptions) (QueryResult, error)

	// Clear removes items in the given scope. Destructive and logged.
	Clear(ctx context.Context, opts ClearOptions) (bool, error)

	// HealthCheck reports the store's current health snapshot.
	HealthCheck(ctx context.Context) HealthStatus

	// Close releases backend handles. Idempotent.
	Close() error
}
