// Package knowledge persists knowledge-base and knowledge-file
// metadata: the file lifecycle the ingestion pipeline drives and the
// chunking parameters it reads.
package knowledge

import "time"

// FileStatus is a knowledge file's lifecycle state.
type FileStatus string

// File lifecycle states. A failed file may be retried back to pending.
const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// Scope controls who can read a knowledge base's content.
type Scope string

// Access scopes.
const (
	ScopePrivate Scope = "private"
	ScopePublic  Scope = "public"
)

// Base is a knowledge base: a named container of files sharing chunking
// parameters and an embedding model. Soft-deleted, never hard-deleted
// while children exist.
type Base struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OwnerID        string    `json:"owner_id"` // empty for public bases
	Scope          Scope     `json:"scope"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	EmbeddingModel string    `json:"embedding_model"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// File is one uploaded file tracked through ingestion.
type File struct {
	ID              string     `json:"id"`
	KnowledgeBaseID string     `json:"knowledge_base_id"`
	Path            string     `json:"path"`
	Size            int64      `json:"size"`
	Hash            string     `json:"hash"`
	Status          FileStatus `json:"status"`
	ChunkCount      int        `json:"chunk_count"`
	EmbeddingModel  string     `json:"embedding_model,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ProcessedAt     time.Time  `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
