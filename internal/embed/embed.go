// Package embed defines the embedding and reranking boundaries. Both
// are external model services and are assumed to be the slow path; the
// store and fusion layers wrap them with timeouts and fallbacks.
package embed

import "context"

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts a batch of texts in one backend round trip.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding-model identifier, recorded on
	// ingested files for provenance.
	Model() string
}

// RankedDocument is one reranker output: the index of the document in
// the input slice plus its relevance score.
type RankedDocument struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker re-scores an oversampled candidate set against the raw
// query, correcting first-pass similarity ordering.
type Reranker interface {
	// Rerank returns the documents reordered by relevance to the
	// query, best first.
	Rerank(ctx context.Context, query string, documents []string) ([]RankedDocument, error)
}
