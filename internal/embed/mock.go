package embed

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// MockEmbedder generates deterministic embeddings from a text hash.
// Identical text always yields the identical unit vector, which is all
// the recall tests need; there is no semantic structure.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder creates a mock embedder with the given dimensions.
// dims <= 0 defaults to 384.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dims: dims}
}

// Compile-time interface check.
var _ Embedder = (*MockEmbedder)(nil)

// Embed creates a deterministic unit vector from the text hash.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text independently.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Model returns the mock model identifier.
func (m *MockEmbedder) Model() string {
	return "mock-embedder"
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// MockReranker scores documents by query-term overlap. Deterministic
// and offline, for tests exercising the rerank path.
type MockReranker struct{}

// Compile-time interface check.
var _ Reranker = (*MockReranker)(nil)

// Rerank orders documents by the fraction of query terms they contain.
func (MockReranker) Rerank(_ context.Context, query string, documents []string) ([]RankedDocument, error) {
	terms := strings.Fields(strings.ToLower(query))
	out := make([]RankedDocument, len(documents))
	for i, doc := range documents {
		lower := strings.ToLower(doc)
		var hits int
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		score := 0.0
		if len(terms) > 0 {
			score = float64(hits) / float64(len(terms))
		}
		out[i] = RankedDocument{Index: i, Score: score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
