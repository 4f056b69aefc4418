package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder wraps an Embedder with an in-process ristretto cache
// keyed by text. Embedding the same chunk or query twice hits the cache
// instead of the model service.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache

	onHit  func()
	onMiss func()
}

// NewCachingEmbedder wraps inner with a cache bounded to roughly
// maxEntries embeddings. maxEntries <= 0 defaults to 4096.
func NewCachingEmbedder(inner Embedder, maxEntries int64) (*CachingEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

// Compile-time interface check.
var _ Embedder = (*CachingEmbedder)(nil)

// WithCounters attaches hit/miss callbacks, typically Prometheus
// counter Incs. Call before the embedder is shared across goroutines.
func (c *CachingEmbedder) WithCounters(onHit, onMiss func()) *CachingEmbedder {
	c.onHit = onHit
	c.onMiss = onMiss
	return c
}

func (c *CachingEmbedder) hit() {
	if c.onHit != nil {
		c.onHit()
	}
}

func (c *CachingEmbedder) miss() {
	if c.onMiss != nil {
		c.onMiss()
	}
}

// Embed returns the cached vector for text, or embeds and caches it.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			c.hit()
			return vec, nil
		}
	}
	c.miss()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries and batching only the
// misses to the inner embedder.
func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missIdx []int
	var misses []string

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			if vec, ok := v.([]float32); ok {
				result[i] = vec
				c.hit()
				continue
			}
		}
		missIdx = append(missIdx, i)
		misses = append(misses, t)
		c.miss()
	}

	if len(misses) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, misses)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(misses) {
			return nil, fmt.Errorf("embed: batch returned %d vectors for %d texts", len(vecs), len(misses))
		}
		for j, vec := range vecs {
			result[missIdx[j]] = vec
			c.cache.Set(misses[j], vec, 1)
		}
	}

	return result, nil
}

// Model returns the inner embedder's model identifier.
func (c *CachingEmbedder) Model() string {
	return c.inner.Model()
}

// Wait blocks until buffered writes have been applied. Mainly useful
// in tests; production reads tolerate in-flight writes.
func (c *CachingEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache's background goroutines.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}
