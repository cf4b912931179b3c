package embed

import (
	"context"

	"github.com/hupe1980/tiermem/cache"
)

// Compile-time check
var _ Embedder = (*Cached)(nil)

// Cached wraps an Embedder with an LRU cache keyed by text, so repeated
// embeddings of the same content skip the provider.
type Cached struct {
	inner Embedder
	lru   *cache.LRU[[]float32]
}

// NewCached wraps the embedder with a cache.
func NewCached(inner Embedder, optFns ...func(o *cache.Options)) *Cached {
	sizeOf := func(v []float32) int64 { return int64(len(v)) * 4 }

	return &Cached{
		inner: inner,
		lru:   cache.New(sizeOf, optFns...),
	}
}

// Embed returns the cached embedding or falls through to the provider.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lru.Get(text); ok {
		return v, nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Set(text, v)

	return v, nil
}

// EmbedBatch embeds all texts, serving cached entries and batching only the
// misses to the provider.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var missIdx []int
	var misses []string

	for i, text := range texts {
		if v, ok := c.lru.Get(text); ok {
			vectors[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		misses = append(misses, text)
	}

	if len(misses) == 0 {
		return vectors, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		vectors[i] = embedded[j]
		c.lru.Set(misses[j], embedded[j])
	}

	return vectors, nil
}

// Dimension returns the dimensionality of embedding vectors.
func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Model returns the name of the underlying embedding model.
func (c *Cached) Model() string { return c.inner.Model() }

// Stats returns the cache counters.
func (c *Cached) Stats() cache.Stats { return c.lru.Stats() }
