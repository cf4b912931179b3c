package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/tiermem/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(32)

	t.Run("deterministic", func(t *testing.T) {
		a, err := e.Embed(ctx, "same text")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "same text")
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Len(t, a, 32)
	})

	t.Run("different texts differ", func(t *testing.T) {
		a, err := e.Embed(ctx, "one")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "two")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("normalized output", func(t *testing.T) {
		v, err := e.Embed(ctx, "anything")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, metric.Magnitude(v), 1e-4)
	})

	t.Run("batch matches single", func(t *testing.T) {
		single, err := e.Embed(ctx, "batchable")
		require.NoError(t, err)

		batch, err := e.EmbedBatch(ctx, []string{"batchable"})
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, single, batch[0])
	})
}

// countingEmbedder counts provider calls behind the cache.
type countingEmbedder struct {
	*HashEmbedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated embed hits cache", func(t *testing.T) {
		inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
		c := NewCached(inner)

		for i := 0; i < 5; i++ {
			_, err := c.Embed(ctx, "hot text")
			require.NoError(t, err)
		}

		assert.Equal(t, int64(1), inner.calls.Load())
		assert.Equal(t, uint64(4), c.Stats().Hits)
	})

	t.Run("batch only embeds misses", func(t *testing.T) {
		inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
		c := NewCached(inner)

		_, err := c.Embed(ctx, "a")
		require.NoError(t, err)

		vectors, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)

		// "a" was cached, only "b" and "c" hit the provider.
		assert.Equal(t, int64(3), inner.calls.Load())
	})
}
