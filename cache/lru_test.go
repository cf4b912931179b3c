package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	t.Run("get and set", func(t *testing.T) {
		c := New[string](nil)

		c.Set("a", "alpha")

		v, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, "alpha", v)

		_, ok = c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := New[int](nil, func(o *Options) { o.MaxEntries = 3 })

		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("c", 3)

		// Touch a and c so b becomes the LRU entry.
		_, _ = c.Get("a")
		_, _ = c.Get("c")

		c.Set("d", 4)

		_, ok := c.Get("b")
		assert.False(t, ok, "least recently used entry should be evicted")

		for _, key := range []string{"a", "c", "d"} {
			_, ok := c.Get(key)
			assert.True(t, ok, "entry %s should survive", key)
		}
	})

	t.Run("set refreshes recency", func(t *testing.T) {
		c := New[int](nil, func(o *Options) { o.MaxEntries = 2 })

		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("a", 10) // a is now most recent
		c.Set("c", 3)  // evicts b

		_, ok := c.Get("b")
		assert.False(t, ok)

		v, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, 10, v)
	})

	t.Run("byte cap with batch eviction", func(t *testing.T) {
		c := New[string](func(v string) int64 { return int64(len(v)) }, func(o *Options) {
			o.MaxEntries = 0
			o.MaxBytes = 10
			o.EvictBatch = 2
		})

		c.Set("a", "aaaa")
		c.Set("b", "bbbb")
		c.Set("c", "cccc") // over budget: evicts a and b in one batch

		_, okA := c.Get("a")
		_, okB := c.Get("b")
		_, okC := c.Get("c")
		assert.False(t, okA)
		assert.False(t, okB)
		assert.True(t, okC)

		assert.Equal(t, uint64(2), c.Stats().Evictions)
	})

	t.Run("ttl expires entries", func(t *testing.T) {
		c := New[int](nil, func(o *Options) { o.TTL = time.Minute })

		now := time.Now()
		c.now = func() time.Time { return now }

		c.Set("a", 1)

		_, ok := c.Get("a")
		require.True(t, ok)

		now = now.Add(2 * time.Minute)

		_, ok = c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, uint64(1), c.Stats().Expirations)
	})

	t.Run("delete and purge", func(t *testing.T) {
		c := New[int](nil)

		c.Set("a", 1)
		c.Set("b", 2)

		assert.True(t, c.Delete("a"))
		assert.False(t, c.Delete("a"))

		c.Purge()
		assert.Zero(t, c.Len())
	})

	t.Run("stats hit rate", func(t *testing.T) {
		c := New[int](nil)

		c.Set("a", 1)
		_, _ = c.Get("a")
		_, _ = c.Get("a")
		_, _ = c.Get("missing")

		stats := c.Stats()
		assert.Equal(t, uint64(2), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
		assert.Equal(t, 1, stats.Entries)
	})
}

func TestSuggestCapacity(t *testing.T) {
	tests := []struct {
		name   string
		budget int64
		want   int
	}{
		{name: "below floor clamps to 512MiB", budget: 1 << 20, want: (512 << 20) / bytesPerEntry},
		{name: "above ceiling clamps to 4GiB", budget: 64 << 30, want: (4 << 30) / bytesPerEntry},
		{name: "in range", budget: 1 << 30, want: (1 << 30) / bytesPerEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestCapacity(tt.budget))
		})
	}
}

func BenchmarkLRUGet(b *testing.B) {
	c := New[int](nil, func(o *Options) { o.MaxEntries = 1024 })
	for i := 0; i < 1024; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get(fmt.Sprintf("key-%d", i%1024))
	}
}
