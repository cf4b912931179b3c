// Package cache provides a strict LRU cache for hot records and query
// results. Eviction order is exactly least-recently-used, which keeps the
// behavior predictable under scan-heavy workloads.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Memory budget clamps for SuggestCapacity.
	minBudgetBytes = 512 << 20 // 512 MiB
	maxBudgetBytes = 4 << 30   // 4 GiB

	// Rough in-memory footprint of one cached record with its embedding.
	bytesPerEntry = 10 << 10
)

// SuggestCapacity derives an entry capacity from a memory budget. The budget
// is clamped to [512MiB, 4GiB] and divided by the estimated per-entry
// footprint.
func SuggestCapacity(budgetBytes int64) int {
	if budgetBytes < minBudgetBytes {
		budgetBytes = minBudgetBytes
	}
	if budgetBytes > maxBudgetBytes {
		budgetBytes = maxBudgetBytes
	}

	return int(budgetBytes / bytesPerEntry)
}

// Options represents the options for the LRU cache.
type Options struct {
	// MaxEntries caps the number of cached entries. Zero means no entry cap.
	MaxEntries int

	// MaxBytes caps the total cached bytes as reported by SizeOf.
	// Zero means no byte cap.
	MaxBytes int64

	// TTL expires entries this long after they were set. Zero disables
	// expiration.
	TTL time.Duration

	// EvictBatch evicts this many entries at once when a cap is exceeded,
	// amortizing eviction work under sustained pressure.
	EvictBatch int
}

// DefaultOptions holds the default cache options.
var DefaultOptions = Options{
	MaxEntries: 10000,
	EvictBatch: 1,
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Entries     int     `json:"entries"`
	Bytes       int64   `json:"bytes"`
	HitRate     float64 `json:"hit_rate"`
}

type lruEntry[V any] struct {
	key      string
	value    V
	size     int64
	expireAt time.Time // zero when TTL is disabled
}

// LRU is a strict least-recently-used cache with optional TTL.
// Safe for concurrent use.
type LRU[V any] struct {
	mu        sync.Mutex
	items     map[string]*list.Element
	evictList *list.List
	size      int64
	opts      Options
	sizeOf    func(V) int64
	now       func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// New creates an LRU cache. sizeOf reports the footprint of a value for the
// byte cap; pass nil when only the entry cap matters.
func New[V any](sizeOf func(V) int64, optFns ...func(o *Options)) *LRU[V] {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.EvictBatch < 1 {
		opts.EvictBatch = 1
	}

	if sizeOf == nil {
		sizeOf = func(V) int64 { return 0 }
	}

	return &LRU[V]{
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		opts:      opts,
		sizeOf:    sizeOf,
		now:       time.Now,
	}
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	ent := element.Value.(*lruEntry[V])
	if !ent.expireAt.IsZero() && c.now().After(ent.expireAt) {
		c.removeElement(element)
		c.expirations.Add(1)
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	c.evictList.MoveToFront(element)

	return ent.value, true
}

// Set caches a value, replacing any existing entry for the key.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeOf(value)

	var expireAt time.Time
	if c.opts.TTL > 0 {
		expireAt = c.now().Add(c.opts.TTL)
	}

	if element, ok := c.items[key]; ok {
		ent := element.Value.(*lruEntry[V])
		c.size += size - ent.size
		ent.value = value
		ent.size = size
		ent.expireAt = expireAt
		c.evictList.MoveToFront(element)
		c.enforceCaps()
		return
	}

	ent := &lruEntry[V]{key: key, value: value, size: size, expireAt: expireAt}
	c.items[key] = c.evictList.PushFront(ent)
	c.size += size

	c.enforceCaps()
}

// Delete removes an entry. Returns true if it was present.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(element)

	return true
}

// Purge removes all entries. Counters are preserved.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.size = 0
}

// Len returns the number of cached entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Stats returns a snapshot of the cache counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.items)
	bytes := c.size
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Entries:     entries,
		Bytes:       bytes,
		HitRate:     hitRate,
	}
}

// enforceCaps evicts in batches until both caps hold. Caller must hold the
// lock.
func (c *LRU[V]) enforceCaps() {
	over := func() bool {
		if c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries {
			return true
		}
		if c.opts.MaxBytes > 0 && c.size > c.opts.MaxBytes {
			return true
		}
		return false
	}

	for over() {
		for i := 0; i < c.opts.EvictBatch; i++ {
			element := c.evictList.Back()
			if element == nil {
				return
			}
			c.removeElement(element)
			c.evictions.Add(1)
		}
	}
}

func (c *LRU[V]) removeElement(element *list.Element) {
	ent := element.Value.(*lruEntry[V])
	delete(c.items, ent.key)
	c.evictList.Remove(element)
	c.size -= ent.size
}
