// Package metrics collects operational counters and latency distributions
// for the memory subsystem.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tiermem/model"
)

// Collector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type Collector interface {
	// RecordSearch is called after each vector search.
	RecordSearch(duration time.Duration, err error)

	// RecordInsert is called after each record store.
	RecordInsert(duration time.Duration, err error)

	// RecordDelete is called after each record delete.
	RecordDelete(err error)

	// RecordCacheHit and RecordCacheMiss track cache effectiveness.
	RecordCacheHit()
	RecordCacheMiss()

	// RecordCacheEviction adds to the eviction counter.
	RecordCacheEviction(count uint64)

	// RecordPromotion counts records moved between two adjacent tiers.
	RecordPromotion(from, to model.Tier, count uint64)

	// RecordExpired counts records dropped by expiration.
	RecordExpired(count uint64)

	// RecordPromotionCycle is called after each full promotion cycle.
	RecordPromotionCycle(duration time.Duration)

	// RecordResync is called after a tier resync attempt.
	RecordResync(tier model.Tier, full bool, duration time.Duration, err error)

	// UpdateTierStats replaces the gauge values for one tier.
	UpdateTierStats(tier model.Tier, stats TierStats)
}

// TierStats are gauge values describing one tier.
type TierStats struct {
	RecordCount    uint64  `json:"record_count"`
	IndexedCount   uint64  `json:"indexed_count"`
	AvgAccessCount float64 `json:"avg_access_count"`
	OldestAgeHours float64 `json:"oldest_record_age_hours"`
}

// Noop is a no-op implementation of Collector.
// Use this when metrics collection is not needed.
type Noop struct{}

func (Noop) RecordSearch(time.Duration, error)                   {}
func (Noop) RecordInsert(time.Duration, error)                   {}
func (Noop) RecordDelete(error)                                  {}
func (Noop) RecordCacheHit()                                     {}
func (Noop) RecordCacheMiss()                                    {}
func (Noop) RecordCacheEviction(uint64)                          {}
func (Noop) RecordPromotion(model.Tier, model.Tier, uint64)      {}
func (Noop) RecordExpired(uint64)                                {}
func (Noop) RecordPromotionCycle(time.Duration)                  {}
func (Noop) RecordResync(model.Tier, bool, time.Duration, error) {}
func (Noop) UpdateTierStats(model.Tier, TierStats)               {}

// Snapshot is a point-in-time view of all collected metrics.
type Snapshot struct {
	VectorSearches  uint64          `json:"vector_searches"`
	VectorInserts   uint64          `json:"vector_inserts"`
	VectorDeletes   uint64          `json:"vector_deletes"`
	SearchLatencyMs LatencySnapshot `json:"vector_search_latency_ms"`
	InsertLatencyMs LatencySnapshot `json:"vector_insert_latency_ms"`

	CacheHits      uint64  `json:"cache_hits"`
	CacheMisses    uint64  `json:"cache_misses"`
	CacheEvictions uint64  `json:"cache_evictions"`
	CacheHitRate   float64 `json:"cache_hit_rate"`

	PromotionsInteractToInsights uint64          `json:"promotions_interact_to_insights"`
	PromotionsInsightsToAssets   uint64          `json:"promotions_insights_to_assets"`
	RecordsExpired               uint64          `json:"records_expired"`
	PromotionCycleMs             LatencySnapshot `json:"promotion_cycle_duration_ms"`

	FullResyncs        uint64 `json:"full_resyncs"`
	IncrementalResyncs uint64 `json:"incremental_resyncs"`
	ResyncErrors       uint64 `json:"resync_errors"`

	TierStats map[string]TierStats `json:"tier_stats"`

	UptimeSeconds   uint64 `json:"uptime_seconds"`
	TotalOperations uint64 `json:"total_operations"`
	ErrorCount      uint64 `json:"error_count"`
}

// Compile-time check
var _ Collector = (*Basic)(nil)

// Basic provides in-memory metrics collection with a Prometheus-style text
// exposition. Useful for debugging and basic monitoring without external
// dependencies.
type Basic struct {
	searches atomic.Uint64
	inserts  atomic.Uint64
	deletes  atomic.Uint64

	searchLatency Latency
	insertLatency Latency

	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64
	cacheEvictions atomic.Uint64

	promotedToInsights atomic.Uint64
	promotedToAssets   atomic.Uint64
	expired            atomic.Uint64
	promotionCycle     Latency

	fullResyncs        atomic.Uint64
	incrementalResyncs atomic.Uint64
	resyncErrors       atomic.Uint64

	errorCount atomic.Uint64

	tierMu    sync.Mutex
	tierStats map[string]TierStats

	startTime time.Time
}

// NewBasic creates a Basic metrics collector.
func NewBasic() *Basic {
	return &Basic{
		tierStats: make(map[string]TierStats),
		startTime: time.Now(),
	}
}

// RecordSearch implements Collector.
func (b *Basic) RecordSearch(duration time.Duration, err error) {
	b.searches.Add(1)
	b.searchLatency.Record(duration)
	if err != nil {
		b.errorCount.Add(1)
	}
}

// RecordInsert implements Collector.
func (b *Basic) RecordInsert(duration time.Duration, err error) {
	b.inserts.Add(1)
	b.insertLatency.Record(duration)
	if err != nil {
		b.errorCount.Add(1)
	}
}

// RecordDelete implements Collector.
func (b *Basic) RecordDelete(err error) {
	b.deletes.Add(1)
	if err != nil {
		b.errorCount.Add(1)
	}
}

// RecordCacheHit implements Collector.
func (b *Basic) RecordCacheHit() { b.cacheHits.Add(1) }

// RecordCacheMiss implements Collector.
func (b *Basic) RecordCacheMiss() { b.cacheMisses.Add(1) }

// RecordCacheEviction implements Collector.
func (b *Basic) RecordCacheEviction(count uint64) { b.cacheEvictions.Add(count) }

// RecordPromotion implements Collector.
func (b *Basic) RecordPromotion(from, to model.Tier, count uint64) {
	switch {
	case from == model.TierInteract && to == model.TierInsights:
		b.promotedToInsights.Add(count)
	case from == model.TierInsights && to == model.TierAssets:
		b.promotedToAssets.Add(count)
	}
}

// RecordExpired implements Collector.
func (b *Basic) RecordExpired(count uint64) { b.expired.Add(count) }

// RecordPromotionCycle implements Collector.
func (b *Basic) RecordPromotionCycle(duration time.Duration) {
	b.promotionCycle.Record(duration)
}

// RecordResync implements Collector.
func (b *Basic) RecordResync(_ model.Tier, full bool, _ time.Duration, err error) {
	if err != nil {
		b.resyncErrors.Add(1)
		return
	}
	if full {
		b.fullResyncs.Add(1)
	} else {
		b.incrementalResyncs.Add(1)
	}
}

// UpdateTierStats implements Collector.
func (b *Basic) UpdateTierStats(tier model.Tier, stats TierStats) {
	b.tierMu.Lock()
	defer b.tierMu.Unlock()

	b.tierStats[tier.String()] = stats
}

// GetSnapshot returns a snapshot of current metrics.
func (b *Basic) GetSnapshot() Snapshot {
	hits := b.cacheHits.Load()
	misses := b.cacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	b.tierMu.Lock()
	tiers := make(map[string]TierStats, len(b.tierStats))
	for k, v := range b.tierStats {
		tiers[k] = v
	}
	b.tierMu.Unlock()

	searches := b.searches.Load()
	inserts := b.inserts.Load()
	deletes := b.deletes.Load()

	return Snapshot{
		VectorSearches:  searches,
		VectorInserts:   inserts,
		VectorDeletes:   deletes,
		SearchLatencyMs: b.searchLatency.Snapshot(),
		InsertLatencyMs: b.insertLatency.Snapshot(),

		CacheHits:      hits,
		CacheMisses:    misses,
		CacheEvictions: b.cacheEvictions.Load(),
		CacheHitRate:   hitRate,

		PromotionsInteractToInsights: b.promotedToInsights.Load(),
		PromotionsInsightsToAssets:   b.promotedToAssets.Load(),
		RecordsExpired:               b.expired.Load(),
		PromotionCycleMs:             b.promotionCycle.Snapshot(),

		FullResyncs:        b.fullResyncs.Load(),
		IncrementalResyncs: b.incrementalResyncs.Load(),
		ResyncErrors:       b.resyncErrors.Load(),

		TierStats: tiers,

		UptimeSeconds:   uint64(time.Since(b.startTime).Seconds()),
		TotalOperations: searches + inserts + deletes,
		ErrorCount:      b.errorCount.Load(),
	}
}
