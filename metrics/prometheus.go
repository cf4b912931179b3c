package metrics

import (
	"fmt"
	"io"
	"sort"
)

// WritePrometheus writes the current metrics in the Prometheus text
// exposition format. It keeps the module free of a client library
// dependency while staying scrapeable.
func (b *Basic) WritePrometheus(w io.Writer) error {
	s := b.GetSnapshot()

	counter := func(name, help string, value uint64) error {
		_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
		return err
	}
	gauge := func(name, help string, value float64) error {
		_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, value)
		return err
	}
	summary := func(name, help string, l LatencySnapshot) error {
		_, err := fmt.Fprintf(w,
			"# HELP %s %s\n# TYPE %s summary\n%s{quantile=\"0.5\"} %g\n%s{quantile=\"0.9\"} %g\n%s{quantile=\"0.99\"} %g\n%s_sum %g\n%s_count %d\n",
			name, help, name,
			name, l.P50Ms, name, l.P90Ms, name, l.P99Ms,
			name, l.SumMs, name, l.Count)
		return err
	}

	if err := counter("memory_vector_searches_total", "Total number of vector searches", s.VectorSearches); err != nil {
		return err
	}
	if err := counter("memory_vector_inserts_total", "Total number of vector inserts", s.VectorInserts); err != nil {
		return err
	}
	if err := counter("memory_vector_deletes_total", "Total number of vector deletes", s.VectorDeletes); err != nil {
		return err
	}
	if err := summary("memory_vector_search_latency_ms", "Vector search latency in milliseconds", s.SearchLatencyMs); err != nil {
		return err
	}
	if err := summary("memory_vector_insert_latency_ms", "Vector insert latency in milliseconds", s.InsertLatencyMs); err != nil {
		return err
	}

	if err := counter("memory_cache_hits_total", "Total number of cache hits", s.CacheHits); err != nil {
		return err
	}
	if err := counter("memory_cache_misses_total", "Total number of cache misses", s.CacheMisses); err != nil {
		return err
	}
	if err := counter("memory_cache_evictions_total", "Total number of cache evictions", s.CacheEvictions); err != nil {
		return err
	}
	if err := gauge("memory_cache_hit_rate", "Cache hit rate", s.CacheHitRate); err != nil {
		return err
	}

	if err := counter("memory_promotions_interact_to_insights_total", "Records promoted from interact to insights", s.PromotionsInteractToInsights); err != nil {
		return err
	}
	if err := counter("memory_promotions_insights_to_assets_total", "Records promoted from insights to assets", s.PromotionsInsightsToAssets); err != nil {
		return err
	}
	if err := counter("memory_records_expired_total", "Records dropped by expiration", s.RecordsExpired); err != nil {
		return err
	}
	if err := summary("memory_promotion_cycle_duration_ms", "Promotion cycle duration in milliseconds", s.PromotionCycleMs); err != nil {
		return err
	}

	if err := counter("memory_full_resyncs_total", "Full index rebuilds", s.FullResyncs); err != nil {
		return err
	}
	if err := counter("memory_incremental_resyncs_total", "Incremental index resyncs", s.IncrementalResyncs); err != nil {
		return err
	}
	if err := counter("memory_resync_errors_total", "Failed resync attempts", s.ResyncErrors); err != nil {
		return err
	}

	tiers := make([]string, 0, len(s.TierStats))
	for tier := range s.TierStats {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	if len(tiers) > 0 {
		if _, err := fmt.Fprintf(w, "# HELP memory_tier_records Number of records per tier\n# TYPE memory_tier_records gauge\n"); err != nil {
			return err
		}
		for _, tier := range tiers {
			if _, err := fmt.Fprintf(w, "memory_tier_records{tier=%q} %d\n", tier, s.TierStats[tier].RecordCount); err != nil {
				return err
			}
		}
	}

	if err := gauge("memory_uptime_seconds", "Uptime in seconds", float64(s.UptimeSeconds)); err != nil {
		return err
	}
	if err := counter("memory_operations_total", "Total operations", s.TotalOperations); err != nil {
		return err
	}

	return counter("memory_errors_total", "Total operation errors", s.ErrorCount)
}
