package tiermem

import (
	"time"

	"github.com/hupe1980/tiermem/blobstore"
	"github.com/hupe1980/tiermem/embed"
	"github.com/hupe1980/tiermem/health"
	"github.com/hupe1980/tiermem/index/hnsw"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/metrics"
	"github.com/hupe1980/tiermem/model"
	"github.com/hupe1980/tiermem/promotion"
)

// Options represents the options for Memory.
type Options struct {
	// Embedder turns text into vectors for StoreText and SearchText.
	// Nil restricts the API to vector operations.
	Embedder embed.Embedder

	// EmbedCacheEntries bounds the embedding cache in front of the
	// embedder. Zero disables the cache.
	EmbedCacheEntries int

	// LedgerFor supplies the durable backing store for each tier.
	// Defaults to an in-memory ledger per tier.
	LedgerFor func(tier model.Tier) (ledger.Ledger, error)

	// IndexOptions tunes the ANN graph shared by all tiers.
	IndexOptions []func(o *hnsw.Options)

	// RecordCacheEntries bounds the per-tier hot record cache.
	// Zero disables it.
	RecordCacheEntries int

	// BlobStore holds tier snapshots. Nil disables Snapshot/Restore.
	BlobStore blobstore.BlobStore

	// Promotion tunes the promotion engine.
	Promotion []func(o *promotion.Options)

	// PromotionInterval enables the background promotion loop when
	// positive. Zero leaves cycles caller-driven via RunPromotionCycle.
	PromotionInterval time.Duration

	// Metrics collects operation metrics. Defaults to a fresh
	// metrics.Basic collector.
	Metrics metrics.Collector

	// Health monitors component health. Defaults to a fresh monitor.
	Health *health.Monitor

	// Logger for structured logging. Defaults to NoopLogger.
	Logger *Logger
}

// Option configures Memory.
type Option func(o *Options)

// WithEmbedder sets the embedding provider used by text operations.
func WithEmbedder(embedder embed.Embedder) Option {
	return func(o *Options) {
		o.Embedder = embedder
	}
}

// WithEmbedCache bounds the embedding cache entry count.
func WithEmbedCache(entries int) Option {
	return func(o *Options) {
		o.EmbedCacheEntries = entries
	}
}

// WithLedger supplies the durable backing store per tier.
func WithLedger(fn func(tier model.Tier) (ledger.Ledger, error)) Option {
	return func(o *Options) {
		o.LedgerFor = fn
	}
}

// WithIndexOptions tunes the ANN index for all tiers.
func WithIndexOptions(optFns ...func(o *hnsw.Options)) Option {
	return func(o *Options) {
		o.IndexOptions = append(o.IndexOptions, optFns...)
	}
}

// WithRecordCache bounds the per-tier hot record cache entry count.
func WithRecordCache(entries int) Option {
	return func(o *Options) {
		o.RecordCacheEntries = entries
	}
}

// WithBlobStore enables tier snapshots against the given store.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *Options) {
		o.BlobStore = store
	}
}

// WithPromotion tunes the promotion engine.
func WithPromotion(optFns ...func(o *promotion.Options)) Option {
	return func(o *Options) {
		o.Promotion = append(o.Promotion, optFns...)
	}
}

// WithPromotionInterval enables the background promotion loop.
func WithPromotionInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PromotionInterval = interval
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(o *Options) {
		o.Metrics = collector
	}
}

// WithHealthMonitor sets the health monitor.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(o *Options) {
		o.Health = monitor
	}
}

// WithLogger sets the logger.
func WithLogger(logger *Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
