// Package tiermem provides a tiered vector memory engine for AI agents.
//
// Content is stored as embedding vectors and searched by approximate cosine
// similarity. Records live in one of three ordered retention tiers
// (Interact, Insights, Assets) and move forward between them based on
// relevance, usage and age:
//
//   - Interact: short-lived working memory, every new record starts here
//   - Insights: medium-term memory for records that proved useful
//   - Assets: long-term memory, records here never expire
//
// Each tier pairs a durable key-value ledger with an in-memory HNSW graph.
// The ledger is the source of truth: writes go to the ledger first, and a
// tier whose index lags behind is repaired by resync, never by failing
// reads.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	mem, err := tiermem.New(384,
//	    tiermem.WithEmbedder(myEmbedder),
//	    tiermem.WithPromotionInterval(time.Hour),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer mem.Close()
//
//	record, err := mem.StoreText(ctx, "the deploy pipeline uses blue-green rollouts")
//
//	results, err := mem.SearchText(ctx, "how do we deploy?", 5)
//	for _, r := range results {
//	    fmt.Println(r.Record.Content, r.Similarity)
//	}
//
// Durable deployments supply a ledger per tier, for example the file-backed
// append log:
//
//	mem, err := tiermem.New(384,
//	    tiermem.WithLedger(func(tier model.Tier) (ledger.Ledger, error) {
//	        return file.Open(filepath.Join(dir, tier.String()+".ledger"))
//	    }),
//	)
package tiermem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/tiermem/cache"
	"github.com/hupe1980/tiermem/embed"
	"github.com/hupe1980/tiermem/health"
	"github.com/hupe1980/tiermem/index"
	"github.com/hupe1980/tiermem/index/hnsw"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/metrics"
	"github.com/hupe1980/tiermem/model"
	"github.com/hupe1980/tiermem/promotion"
	"github.com/hupe1980/tiermem/store"
	"golang.org/x/sync/errgroup"
)

// Memory is the tiered vector memory engine. It owns one VectorStore per
// tier, the promotion engine that moves records between them, and the
// shared metrics and health machinery.
//
// All methods are safe for concurrent use.
type Memory struct {
	dimension int
	stores    map[model.Tier]*store.VectorStore
	embedder  embed.Embedder
	engine    *promotion.Engine
	metrics   metrics.Collector
	health    *health.Monitor
	logger    *Logger

	cancelLoop context.CancelFunc
	closed     atomic.Bool
}

// New creates a Memory for vectors of the given dimension.
//
// Without options it runs fully in memory: map ledgers, no embedder, no
// background promotion. See the With* options for durable ledgers, text
// operations and background cycles.
func New(dimension int, optFns ...Option) (*Memory, error) {
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewBasic()
	}
	if opts.Health == nil {
		opts.Health = health.NewMonitor()
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.LedgerFor == nil {
		opts.LedgerFor = func(model.Tier) (ledger.Ledger, error) {
			return ledger.NewMapLedger(), nil
		}
	}

	embedder := opts.Embedder
	if embedder != nil && opts.EmbedCacheEntries > 0 {
		embedder = embed.NewCached(embedder, func(o *cache.Options) {
			o.MaxEntries = opts.EmbedCacheEntries
		})
	}

	if embedder != nil && embedder.Dimension() != dimension {
		return nil, &index.ErrDimensionMismatch{Expected: dimension, Actual: embedder.Dimension()}
	}

	stores := make(map[model.Tier]*store.VectorStore, len(model.Tiers))

	for _, tier := range model.Tiers {
		led, err := opts.LedgerFor(tier)
		if err != nil {
			return nil, fmt.Errorf("open ledger for tier %s: %w", tier, err)
		}

		var recordCache *cache.LRU[*model.Record]
		if opts.RecordCacheEntries > 0 {
			recordCache = cache.New(func(r *model.Record) int64 {
				return int64(len(r.Content) + 4*len(r.Embedding))
			}, func(o *cache.Options) {
				o.MaxEntries = opts.RecordCacheEntries
			})
		}

		stores[tier] = store.New(tier, hnsw.New(dimension, opts.IndexOptions...), led, func(o *store.Options) {
			o.Cache = recordCache
			o.Metrics = opts.Metrics
			o.Health = opts.Health
			o.Logger = opts.Logger.WithTier(tier).Logger
			o.BlobStore = opts.BlobStore
		})
	}

	engine, err := promotion.New(stores, func(o *promotion.Options) {
		o.Metrics = opts.Metrics
		o.Health = opts.Health
		o.Logger = opts.Logger.Logger

		if opts.PromotionInterval > 0 {
			o.Interval = opts.PromotionInterval
		}

		for _, fn := range opts.Promotion {
			fn(o)
		}
	})
	if err != nil {
		return nil, err
	}

	m := &Memory{
		dimension: dimension,
		stores:    stores,
		embedder:  embedder,
		engine:    engine,
		metrics:   opts.Metrics,
		health:    opts.Health,
		logger:    opts.Logger,
	}

	if opts.PromotionInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		m.cancelLoop = cancel
		engine.Start(loopCtx)
	}

	return m, nil
}

// Dimension returns the configured vector dimension.
func (m *Memory) Dimension() int { return m.dimension }

// Tier returns the store backing one tier, for tier-scoped operations like
// snapshots and resync.
func (m *Memory) Tier(tier model.Tier) *store.VectorStore {
	return m.stores[tier]
}

// Store writes a record into the tier named by record.Tier.
func (m *Memory) Store(ctx context.Context, record *model.Record) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if record.Embedding == nil {
		return store.ErrNoEmbedding
	}

	if len(record.Embedding) != m.dimension {
		return &index.ErrDimensionMismatch{Expected: m.dimension, Actual: len(record.Embedding)}
	}

	s, ok := m.stores[record.Tier]
	if !ok {
		return fmt.Errorf("unknown tier %d", record.Tier)
	}

	err := translateError(s.Store(ctx, record))
	m.logger.LogStore(ctx, record.ID, record.Tier, err)

	return err
}

// StoreText embeds the content and stores it as a fresh record in the
// interact tier. The optional record functions run before the write, for
// setting tags, project or an initial score.
func (m *Memory) StoreText(ctx context.Context, content string, recordFns ...func(r *model.Record)) (*model.Record, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	if m.embedder == nil {
		return nil, ErrNoEmbedder
	}

	vector, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	record := model.NewRecord(content, vector)

	for _, fn := range recordFns {
		fn(record)
	}

	if err := m.Store(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// Result pairs a record with its query similarity.
type Result = store.Result

// Search runs an approximate similarity search across all tiers and
// returns up to k records ordered by descending similarity.
func (m *Memory) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	if len(query) != m.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: m.dimension, Actual: len(query)}
	}

	g, gctx := errgroup.WithContext(ctx)

	perTier := make([][]Result, len(model.Tiers))

	for i, tier := range model.Tiers {
		s := m.stores[tier]

		g.Go(func() error {
			results, err := s.Search(gctx, query, k)
			if err != nil {
				return fmt.Errorf("search tier %s: %w", s.Tier(), err)
			}

			perTier[i] = results

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.LogSearch(ctx, k, 0, err)
		return nil, translateError(err)
	}

	merged := make([]Result, 0, k*len(perTier))
	for _, results := range perTier {
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})

	if len(merged) > k {
		merged = merged[:k]
	}

	m.logger.LogSearch(ctx, k, len(merged), nil)

	return merged, nil
}

// SearchText embeds the query text and searches across all tiers.
func (m *Memory) SearchText(ctx context.Context, text string, k int) ([]Result, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	if m.embedder == nil {
		return nil, ErrNoEmbedder
	}

	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	return m.Search(ctx, vector, k)
}

// Get retrieves a record by id, checking tiers in promotion order. The
// read counts as an access and updates the record's usage bookkeeping.
func (m *Memory) Get(ctx context.Context, id string) (*model.Record, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	for _, tier := range model.Tiers {
		record, err := m.stores[tier].Get(ctx, id)
		if err == nil {
			return record, nil
		}

		if translated := translateError(err); !isNotFound(translated) {
			return nil, translated
		}
	}

	return nil, ErrNotFound
}

// Delete removes a record by id from whichever tier holds it. Deleting an
// unknown id returns ErrNotFound.
func (m *Memory) Delete(ctx context.Context, id string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	for _, tier := range model.Tiers {
		err := m.stores[tier].Delete(ctx, id)
		if err == nil {
			m.logger.LogDelete(ctx, id, nil)
			return nil
		}

		if translated := translateError(err); !isNotFound(translated) {
			m.logger.LogDelete(ctx, id, translated)
			return translated
		}
	}

	return ErrNotFound
}

// Count returns the ledger record count per tier.
func (m *Memory) Count(ctx context.Context) (map[model.Tier]int, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	counts := make(map[model.Tier]int, len(model.Tiers))

	for _, tier := range model.Tiers {
		count, err := m.stores[tier].Count(ctx)
		if err != nil {
			return nil, translateError(err)
		}

		counts[tier] = count
	}

	return counts, nil
}

// RunPromotionCycle runs one promotion and expiration cycle across all
// tiers and returns its stats. Cycles also run automatically when a
// promotion interval is configured.
func (m *Memory) RunPromotionCycle(ctx context.Context) (promotion.Stats, error) {
	if m.closed.Load() {
		return promotion.Stats{}, ErrClosed
	}

	stats, err := m.engine.RunCycle(ctx)
	m.logger.LogPromotion(ctx, stats.InteractToInsights+stats.InsightsToAssets, stats.ExpiredInteract+stats.ExpiredInsights, err)

	return stats, err
}

// Resync reconciles every tier's index with its ledger. Tiers resync in
// parallel; the first failure is returned, other tiers still complete.
func (m *Memory) Resync(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, tier := range model.Tiers {
		s := m.stores[tier]

		g.Go(func() error {
			err := s.Resync(gctx)
			m.logger.LogResync(gctx, s.Tier(), err)

			if err != nil {
				return fmt.Errorf("resync tier %s: %w", s.Tier(), err)
			}

			return nil
		})
	}

	return g.Wait()
}

// Snapshot saves every tier's ledger to the configured blob store. It
// returns the written blob keys. A blob store must be configured.
func (m *Memory) Snapshot(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(model.Tiers))

	for _, tier := range model.Tiers {
		key, err := m.stores[tier].Snapshot(ctx)
		if err != nil {
			return keys, fmt.Errorf("snapshot tier %s: %w", tier, err)
		}

		keys = append(keys, key)
	}

	return keys, nil
}

// Restore loads the latest snapshot of every tier from the blob store and
// resyncs the indexes. Tiers with no snapshot are left untouched.
func (m *Memory) Restore(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	for _, tier := range model.Tiers {
		if err := m.stores[tier].Restore(ctx); err != nil {
			if isNoSnapshot(err) {
				continue
			}

			return fmt.Errorf("restore tier %s: %w", tier, err)
		}
	}

	return nil
}

// VerifyConsistency compares every tier's index length against its ledger
// count. The first mismatch is returned as a *DriftError and the tier is
// marked for resync.
func (m *Memory) VerifyConsistency(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	for _, tier := range model.Tiers {
		s := m.stores[tier]

		count, err := s.Count(ctx)
		if err != nil {
			return translateError(err)
		}

		if indexLen := s.IndexLen(); indexLen != count {
			s.MarkNeedsResync()

			return &DriftError{Tier: tier, IndexLen: indexLen, LedgerCount: count}
		}
	}

	return nil
}

// SystemHealth returns the aggregate health of the subsystem.
func (m *Memory) SystemHealth() health.SystemStatus {
	return m.health.SystemHealth()
}

// MetricsSnapshot returns a point-in-time metrics snapshot. It refreshes
// per-tier gauges first. ok is false when a custom collector without
// snapshot support is configured.
func (m *Memory) MetricsSnapshot(ctx context.Context) (metrics.Snapshot, bool) {
	basic, ok := m.metrics.(*metrics.Basic)
	if !ok {
		return metrics.Snapshot{}, false
	}

	m.refreshTierStats(ctx)

	return basic.GetSnapshot(), true
}

// WriteMetrics writes the scrape-style text exposition of the collected
// metrics. It fails when a custom collector without exposition support is
// configured.
func (m *Memory) WriteMetrics(ctx context.Context, w io.Writer) error {
	basic, ok := m.metrics.(*metrics.Basic)
	if !ok {
		return fmt.Errorf("configured collector does not support exposition")
	}

	m.refreshTierStats(ctx)

	return basic.WritePrometheus(w)
}

func (m *Memory) refreshTierStats(ctx context.Context) {
	for _, tier := range model.Tiers {
		if _, err := m.stores[tier].TierStats(ctx); err != nil {
			m.logger.WarnContext(ctx, "tier stats refresh failed", "tier", tier.String(), "error", err)
		}
	}
}

// Close stops the background promotion loop and closes every tier store.
// It is safe to call multiple times.
func (m *Memory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.cancelLoop != nil {
		m.cancelLoop()
	}
	m.engine.Close()

	var firstErr error
	for _, tier := range model.Tiers {
		if err := m.stores[tier].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close tier %s: %w", tier, err)
		}
	}

	return firstErr
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isNoSnapshot(err error) bool {
	return errors.Is(err, store.ErrNoSnapshot)
}
