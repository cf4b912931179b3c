// Package store binds a vector index to a durable ledger for one tier and
// keeps the two consistent. All writes go ledger-first; the index is a
// rebuildable view.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tiermem/blobstore"
	"github.com/hupe1980/tiermem/cache"
	"github.com/hupe1980/tiermem/health"
	"github.com/hupe1980/tiermem/index"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/metrics"
	"github.com/hupe1980/tiermem/model"
)

var (
	// ErrResyncInProgress is returned when a resync is requested while one
	// is already running.
	ErrResyncInProgress = errors.New("resync already in progress")

	// ErrNoEmbedding is returned when storing a record without an
	// embedding.
	ErrNoEmbedding = errors.New("record has no embedding")

	// ErrNotFound is returned when a record ID is not present.
	ErrNotFound = ledger.ErrNotFound
)

// Options represents the options for a tier store.
type Options struct {
	// Cache serves hot records without hitting the ledger. Nil disables
	// caching.
	Cache *cache.LRU[*model.Record]

	// Metrics receives operation metrics. Defaults to metrics.Noop.
	Metrics metrics.Collector

	// Health receives operation outcomes. Nil disables health tracking.
	Health *health.Monitor

	// Logger for structured logging. Defaults to a discard logger.
	Logger *slog.Logger

	// BlobStore holds snapshots. Nil disables snapshots.
	BlobStore blobstore.BlobStore

	// RebuildRatio is the fraction of the ledger below which a resync does
	// a full rebuild instead of an incremental add.
	RebuildRatio float64

	// SyncCheckThreshold is the number of writes after which SyncIfNeeded
	// verifies index/ledger consistency.
	SyncCheckThreshold int64
}

// DefaultOptions holds the default tier store options.
var DefaultOptions = Options{
	Metrics:            metrics.Noop{},
	RebuildRatio:       0.5,
	SyncCheckThreshold: 256,
}

// Result pairs a record with its query similarity.
type Result struct {
	Record     *model.Record
	Similarity float32
}

// VectorStore couples one tier's vector index with its ledger.
//
// Concurrency: all operations are safe for concurrent use. Resync takes an
// internal lock so at most one resync runs at a time.
type VectorStore struct {
	tier   model.Tier
	index  index.Index
	ledger ledger.Ledger
	opts   Options

	state       atomic.Int32
	writesSince atomic.Int64
	resyncMu    sync.Mutex
	now         func() time.Time
}

// New creates a tier store over the given index and ledger.
func New(tier model.Tier, idx index.Index, led ledger.Ledger, optFns ...func(o *Options)) *VectorStore {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.RebuildRatio <= 0 || opts.RebuildRatio > 1 {
		opts.RebuildRatio = DefaultOptions.RebuildRatio
	}

	return &VectorStore{
		tier:   tier,
		index:  idx,
		ledger: led,
		opts:   opts,
		now:    time.Now,
	}
}

// Tier returns the tier this store serves.
func (s *VectorStore) Tier() model.Tier { return s.tier }

// State returns the current sync state.
func (s *VectorStore) State() SyncState { return SyncState(s.state.Load()) }

// MarkNeedsResync flags the store for resync unless one is running.
func (s *VectorStore) MarkNeedsResync() {
	s.state.CompareAndSwap(int32(StateSynced), int32(StateNeedsResync))
}

func (s *VectorStore) recordHealth(component health.Component, start time.Time, err error) {
	if s.opts.Health != nil {
		s.opts.Health.RecordOperation(component, time.Since(start), err)
	}
}

// Store persists a record and adds its embedding to the index.
//
// The ledger write is authoritative: if it fails, Store fails. If only the
// index write fails the record is still durable, the store is marked
// NeedsResync, and Store succeeds.
func (s *VectorStore) Store(ctx context.Context, record *model.Record) error {
	start := s.now()

	err := s.store(ctx, record)
	s.opts.Metrics.RecordInsert(time.Since(start), err)
	s.recordHealth(health.ComponentVectorStore, start, err)

	return err
}

func (s *VectorStore) store(ctx context.Context, record *model.Record) error {
	if len(record.Embedding) == 0 {
		return ErrNoEmbedding
	}

	record.Tier = s.tier

	if err := s.ledger.Put(ctx, record); err != nil {
		return fmt.Errorf("ledger put: %w", err)
	}
	s.writesSince.Add(1)

	if s.opts.Cache != nil {
		s.opts.Cache.Set(record.ID, record.Clone())
	}

	if err := s.index.Insert(record.ID, record.Embedding); err != nil {
		s.MarkNeedsResync()
		s.opts.Logger.WarnContext(ctx, "index insert failed, record kept in ledger",
			"tier", s.tier.String(),
			"id", record.ID,
			"error", err,
		)
	}

	return nil
}

// StoreBatch persists many records. Ledger writes happen per record; index
// writes are batched. A ledger failure aborts the batch and returns the
// records stored so far.
func (s *VectorStore) StoreBatch(ctx context.Context, records []*model.Record) (int, error) {
	start := s.now()

	entries := make([]index.Entry, 0, len(records))

	for i, record := range records {
		if len(record.Embedding) == 0 {
			return i, ErrNoEmbedding
		}

		record.Tier = s.tier

		if err := s.ledger.Put(ctx, record); err != nil {
			return i, fmt.Errorf("ledger put: %w", err)
		}
		s.writesSince.Add(1)

		if s.opts.Cache != nil {
			s.opts.Cache.Set(record.ID, record.Clone())
		}

		entries = append(entries, index.Entry{ID: record.ID, Vector: record.Embedding})
	}

	if err := s.index.InsertBatch(entries); err != nil {
		s.MarkNeedsResync()
		s.opts.Logger.WarnContext(ctx, "index batch insert failed, records kept in ledger",
			"tier", s.tier.String(),
			"count", len(entries),
			"error", err,
		)
	}

	s.opts.Metrics.RecordInsert(time.Since(start), nil)

	return len(records), nil
}

// Get returns a record by ID and touches its access bookkeeping.
func (s *VectorStore) Get(ctx context.Context, id string) (*model.Record, error) {
	record, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.touch(ctx, record)

	return record, nil
}

// get fetches from cache or ledger without touching access stats.
func (s *VectorStore) get(ctx context.Context, id string) (*model.Record, error) {
	if s.opts.Cache != nil {
		if record, ok := s.opts.Cache.Get(id); ok {
			s.opts.Metrics.RecordCacheHit()
			return record.Clone(), nil
		}
		s.opts.Metrics.RecordCacheMiss()
	}

	record, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.opts.Cache != nil {
		s.opts.Cache.Set(id, record.Clone())
	}

	return record, nil
}

// touch bumps the access counter and persists it. A failed touch is logged
// and otherwise ignored; access stats are advisory.
func (s *VectorStore) touch(ctx context.Context, record *model.Record) {
	record.AccessCount++
	record.LastAccess = s.now().UTC()

	if err := s.ledger.Put(ctx, record); err != nil {
		s.opts.Logger.DebugContext(ctx, "failed to persist access stats",
			"tier", s.tier.String(),
			"id", record.ID,
			"error", err,
		)
		return
	}

	if s.opts.Cache != nil {
		s.opts.Cache.Set(record.ID, record.Clone())
	}
}

// Delete removes a record from the ledger, index and cache.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	start := s.now()

	err := s.ledger.Delete(ctx, id)
	switch {
	case err == nil:
		s.writesSince.Add(1)
	case errors.Is(err, ledger.ErrNotFound):
		// Index and cache removal below still run, clearing any leftover
		// drift for an id the ledger already dropped.
	default:
		// The record is still durable. Leaving the index entry in place
		// keeps both sides consistent, so the tier stays Synced.
		s.opts.Metrics.RecordDelete(err)
		s.recordHealth(health.ComponentVectorStore, start, err)

		return err
	}

	if _, idxErr := s.index.Remove(id); idxErr != nil {
		s.MarkNeedsResync()
	}
	if s.opts.Cache != nil {
		s.opts.Cache.Delete(id)
	}

	s.opts.Metrics.RecordDelete(err)
	s.recordHealth(health.ComponentVectorStore, start, err)

	return err
}

// Count returns the number of records in the ledger.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	return s.ledger.Count(ctx)
}

// IndexLen returns the number of live entries in the vector index.
func (s *VectorStore) IndexLen() int {
	return s.index.Len()
}

// List returns all records in the tier.
func (s *VectorStore) List(ctx context.Context) ([]*model.Record, error) {
	return s.ledger.List(ctx)
}

// PromotionCandidates returns records created before olderThan with at
// least the given score and access count, ordered by descending priority
// as computed by scoreFn and capped at limit. limit <= 0 returns all.
func (s *VectorStore) PromotionCandidates(ctx context.Context, olderThan time.Time, minScore float32, minAccess uint32, scoreFn func(*model.Record) float64, limit int) ([]*model.Record, error) {
	records, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates := records[:0]
	for _, record := range records {
		if record.CreatedAt.Before(olderThan) && record.Score >= minScore && record.AccessCount >= minAccess {
			candidates = append(candidates, record)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return scoreFn(candidates[i]) > scoreFn(candidates[j])
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates, nil
}

// UpdateRecord persists a modified record and refreshes its index entry.
func (s *VectorStore) UpdateRecord(ctx context.Context, record *model.Record) error {
	return s.store(ctx, record)
}

// TierStats summarizes the tier and publishes the gauges to the metrics
// collector.
func (s *VectorStore) TierStats(ctx context.Context) (metrics.TierStats, error) {
	records, err := s.ledger.List(ctx)
	if err != nil {
		return metrics.TierStats{}, err
	}

	stats := metrics.TierStats{
		RecordCount:  uint64(len(records)),
		IndexedCount: uint64(s.index.Len()),
	}

	if len(records) > 0 {
		now := s.now()
		var accessSum float64
		for _, record := range records {
			accessSum += float64(record.AccessCount)
			if age := record.AgeHours(now); age > stats.OldestAgeHours {
				stats.OldestAgeHours = age
			}
		}
		stats.AvgAccessCount = accessSum / float64(len(records))
	}

	s.opts.Metrics.UpdateTierStats(s.tier, stats)

	return stats, nil
}

// Close closes the underlying ledger.
func (s *VectorStore) Close() error {
	return s.ledger.Close()
}
