package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/tiermem/index"
)

// Resync reconciles the vector index with the ledger.
//
// When the index holds less than RebuildRatio of the ledger (or is empty),
// the whole index is rebuilt. Otherwise entries the ledger has and the index
// lacks are added incrementally; stale index entries are filtered out at
// search time until the next full rebuild. On success the store is Synced;
// on failure it returns to NeedsResync.
func (s *VectorStore) Resync(ctx context.Context) error {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	s.state.Store(int32(StateResyncing))
	start := s.now()

	full, err := s.resync(ctx)
	s.opts.Metrics.RecordResync(s.tier, full, time.Since(start), err)

	if err != nil {
		s.state.Store(int32(StateNeedsResync))
		s.opts.Logger.ErrorContext(ctx, "resync failed",
			"tier", s.tier.String(),
			"error", err,
		)
		return err
	}

	s.state.Store(int32(StateSynced))
	s.writesSince.Store(0)
	s.opts.Logger.InfoContext(ctx, "resync complete",
		"tier", s.tier.String(),
		"full", full,
		"indexed", s.index.Len(),
		"duration", time.Since(start),
	)

	return nil
}

func (s *VectorStore) resync(ctx context.Context) (full bool, err error) {
	records, err := s.ledger.List(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger list: %w", err)
	}

	indexed := s.index.Len()
	full = indexed == 0 || float64(indexed) < float64(len(records))*s.opts.RebuildRatio

	if full {
		s.index.Clear()

		entries := make([]index.Entry, 0, len(records))
		for _, record := range records {
			entries = append(entries, index.Entry{ID: record.ID, Vector: record.Embedding})
		}
		if err := s.index.InsertBatch(entries); err != nil {
			return true, fmt.Errorf("index rebuild: %w", err)
		}

		return true, nil
	}

	// Incremental: add what the ledger has and the index lacks.
	var missing []index.Entry

	for _, record := range records {
		if !s.index.Contains(record.ID) {
			missing = append(missing, index.Entry{ID: record.ID, Vector: record.Embedding})
		}
	}

	if len(missing) > 0 {
		if err := s.index.InsertBatch(missing); err != nil {
			return false, fmt.Errorf("index add missing: %w", err)
		}
	}

	return false, nil
}

// SyncIfNeeded runs a resync when the store is flagged NeedsResync, or
// verifies consistency after enough writes have accumulated. It is cheap to
// call often.
func (s *VectorStore) SyncIfNeeded(ctx context.Context) error {
	switch s.State() {
	case StateResyncing:
		return nil
	case StateNeedsResync:
		return s.Resync(ctx)
	case StateSynced:
	}

	if s.writesSince.Load() < s.opts.SyncCheckThreshold {
		return nil
	}
	s.writesSince.Store(0)

	count, err := s.ledger.Count(ctx)
	if err != nil {
		return fmt.Errorf("ledger count: %w", err)
	}

	if s.index.Len() != count {
		s.opts.Logger.WarnContext(ctx, "index drift detected",
			"tier", s.tier.String(),
			"indexed", s.index.Len(),
			"ledger", count,
		)
		return s.Resync(ctx)
	}

	return nil
}
