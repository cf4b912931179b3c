package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/tiermem/health"
	"github.com/hupe1980/tiermem/ledger"
)

// Search returns up to k records ordered by descending similarity to the
// query embedding.
//
// The index can briefly lead or trail the ledger. IDs that the index returns
// but the ledger no longer holds are logged and skipped, never surfaced to
// the caller.
func (s *VectorStore) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	start := s.now()

	results, err := s.search(ctx, query, k)
	s.opts.Metrics.RecordSearch(time.Since(start), err)
	s.recordHealth(health.ComponentVectorStore, start, err)

	return results, err
}

func (s *VectorStore) search(ctx context.Context, query []float32, k int) ([]Result, error) {
	// Over-fetch to compensate for drift skips.
	fetch := k + k/2

	hits, err := s.index.Search(query, fetch)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	results := make([]Result, 0, k)
	for _, hit := range hits {
		if len(results) == k {
			break
		}

		record, err := s.get(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				s.opts.Logger.DebugContext(ctx, "index entry missing in ledger, skipping",
					"tier", s.tier.String(),
					"id", hit.ID,
				)
				s.MarkNeedsResync()
				continue
			}
			return nil, fmt.Errorf("ledger get: %w", err)
		}

		s.touch(ctx, record)

		results = append(results, Result{Record: record, Similarity: hit.Similarity})
	}

	return results, nil
}
