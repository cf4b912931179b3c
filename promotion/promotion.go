// Package promotion moves records forward through the tiers based on
// relevance, usage and age, and expires records that outlived their tier's
// retention window.
//
// Promotion is insert-before-delete: a record is written to the destination
// tier before it is removed from the source. A crash between the two leaves
// a transient duplicate, never a lost record; the next cycle's delete is
// idempotent.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/tiermem/health"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/metrics"
	"github.com/hupe1980/tiermem/model"
	"github.com/hupe1980/tiermem/store"
	"golang.org/x/time/rate"
)

// Options represents the options for the promotion engine.
type Options struct {
	// InteractTTL is the age at which interact records become promotion
	// candidates. Records twice this age expire.
	InteractTTL time.Duration

	// InsightsTTL is the age at which insights records become promotion
	// candidates, and past which unpromoted ones expire.
	InsightsTTL time.Duration

	// PromoteThreshold is the minimum relevance score for promotion out of
	// the interact tier. Promotion into assets requires 1.2x this score.
	PromoteThreshold float32

	// DecayFactor is applied to the relevance score on promotion from
	// interact to insights.
	DecayFactor float32

	// MinAccessInteract and MinAccessInsights gate promotion on usage.
	MinAccessInteract uint32
	MinAccessInsights uint32

	// MaxCandidates caps how many records one cycle promotes per tier
	// pair. The highest-priority candidates go first.
	MaxCandidates int

	// ExpireRate throttles expiration deletes so cleanup cannot saturate
	// the ledger. Zero disables throttling.
	ExpireRate rate.Limit

	// Interval is the background cycle period used by Start.
	Interval time.Duration

	// Metrics receives promotion metrics. Defaults to metrics.Noop.
	Metrics metrics.Collector

	// Health receives cycle outcomes. Nil disables health tracking.
	Health *health.Monitor

	// Logger for structured logging. Defaults to a discard logger.
	Logger *slog.Logger

	// OnEvent, when set, is invoked for every promoted record.
	OnEvent func(model.PromotionEvent)
}

// DefaultOptions holds the default promotion engine options.
var DefaultOptions = Options{
	InteractTTL:       24 * time.Hour,
	InsightsTTL:       7 * 24 * time.Hour,
	PromoteThreshold:  0.7,
	DecayFactor:       0.9,
	MinAccessInteract: 2,
	MinAccessInsights: 5,
	MaxCandidates:     1000,
	ExpireRate:        200,
	Interval:          time.Hour,
}

// Stats summarizes one promotion cycle.
type Stats struct {
	InteractToInsights int           `json:"interact_to_insights"`
	InsightsToAssets   int           `json:"insights_to_assets"`
	ExpiredInteract    int           `json:"expired_interact"`
	ExpiredInsights    int           `json:"expired_insights"`
	Duration           time.Duration `json:"duration"`
}

// Engine runs promotion and expiration cycles over the tier stores.
type Engine struct {
	stores  map[model.Tier]*store.VectorStore
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time

	cycleMu sync.Mutex
	stopCh  chan struct{}
	stopWg  sync.WaitGroup
	started bool
}

// New creates a promotion engine over the given tier stores. All three
// tiers must be present.
func New(stores map[model.Tier]*store.VectorStore, optFns ...func(o *Options)) (*Engine, error) {
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

	for _, tier := range model.Tiers {
		if stores[tier] == nil {
			return nil, fmt.Errorf("missing store for tier %s", tier)
		}
	}

	var limiter *rate.Limiter
	if opts.ExpireRate > 0 {
		limiter = rate.NewLimiter(opts.ExpireRate, int(opts.ExpireRate))
	}

	return &Engine{
		stores:  stores,
		opts:    opts,
		limiter: limiter,
		now:     time.Now,
	}, nil
}

// RunCycle promotes eligible records between adjacent tiers and expires
// records past their retention. At most one cycle runs at a time.
func (e *Engine) RunCycle(ctx context.Context) (Stats, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.now()
	var stats Stats

	run := func() error {
		// Repair flagged or drifted indexes before scanning. Candidate
		// scans read the ledger directly, so a failed sync delays repair
		// but never blocks the cycle.
		for _, tier := range model.Tiers {
			if err := e.stores[tier].SyncIfNeeded(ctx); err != nil {
				e.opts.Logger.WarnContext(ctx, "pre-cycle sync failed",
					"tier", tier.String(),
					"error", err,
				)
			}
		}

		promoted, err := e.promote(ctx, model.TierInteract, model.TierInsights,
			e.opts.InteractTTL, e.opts.PromoteThreshold, e.opts.MinAccessInteract, true)
		if err != nil {
			return err
		}
		stats.InteractToInsights = promoted

		promoted, err = e.promote(ctx, model.TierInsights, model.TierAssets,
			e.opts.InsightsTTL, e.opts.PromoteThreshold*1.2, e.opts.MinAccessInsights, false)
		if err != nil {
			return err
		}
		stats.InsightsToAssets = promoted

		expired, err := e.expire(ctx, model.TierInteract, 2*e.opts.InteractTTL)
		if err != nil {
			return err
		}
		stats.ExpiredInteract = expired

		expired, err = e.expire(ctx, model.TierInsights, e.opts.InsightsTTL)
		if err != nil {
			return err
		}
		stats.ExpiredInsights = expired

		return nil
	}

	err := run()
	stats.Duration = time.Since(start)

	e.opts.Metrics.RecordPromotionCycle(stats.Duration)
	if e.opts.Health != nil {
		e.opts.Health.RecordOperation(health.ComponentPromotionEngine, stats.Duration, err)
	}

	if err != nil {
		e.opts.Logger.ErrorContext(ctx, "promotion cycle failed", "error", err)
		return stats, err
	}

	e.opts.Logger.InfoContext(ctx, "promotion cycle complete",
		"interact_to_insights", stats.InteractToInsights,
		"insights_to_assets", stats.InsightsToAssets,
		"expired_interact", stats.ExpiredInteract,
		"expired_insights", stats.ExpiredInsights,
		"duration", stats.Duration,
	)

	return stats, nil
}

// promote moves eligible records from one tier to the next.
func (e *Engine) promote(ctx context.Context, from, to model.Tier, ttl time.Duration, minScore float32, minAccess uint32, decay bool) (int, error) {
	src := e.stores[from]
	dst := e.stores[to]

	now := e.now()

	candidates, err := src.PromotionCandidates(ctx, now.Add(-ttl), minScore, minAccess,
		func(r *model.Record) float64 { return Priority(r, now) }, e.opts.MaxCandidates)
	if err != nil {
		return 0, fmt.Errorf("candidates in %s: %w", from, err)
	}

	for _, record := range candidates {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		promoted := record.Clone()
		promoted.Tier = to
		if decay {
			promoted.Score *= e.opts.DecayFactor
		}

		// Insert into the destination before deleting from the source.
		if err := dst.Store(ctx, promoted); err != nil {
			return 0, fmt.Errorf("store in %s: %w", to, err)
		}

		if err := src.Delete(ctx, record.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return 0, fmt.Errorf("delete from %s: %w", from, err)
		}

		if e.opts.OnEvent != nil {
			e.opts.OnEvent(model.PromotionEvent{
				RecordID: record.ID,
				From:     from,
				To:       to,
				Reason:   "priority",
				Score:    Priority(record, now),
				At:       now.UTC(),
			})
		}
	}

	e.opts.Metrics.RecordPromotion(from, to, uint64(len(candidates)))

	return len(candidates), nil
}

// expire deletes records older than the retention window. Assets never
// expire.
func (e *Engine) expire(ctx context.Context, tier model.Tier, retention time.Duration) (int, error) {
	src := e.stores[tier]

	records, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", tier, err)
	}

	cutoff := e.now().Add(-retention)

	count := 0
	for _, record := range records {
		if !record.CreatedAt.Before(cutoff) {
			continue
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return count, err
			}
		}

		if err := src.Delete(ctx, record.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return count, fmt.Errorf("delete from %s: %w", tier, err)
		}
		count++
	}

	e.opts.Metrics.RecordExpired(uint64(count))

	return count, nil
}

// Start runs promotion cycles in the background until Close is called or
// the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.cycleMu.Lock()
	if e.started {
		e.cycleMu.Unlock()
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.cycleMu.Unlock()

	e.stopWg.Add(1)

	go func() {
		defer e.stopWg.Done()

		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				if _, err := e.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
					e.opts.Logger.ErrorContext(ctx, "background promotion cycle failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the background loop. It is safe to call multiple times.
func (e *Engine) Close() {
	e.cycleMu.Lock()
	if !e.started {
		e.cycleMu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.cycleMu.Unlock()

	e.stopWg.Wait()
}
