package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/tiermem/index/hnsw"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/model"
	"github.com/hupe1980/tiermem/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTierStores(t *testing.T, dimension int) map[model.Tier]*store.VectorStore {
	t.Helper()

	stores := make(map[model.Tier]*store.VectorStore, len(model.Tiers))

	for _, tier := range model.Tiers {
		stores[tier] = store.New(tier, hnsw.New(dimension), ledger.NewMapLedger())
	}

	return stores
}

func testRecord(id string, tier model.Tier, age time.Duration, score float32, access uint32, now time.Time) *model.Record {
	return &model.Record{
		ID:          id,
		Content:     "content " + id,
		Embedding:   []float32{1, 0, 0},
		Tier:        tier,
		CreatedAt:   now.Add(-age),
		LastAccess:  now.Add(-age / 2),
		AccessCount: access,
		Score:       score,
	}
}

func TestPriority(t *testing.T) {
	now := time.Now()

	t.Run("higher score wins", func(t *testing.T) {
		low := testRecord("low", model.TierInteract, time.Hour, 0.2, 1, now)
		high := testRecord("high", model.TierInteract, time.Hour, 0.9, 1, now)

		assert.Greater(t, Priority(high, now), Priority(low, now))
	})

	t.Run("recent access wins at equal score", func(t *testing.T) {
		stale := testRecord("stale", model.TierInteract, time.Hour, 0.5, 1, now)
		stale.LastAccess = now.Add(-72 * time.Hour)

		fresh := testRecord("fresh", model.TierInteract, time.Hour, 0.5, 1, now)
		fresh.LastAccess = now

		assert.Greater(t, Priority(fresh, now), Priority(stale, now))
	})

	t.Run("bounded", func(t *testing.T) {
		r := testRecord("r", model.TierInteract, 0, 1.0, 1000000, now)
		p := Priority(r, now)

		assert.Greater(t, p, 0.0)
		assert.Less(t, p, 2.0)
	})
}

func TestRunCycle_PromoteInteractToInsights(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stores := newTierStores(t, 3)

	engine, err := New(stores)
	require.NoError(t, err)
	engine.now = func() time.Time { return now }

	eligible := testRecord("eligible", model.TierInteract, 25*time.Hour, 0.8, 3, now)
	tooYoung := testRecord("too-young", model.TierInteract, time.Hour, 0.8, 3, now)
	lowScore := testRecord("low-score", model.TierInteract, 25*time.Hour, 0.3, 3, now)
	rarelyUsed := testRecord("rarely-used", model.TierInteract, 25*time.Hour, 0.8, 1, now)

	for _, r := range []*model.Record{eligible, tooYoung, lowScore, rarelyUsed} {
		require.NoError(t, stores[model.TierInteract].Store(ctx, r))
	}

	stats, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.InteractToInsights)
	assert.Equal(t, 0, stats.InsightsToAssets)

	// Promoted record lives in insights with a decayed score.
	promoted, err := stores[model.TierInsights].Get(ctx, "eligible")
	require.NoError(t, err)
	assert.Equal(t, model.TierInsights, promoted.Tier)
	assert.InDelta(t, 0.8*0.9, promoted.Score, 1e-6)

	// And is gone from interact.
	_, err = stores[model.TierInteract].Get(ctx, "eligible")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The rest stay put.
	for _, id := range []string{"too-young", "low-score", "rarely-used"} {
		_, err := stores[model.TierInteract].Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestRunCycle_PromoteInsightsToAssets(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stores := newTierStores(t, 3)

	engine, err := New(stores)
	require.NoError(t, err)
	engine.now = func() time.Time { return now }

	// Needs score >= 0.7*1.2 = 0.84 and access >= 5.
	eligible := testRecord("eligible", model.TierInsights, 8*24*time.Hour, 0.9, 6, now)
	belowBar := testRecord("below-bar", model.TierInsights, 8*24*time.Hour, 0.8, 6, now)

	require.NoError(t, stores[model.TierInsights].Store(ctx, eligible))
	require.NoError(t, stores[model.TierInsights].Store(ctx, belowBar))

	stats, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.InsightsToAssets)

	// No decay on the way into assets.
	promoted, err := stores[model.TierAssets].Get(ctx, "eligible")
	require.NoError(t, err)
	assert.Equal(t, model.TierAssets, promoted.Tier)
	assert.InDelta(t, 0.9, promoted.Score, 1e-6)

	// below-bar misses the assets threshold but expires out of insights
	// because it is older than the insights retention.
	assert.Equal(t, 1, stats.ExpiredInsights)
}

func TestRunCycle_Expiration(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stores := newTierStores(t, 3)

	engine, err := New(stores)
	require.NoError(t, err)
	engine.now = func() time.Time { return now }

	// Past 2x the interact TTL, but below the promotion bar.
	expired := testRecord("expired", model.TierInteract, 49*time.Hour, 0.2, 0, now)
	alive := testRecord("alive", model.TierInteract, 40*time.Hour, 0.2, 0, now)

	require.NoError(t, stores[model.TierInteract].Store(ctx, expired))
	require.NoError(t, stores[model.TierInteract].Store(ctx, alive))

	// Assets never expire, no matter the age.
	ancient := testRecord("ancient", model.TierAssets, 365*24*time.Hour, 0.9, 10, now)
	require.NoError(t, stores[model.TierAssets].Store(ctx, ancient))

	stats, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ExpiredInteract)

	_, err = stores[model.TierInteract].Get(ctx, "expired")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = stores[model.TierInteract].Get(ctx, "alive")
	assert.NoError(t, err)

	_, err = stores[model.TierAssets].Get(ctx, "ancient")
	assert.NoError(t, err)
}

func TestRunCycle_MaxCandidates(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stores := newTierStores(t, 3)

	engine, err := New(stores, func(o *Options) {
		o.MaxCandidates = 2
	})
	require.NoError(t, err)
	engine.now = func() time.Time { return now }

	scores := []float32{0.71, 0.95, 0.85, 0.9}
	for i, score := range scores {
		r := testRecord(string(rune('a'+i)), model.TierInteract, 25*time.Hour, score, 3, now)
		require.NoError(t, stores[model.TierInteract].Store(ctx, r))
	}

	stats, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.InteractToInsights)

	// The two highest-priority candidates moved.
	_, err = stores[model.TierInsights].Get(ctx, "b")
	assert.NoError(t, err)

	_, err = stores[model.TierInsights].Get(ctx, "d")
	assert.NoError(t, err)

	_, err = stores[model.TierInteract].Get(ctx, "a")
	assert.NoError(t, err)
}

func TestRunCycle_Events(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	stores := newTierStores(t, 3)

	var events []model.PromotionEvent

	engine, err := New(stores, func(o *Options) {
		o.OnEvent = func(e model.PromotionEvent) { events = append(events, e) }
	})
	require.NoError(t, err)
	engine.now = func() time.Time { return now }

	r := testRecord("r1", model.TierInteract, 25*time.Hour, 0.8, 3, now)
	require.NoError(t, stores[model.TierInteract].Store(ctx, r))

	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].RecordID)
	assert.Equal(t, model.TierInteract, events[0].From)
	assert.Equal(t, model.TierInsights, events[0].To)
	assert.Greater(t, events[0].Score, 0.0)
}

func TestRunCycle_RepairsFlaggedStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	led := ledger.NewMapLedger()
	stores := newTierStores(t, 3)
	stores[model.TierInteract] = store.New(model.TierInteract, hnsw.New(3), led)

	engine, err := New(stores)
	require.NoError(t, err)
	engine.now = func() time.Time { return now }

	// A record lands in the ledger without reaching the index, as after a
	// partial write, and the tier is flagged.
	r := testRecord("orphan", model.TierInteract, time.Hour, 0.5, 1, now)
	require.NoError(t, led.Put(ctx, r))
	stores[model.TierInteract].MarkNeedsResync()

	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, store.StateSynced, stores[model.TierInteract].State())
	assert.Equal(t, 1, stores[model.TierInteract].IndexLen())
}

func TestNew_MissingTier(t *testing.T) {
	stores := newTierStores(t, 3)
	delete(stores, model.TierAssets)

	_, err := New(stores)
	assert.Error(t, err)
}
