package tiermem_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/tiermem"
	"github.com/hupe1980/tiermem/blobstore"
	"github.com/hupe1980/tiermem/embed"
	"github.com/hupe1980/tiermem/health"
	"github.com/hupe1980/tiermem/index"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/model"
	"github.com/hupe1980/tiermem/promotion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T, dimension int, optFns ...tiermem.Option) *tiermem.Memory {
	t.Helper()

	mem, err := tiermem.New(dimension, optFns...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = mem.Close() })

	return mem
}

func basisRecord(id string, dimension, axis int) *model.Record {
	embedding := make([]float32, dimension)
	embedding[axis] = 1

	return &model.Record{
		ID:         id,
		Content:    "content " + id,
		Embedding:  embedding,
		Tier:       model.TierInteract,
		CreatedAt:  time.Now().UTC(),
		LastAccess: time.Now().UTC(),
		Score:      0.5,
	}
}

func TestNew(t *testing.T) {
	t.Run("invalid dimension", func(t *testing.T) {
		_, err := tiermem.New(0)
		assert.ErrorIs(t, err, tiermem.ErrInvalidDimension)
	})

	t.Run("embedder dimension must match", func(t *testing.T) {
		_, err := tiermem.New(8, tiermem.WithEmbedder(embed.NewHashEmbedder(16)))

		var mismatch *index.ErrDimensionMismatch
		assert.ErrorAs(t, err, &mismatch)
	})
}

func TestStoreAndSearch(t *testing.T) {
	ctx := context.Background()

	// Five near-orthogonal vectors; querying with one of them exactly must
	// return that record first with similarity 1.0.
	mem := newMemory(t, 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, mem.Store(ctx, basisRecord(string(rune('a'+i)), 8, i)))
	}

	query := make([]float32, 8)
	query[1] = 1

	results, err := mem.Search(ctx, query, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "b", results[0].Record.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestStore_Validation(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	t.Run("missing embedding", func(t *testing.T) {
		err := mem.Store(ctx, &model.Record{ID: "x", Content: "x", Tier: model.TierInteract})
		assert.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := mem.Store(ctx, &model.Record{
			ID:        "x",
			Embedding: []float32{1, 2},
			Tier:      model.TierInteract,
		})

		var mismatch *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 8, mismatch.Expected)
		assert.Equal(t, 2, mismatch.Actual)
	})
}

func TestGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	record := basisRecord("r1", 8, 0)
	require.NoError(t, mem.Store(ctx, record))

	got, err := mem.Get(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, record.Content, got.Content)
	assert.Equal(t, record.Embedding, got.Embedding)
	assert.Equal(t, uint32(1), got.AccessCount)
	assert.False(t, got.LastAccess.Before(record.LastAccess))

	_, err = mem.Get(ctx, "missing")
	assert.ErrorIs(t, err, tiermem.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	require.NoError(t, mem.Store(ctx, basisRecord("r1", 8, 0)))

	require.NoError(t, mem.Delete(ctx, "r1"))

	_, err := mem.Get(ctx, "r1")
	assert.ErrorIs(t, err, tiermem.ErrNotFound)

	assert.ErrorIs(t, mem.Delete(ctx, "r1"), tiermem.ErrNotFound)
}

func TestTextOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("no embedder", func(t *testing.T) {
		mem := newMemory(t, 8)

		_, err := mem.StoreText(ctx, "hello")
		assert.ErrorIs(t, err, tiermem.ErrNoEmbedder)

		_, err = mem.SearchText(ctx, "hello", 3)
		assert.ErrorIs(t, err, tiermem.ErrNoEmbedder)
	})

	t.Run("store and search text", func(t *testing.T) {
		mem := newMemory(t, 64,
			tiermem.WithEmbedder(embed.NewHashEmbedder(64)),
			tiermem.WithEmbedCache(128),
		)

		record, err := mem.StoreText(ctx, "the deploy pipeline uses blue-green rollouts", func(r *model.Record) {
			r.Tags = []string{"ops"}
		})
		require.NoError(t, err)
		assert.Equal(t, model.TierInteract, record.Tier)
		assert.Equal(t, []string{"ops"}, record.Tags)

		_, err = mem.StoreText(ctx, "unrelated note about lunch")
		require.NoError(t, err)

		// The hash embedder is deterministic, so the exact same text must
		// come back as the top result with similarity 1.0.
		results, err := mem.SearchText(ctx, "the deploy pipeline uses blue-green rollouts", 2)
		require.NoError(t, err)
		require.NotEmpty(t, results)

		assert.Equal(t, record.ID, results[0].Record.ID)
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	})
}

func TestSearch_AcrossTiers(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	interact := basisRecord("interact", 8, 0)

	insights := basisRecord("insights", 8, 1)
	insights.Tier = model.TierInsights

	assets := basisRecord("assets", 8, 2)
	assets.Tier = model.TierAssets

	for _, r := range []*model.Record{interact, insights, assets} {
		require.NoError(t, mem.Store(ctx, r))
	}

	query := make([]float32, 8)
	query[2] = 1

	results, err := mem.Search(ctx, query, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "assets", results[0].Record.ID)
}

func TestPromotion_MinAccessKeepsRecord(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	// Old enough and scored high enough, but never accessed.
	record := basisRecord("untouched", 8, 0)
	record.CreatedAt = time.Now().Add(-30 * time.Hour)
	record.Score = 0.9
	record.AccessCount = 0

	require.NoError(t, mem.Store(ctx, record))

	stats, err := mem.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.InteractToInsights)

	got, err := mem.Get(ctx, "untouched")
	require.NoError(t, err)
	assert.Equal(t, model.TierInteract, got.Tier)
}

func TestPromotion_AdvancesForward(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	record := basisRecord("useful", 8, 0)
	record.CreatedAt = time.Now().Add(-30 * time.Hour)
	record.Score = 0.9
	record.AccessCount = 5

	require.NoError(t, mem.Store(ctx, record))

	stats, err := mem.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.InteractToInsights)

	got, err := mem.Get(ctx, "useful")
	require.NoError(t, err)
	assert.Equal(t, model.TierInsights, got.Tier)

	// A second cycle never moves it backwards.
	_, err = mem.RunPromotionCycle(ctx)
	require.NoError(t, err)

	got, err = mem.Get(ctx, "useful")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Tier, model.TierInsights)
}

func TestPromotion_Events(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var events []model.PromotionEvent

	mem := newMemory(t, 8, tiermem.WithPromotion(func(o *promotion.Options) {
		o.OnEvent = func(e model.PromotionEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}))

	record := basisRecord("useful", 8, 0)
	record.CreatedAt = time.Now().Add(-30 * time.Hour)
	record.Score = 0.9
	record.AccessCount = 5

	require.NoError(t, mem.Store(ctx, record))

	_, err := mem.RunPromotionCycle(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "useful", events[0].RecordID)
	assert.Equal(t, model.TierInteract, events[0].From)
	assert.Equal(t, model.TierInsights, events[0].To)
}

func TestResync_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Store(ctx, basisRecord(string(rune('a'+i)), 8, i)))
	}

	require.NoError(t, mem.Resync(ctx))
	require.NoError(t, mem.Resync(ctx))

	counts, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.TierInteract])
	assert.Equal(t, 3, mem.Tier(model.TierInteract).IndexLen())
}

func TestVerifyConsistency(t *testing.T) {
	ctx := context.Background()

	// Keep handles to the backing ledgers so drift can be induced behind
	// the index's back, as a restore or external writer would.
	ledgers := make(map[model.Tier]*ledger.MapLedger)

	mem := newMemory(t, 8, tiermem.WithLedger(func(tier model.Tier) (ledger.Ledger, error) {
		ledgers[tier] = ledger.NewMapLedger()
		return ledgers[tier], nil
	}))

	require.NoError(t, mem.Store(ctx, basisRecord("r1", 8, 0)))
	require.NoError(t, mem.VerifyConsistency(ctx))

	hidden := basisRecord("hidden", 8, 1)
	require.NoError(t, ledgers[model.TierInteract].Put(ctx, hidden))

	err := mem.VerifyConsistency(ctx)

	var drift *tiermem.DriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, model.TierInteract, drift.Tier)
	assert.Equal(t, 1, drift.IndexLen)
	assert.Equal(t, 2, drift.LedgerCount)

	// Resync repairs it.
	require.NoError(t, mem.Resync(ctx))
	require.NoError(t, mem.VerifyConsistency(ctx))
}

func TestConcurrentInsertsAndSearches(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	query := make([]float32, 8)
	query[0] = 1

	var wg sync.WaitGroup

	errCh := make(chan error, 150)

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			record := basisRecord("", 8, i%8)
			record.ID = "record-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))

			if err := mem.Store(ctx, record); err != nil {
				errCh <- err
			}
		}(i)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := mem.Search(ctx, query, 10); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent operation failed: %v", err)
	}

	counts, err := mem.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, counts[model.TierInteract])
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()

	blobs := blobstore.NewMemoryStore()

	mem := newMemory(t, 8, tiermem.WithBlobStore(blobs))

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Store(ctx, basisRecord(string(rune('a'+i)), 8, i)))
	}

	keys, err := mem.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	// A fresh memory over the same blob store recovers the records.
	restored := newMemory(t, 8, tiermem.WithBlobStore(blobs))

	require.NoError(t, restored.Restore(ctx))

	counts, err := restored.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.TierInteract])

	got, err := restored.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "content a", got.Content)
}

func TestMetricsAndHealth(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t, 8)

	require.NoError(t, mem.Store(ctx, basisRecord("r1", 8, 0)))

	query := make([]float32, 8)
	query[0] = 1

	_, err := mem.Search(ctx, query, 1)
	require.NoError(t, err)

	snapshot, ok := mem.MetricsSnapshot(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snapshot.VectorInserts)
	// Every tier records its own search, so one query counts three times.
	assert.Equal(t, uint64(3), snapshot.VectorSearches)

	// The snapshot refresh publishes the per-tier gauges.
	require.Len(t, snapshot.TierStats, 3)
	assert.Equal(t, uint64(1), snapshot.TierStats[model.TierInteract.String()].RecordCount)
	assert.Equal(t, uint64(1), snapshot.TierStats[model.TierInteract.String()].IndexedCount)
	assert.Zero(t, snapshot.TierStats[model.TierAssets.String()].RecordCount)

	var sb strings.Builder
	require.NoError(t, mem.WriteMetrics(ctx, &sb))
	assert.Contains(t, sb.String(), "memory_vector_searches_total")
	assert.Contains(t, sb.String(), `memory_tier_records{tier="interact"} 1`)

	status := mem.SystemHealth()
	assert.Equal(t, health.StatusHealthy, status.Overall)
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	mem, err := tiermem.New(8)
	require.NoError(t, err)

	require.NoError(t, mem.Close())
	require.NoError(t, mem.Close())

	assert.ErrorIs(t, mem.Store(ctx, basisRecord("r1", 8, 0)), tiermem.ErrClosed)

	_, err = mem.Search(ctx, make([]float32, 8), 1)
	assert.ErrorIs(t, err, tiermem.ErrClosed)

	_, err = mem.Get(ctx, "r1")
	assert.ErrorIs(t, err, tiermem.ErrClosed)
}

func TestBackgroundPromotionLoop(t *testing.T) {
	mem := newMemory(t, 8, tiermem.WithPromotionInterval(10*time.Millisecond))

	record := basisRecord("useful", 8, 0)
	record.CreatedAt = time.Now().Add(-30 * time.Hour)
	record.Score = 0.9
	record.AccessCount = 5

	require.NoError(t, mem.Store(context.Background(), record))

	assert.Eventually(t, func() bool {
		got, err := mem.Get(context.Background(), "useful")
		return err == nil && got.Tier == model.TierInsights
	}, 2*time.Second, 20*time.Millisecond)
}
