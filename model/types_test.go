package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierNext(t *testing.T) {
	next, ok := TierInteract.Next()
	require.True(t, ok)
	assert.Equal(t, TierInsights, next)

	next, ok = TierInsights.Next()
	require.True(t, ok)
	assert.Equal(t, TierAssets, next)

	_, ok = TierAssets.Next()
	assert.False(t, ok)
}

func TestTierPartition(t *testing.T) {
	assert.Equal(t, "tier_interact", TierInteract.Partition())
	assert.Equal(t, "tier_insights", TierInsights.Partition())
	assert.Equal(t, "tier_assets", TierAssets.Partition())
}

func TestNewRecord(t *testing.T) {
	r := NewRecord("hello", []float32{1, 2, 3})

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, TierInteract, r.Tier)
	assert.Equal(t, uint32(0), r.AccessCount)
	assert.Equal(t, float32(0.5), r.Score)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestRecordClone(t *testing.T) {
	r := NewRecord("hello", []float32{1, 2, 3})
	r.Tags = []string{"a"}

	cp := r.Clone()
	cp.Embedding[0] = 99
	cp.Tags[0] = "b"

	assert.Equal(t, float32(1), r.Embedding[0])
	assert.Equal(t, "a", r.Tags[0])
}

func TestRecordAge(t *testing.T) {
	r := NewRecord("hello", nil)
	r.CreatedAt = time.Now().Add(-2 * time.Hour)
	r.LastAccess = time.Now().Add(-1 * time.Hour)

	now := time.Now()
	assert.InDelta(t, 2.0, r.AgeHours(now), 0.01)
	assert.InDelta(t, 1.0, r.HoursSinceAccess(now), 0.01)
}
