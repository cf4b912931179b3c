package codec

import (
	"testing"
	"time"

	"github.com/hupe1980/tiermem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("cbor")
	assert.False(t, ok)
}

func TestJSON_RecordRoundTrip(t *testing.T) {
	record := &model.Record{
		ID:         "r1",
		Content:    "hello",
		Embedding:  []float32{0.25, -1, 0},
		Tier:       model.TierInsights,
		Tags:       []string{"ops"},
		CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		LastAccess: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
		Score:      0.7,
	}

	data, err := Default.Marshal(record)
	require.NoError(t, err)

	var got model.Record
	require.NoError(t, Default.Unmarshal(data, &got))

	assert.Equal(t, *record, got)
}
