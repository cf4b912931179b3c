package promotion

import (
	"math"
	"time"

	"github.com/hupe1980/tiermem/model"
)

// Scoring weights. Relevance dominates, usage and freshness refine.
const (
	weightRelevance = 0.4
	weightAccess    = 0.3
	weightRecency   = 0.2
	weightAge       = 0.1
)

// Priority combines relevance, usage and freshness into a single promotion
// priority.
//
// The access factor grows logarithmically so heavy hitters do not drown out
// everything else. The recency factor halves roughly per day since last
// access, the age factor per week since creation.
func Priority(record *model.Record, now time.Time) float64 {
	ageFactor := 1.0 / (1.0 + record.AgeHours(now)/168.0)
	accessFactor := math.Log1p(float64(record.AccessCount)) / 10.0
	recencyFactor := 1.0 / (1.0 + record.HoursSinceAccess(now)/24.0)

	return float64(record.Score)*weightRelevance +
		accessFactor*weightAccess +
		recencyFactor*weightRecency +
		ageFactor*weightAge
}
