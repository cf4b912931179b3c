package metrics

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow is the number of recent samples kept for percentiles.
const latencyWindow = 1000

// LatencySnapshot is a point-in-time view of a latency distribution.
// Percentiles are computed over the most recent samples only; count, sum,
// min and max cover the full lifetime.
type LatencySnapshot struct {
	Count uint64  `json:"count"`
	SumMs float64 `json:"sum_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Latency tracks a latency distribution over a sliding sample window.
// Safe for concurrent use.
type Latency struct {
	mu      sync.Mutex
	count   uint64
	sum     float64
	min     float64
	max     float64
	samples []float64
	next    int
	full    bool
}

// Record adds one duration to the distribution.
func (l *Latency) Record(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 || ms < l.min {
		l.min = ms
	}
	if ms > l.max {
		l.max = ms
	}
	l.count++
	l.sum += ms

	if l.samples == nil {
		l.samples = make([]float64, latencyWindow)
	}
	l.samples[l.next] = ms
	l.next++
	if l.next == latencyWindow {
		l.next = 0
		l.full = true
	}
}

// Snapshot returns the current distribution.
func (l *Latency) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := LatencySnapshot{
		Count: l.count,
		SumMs: l.sum,
		MinMs: l.min,
		MaxMs: l.max,
	}
	if l.count == 0 {
		return s
	}
	s.AvgMs = l.sum / float64(l.count)

	n := l.next
	if l.full {
		n = latencyWindow
	}

	sorted := make([]float64, n)
	copy(sorted, l.samples[:n])
	sort.Float64s(sorted)

	s.P50Ms = sorted[n/2]
	s.P90Ms = sorted[int(float64(n)*0.9)]
	s.P99Ms = sorted[int(float64(n)*0.99)]

	return s
}
