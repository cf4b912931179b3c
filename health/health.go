// Package health tracks per-component success rates and raises alerts when
// components degrade. It is passive: components report operation outcomes
// and the monitor derives statuses from them.
package health

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the health level of a component or of the whole system.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusDown
)

// String returns a string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Severity classifies an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityFatal
)

// String returns a string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Component identifies a monitored subsystem.
type Component string

const (
	ComponentVectorStore     Component = "vector_store"
	ComponentLedger          Component = "ledger"
	ComponentEmbedder        Component = "embedder"
	ComponentPromotionEngine Component = "promotion_engine"
	ComponentCache           Component = "cache"
)

// PerformanceStats aggregates operation outcomes for one component.
type PerformanceStats struct {
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	SuccessRate       float64   `json:"success_rate"`
	TotalRequests     uint64    `json:"total_requests"`
	FailedRequests    uint64    `json:"failed_requests"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitzero"`
}

// Alert is a raised health condition.
type Alert struct {
	ID          string    `json:"id"`
	Component   Component `json:"component"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Resolved    bool      `json:"resolved"`
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`
}

// SystemStatus is the aggregate health of the memory subsystem.
type SystemStatus struct {
	Overall       Status                         `json:"overall"`
	Components    map[Component]Status           `json:"components"`
	Performance   map[Component]PerformanceStats `json:"performance"`
	ActiveAlerts  []Alert                        `json:"active_alerts"`
	UptimeSeconds uint64                         `json:"uptime_seconds"`
	LastUpdated   time.Time                      `json:"last_updated"`
}

// Options represents the options for the health monitor.
type Options struct {
	// EnableAlerts turns alert creation on. When disabled CreateAlert is
	// a no-op and only statuses are tracked.
	EnableAlerts bool

	// AlertCooldown suppresses duplicate alerts (same component and title)
	// raised within the window.
	AlertCooldown time.Duration

	// OnAlert, when set, is invoked synchronously for every new alert.
	OnAlert func(Alert)
}

// DefaultOptions holds the default health monitor options.
var DefaultOptions = Options{
	EnableAlerts:  true,
	AlertCooldown: 5 * time.Minute,
}

// Monitor tracks component health. Safe for concurrent use.
type Monitor struct {
	mu        sync.RWMutex
	stats     map[Component]*PerformanceStats
	alerts    map[string]*Alert
	lastAlert map[string]time.Time // component/title -> last raise
	opts      Options
	startTime time.Time
	now       func() time.Time
}

// NewMonitor creates a health monitor.
func NewMonitor(optFns ...func(o *Options)) *Monitor {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Monitor{
		stats:     make(map[Component]*PerformanceStats),
		alerts:    make(map[string]*Alert),
		lastAlert: make(map[string]time.Time),
		opts:      opts,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RecordOperation records one operation outcome for a component.
func (m *Monitor) RecordOperation(component Component, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.stats[component]
	if !ok {
		stats = &PerformanceStats{SuccessRate: 1}
		m.stats[component] = stats
	}

	stats.TotalRequests++
	if err != nil {
		stats.FailedRequests++
		stats.LastError = err.Error()
		stats.LastErrorTime = m.now().UTC()
	}

	total := float64(stats.TotalRequests)
	ms := float64(duration) / float64(time.Millisecond)
	stats.AvgResponseTimeMs = (stats.AvgResponseTimeMs*(total-1) + ms) / total
	stats.SuccessRate = float64(stats.TotalRequests-stats.FailedRequests) / total
}

// statusForRate maps a success rate to a Status.
func statusForRate(rate float64) Status {
	switch {
	case rate >= 0.95:
		return StatusHealthy
	case rate >= 0.80:
		return StatusDegraded
	case rate >= 0.50:
		return StatusUnhealthy
	default:
		return StatusDown
	}
}

// CreateAlert raises an alert. Duplicate alerts within the cooldown window
// are dropped. Returns the alert ID, or "" when suppressed.
func (m *Monitor) CreateAlert(component Component, severity Severity, title, description string) string {
	if !m.opts.EnableAlerts {
		return ""
	}

	m.mu.Lock()

	key := string(component) + "/" + title
	if last, ok := m.lastAlert[key]; ok && m.now().Sub(last) < m.opts.AlertCooldown {
		m.mu.Unlock()
		return ""
	}
	m.lastAlert[key] = m.now()

	alert := &Alert{
		ID:          uuid.NewString(),
		Component:   component,
		Severity:    severity,
		Title:       title,
		Description: description,
		CreatedAt:   m.now().UTC(),
	}
	m.alerts[alert.ID] = alert

	onAlert := m.opts.OnAlert
	copied := *alert
	m.mu.Unlock()

	if onAlert != nil {
		onAlert(copied)
	}

	return copied.ID
}

// ResolveAlert marks an alert as resolved. Returns false if the alert is
// unknown.
func (m *Monitor) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return false
	}
	alert.Resolved = true
	alert.ResolvedAt = m.now().UTC()

	return true
}

// ActiveAlerts returns all unresolved alerts.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []Alert
	for _, alert := range m.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}

	return alerts
}

// ComponentPerformance returns the stats for one component.
func (m *Monitor) ComponentPerformance(component Component) (PerformanceStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, ok := m.stats[component]
	if !ok {
		return PerformanceStats{}, false
	}

	return *stats, true
}

// SystemHealth computes the aggregate status. The overall status is the
// worst of all component statuses.
func (m *Monitor) SystemHealth() SystemStatus {
	m.mu.RLock()

	components := make(map[Component]Status, len(m.stats))
	performance := make(map[Component]PerformanceStats, len(m.stats))
	overall := StatusHealthy

	for component, stats := range m.stats {
		status := statusForRate(stats.SuccessRate)
		components[component] = status
		performance[component] = *stats
		if status > overall {
			overall = status
		}
	}
	m.mu.RUnlock()

	return SystemStatus{
		Overall:       overall,
		Components:    components,
		Performance:   performance,
		ActiveAlerts:  m.ActiveAlerts(),
		UptimeSeconds: uint64(time.Since(m.startTime).Seconds()),
		LastUpdated:   m.now().UTC(),
	}
}
