package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier identifies one of the ordered retention levels. Records enter at
// TierInteract and can only move forward (Interact -> Insights -> Assets).
type Tier int

const (
	TierInteract Tier = iota
	TierInsights
	TierAssets
)

// Tiers lists all tiers in promotion order.
var Tiers = []Tier{TierInteract, TierInsights, TierAssets}

// String returns a string representation of the Tier.
func (t Tier) String() string {
	switch t {
	case TierInteract:
		return "interact"
	case TierInsights:
		return "insights"
	case TierAssets:
		return "assets"
	default:
		return "unknown"
	}
}

// Partition returns the ledger partition name for the tier.
func (t Tier) Partition() string {
	return "tier_" + t.String()
}

// Next returns the destination tier for a promotion out of t.
// ok is false for TierAssets, which has no destination.
func (t Tier) Next() (next Tier, ok bool) {
	switch t {
	case TierInteract:
		return TierInsights, true
	case TierInsights:
		return TierAssets, true
	default:
		return t, false
	}
}

// Record is the unit of storage: a piece of content with its embedding and
// the usage bookkeeping that drives promotion and expiration.
type Record struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding"`
	Tier        Tier      `json:"tier"`
	Tags        []string  `json:"tags,omitempty"`
	Project     string    `json:"project,omitempty"`
	Session     string    `json:"session,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount uint32    `json:"access_count"`

	// Score is the relevance score in [0,1]. It feeds the promotion
	// priority and may decay when the record changes tier.
	Score float32 `json:"score"`
}

// NewRecord creates a Record with a fresh id in TierInteract.
func NewRecord(content string, embedding []float32) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:         uuid.NewString(),
		Content:    content,
		Embedding:  embedding,
		Tier:       TierInteract,
		CreatedAt:  now,
		LastAccess: now,
		Score:      0.5,
	}
}

// AgeHours returns the record age in hours at the given time.
func (r *Record) AgeHours(now time.Time) float64 {
	return now.Sub(r.CreatedAt).Hours()
}

// HoursSinceAccess returns hours since the record was last read.
func (r *Record) HoursSinceAccess(now time.Time) float64 {
	return now.Sub(r.LastAccess).Hours()
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Embedding != nil {
		cp.Embedding = make([]float32, len(r.Embedding))
		copy(cp.Embedding, r.Embedding)
	}
	if r.Tags != nil {
		cp.Tags = make([]string, len(r.Tags))
		copy(cp.Tags, r.Tags)
	}
	return &cp
}

// PromotionEvent describes a single record move between adjacent tiers.
type PromotionEvent struct {
	RecordID string    `json:"record_id"`
	From     Tier      `json:"from"`
	To       Tier      `json:"to"`
	Reason   string    `json:"reason"`
	Score    float64   `json:"score"`
	At       time.Time `json:"at"`
}
