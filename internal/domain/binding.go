package domain

import (
	"time"

	"github.com/google/uuid"
)

// BindingState is the lifecycle state of a runtime binding.
type BindingState string

const (
	BindingExploring BindingState = "exploring"
	BindingPromoted  BindingState = "promoted"
	BindingFrozen    BindingState = "frozen"
	BindingRetired   BindingState = "retired"
)

func ValidBindingState(s string) bool {
	switch BindingState(s) {
	case BindingExploring, BindingPromoted, BindingFrozen, BindingRetired:
		return true
	}
	return false
}

// CanTransitionTo enforces the lifecycle graph. Retired is terminal: no
// transition out of it is ever legal.
func (s BindingState) CanTransitionTo(next BindingState) bool {
	switch s {
	case BindingExploring:
		return next == BindingPromoted || next == BindingRetired
	case BindingPromoted:
		return next == BindingFrozen || next == BindingRetired
	case BindingFrozen:
		return next == BindingRetired
	case BindingRetired:
		return false
	}
	return false
}

// RuntimeBinding is the materialized application of a promoted pattern to one
// specific entity, with its own usage history and lifecycle.
type RuntimeBinding struct {
	TemplateID           uuid.UUID    `json:"template_id"`
	EntityID             uuid.UUID    `json:"entity_id"`
	DiscoveredChannels   []string     `json:"discovered_channels,omitempty"`
	EnrichedPatterns     []string     `json:"enriched_patterns,omitempty"`
	ConfidenceAdjustment float64      `json:"confidence_adjustment"`
	UsageCount           int          `json:"usage_count"`
	SuccessCount         int          `json:"success_count"`
	ZeroSignalStreak     int          `json:"zero_signal_streak"`
	State                BindingState `json:"state"`
	LastUsed             *time.Time   `json:"last_used,omitempty"`
	PromotedAt           *time.Time   `json:"promoted_at,omitempty"`
	RetiredAt            *time.Time   `json:"retired_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// SuccessRate is the fraction of executions that found signal.
func (b *RuntimeBinding) SuccessRate() float64 {
	if b.UsageCount == 0 {
		return 0
	}
	return float64(b.SuccessCount) / float64(b.UsageCount)
}

// DriftRecommendation is the outcome of a governance drift check.
type DriftRecommendation string

const (
	DriftRetire  DriftRecommendation = "retire"
	DriftMonitor DriftRecommendation = "monitor"
	DriftHealthy DriftRecommendation = "healthy"
)

// DriftReport carries the recommendation plus a human-readable rationale
// listing every threshold the binding breached.
type DriftReport struct {
	TemplateID     uuid.UUID           `json:"template_id"`
	EntityID       uuid.UUID           `json:"entity_id"`
	Recommendation DriftRecommendation `json:"recommendation"`
	Rationale      []string            `json:"rationale"`
	CheckedAt      time.Time           `json:"checked_at"`
}
