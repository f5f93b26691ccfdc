package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// ClusterExhaustionMinEntities is the minimum sample before a hypothesis
	// can be declared exhausted for a cluster.
	ClusterExhaustionMinEntities = 5
	// ClusterExhaustionRate is the saturated fraction at which a hypothesis
	// stops being worth testing on further entities in the cluster.
	ClusterExhaustionRate = 0.7
)

// ClusterHypothesisStats tracks how one hypothesis has fared across the
// entities of a cluster. Mutated by many entity tasks concurrently; all
// writes go through the store's synchronized increment.
type ClusterHypothesisStats struct {
	ClusterID           uuid.UUID  `json:"cluster_id"`
	HypothesisID        uuid.UUID  `json:"hypothesis_id"`
	TotalEntitiesTested int        `json:"total_entities_tested"`
	SaturatedEntities   int        `json:"saturated_entities"`
	LastSaturationAt    *time.Time `json:"last_saturation_at,omitempty"`
}

// SaturationRate is the fraction of tested entities that saturated.
func (c *ClusterHypothesisStats) SaturationRate() float64 {
	if c.TotalEntitiesTested == 0 {
		return 0
	}
	return float64(c.SaturatedEntities) / float64(c.TotalEntitiesTested)
}

// Exhausted reports whether the cluster has learned all it is going to learn
// from this hypothesis: a meaningful sample, most of it saturated.
func (c *ClusterHypothesisStats) Exhausted() bool {
	return c.TotalEntitiesTested >= ClusterExhaustionMinEntities &&
		c.SaturationRate() >= ClusterExhaustionRate
}

// PatternStats aggregates one observed pattern across the exploration sample.
type PatternStats struct {
	Pattern            string   `json:"pattern"`
	Category           Category `json:"category"`
	Observations       int      `json:"observations"`
	AvgConfidence      float64  `json:"avg_confidence"`
	EntitiesExhibiting int      `json:"entities_exhibiting"`
}

// ExplorationReport is the aggregate of running the confidence state machine
// over a representative entity sample. Promotion decisions are evaluated
// against it, and a promoted template keeps a reference back to it.
type ExplorationReport struct {
	ID                uuid.UUID                `json:"id"`
	ClusterID         uuid.UUID                `json:"cluster_id"`
	SampleSize        int                      `json:"sample_size"`
	TotalObservations int                      `json:"total_observations"`
	Patterns          map[string]*PatternStats `json:"patterns"`
	StartedAt         time.Time                `json:"started_at"`
	CompletedAt       time.Time                `json:"completed_at"`
}

// PromotionOutcome is the decision taken for one pattern in a report.
type PromotionOutcome string

const (
	OutcomePromote          PromotionOutcome = "promote"
	OutcomePromoteWithGuard PromotionOutcome = "promote_with_guard"
	OutcomeKeepExploring    PromotionOutcome = "keep_exploring"
)

// PatternTemplate is an immutable template version minted when a pattern is
// promoted. New evidence about the pattern produces a new version; existing
// versions are never edited.
type PatternTemplate struct {
	ID               uuid.UUID        `json:"id"`
	ClusterID        uuid.UUID        `json:"cluster_id"`
	Pattern          string           `json:"pattern"`
	Category         Category         `json:"category"`
	Version          int              `json:"version"`
	Outcome          PromotionOutcome `json:"outcome"`
	SourceReportID   uuid.UUID        `json:"source_report_id"`
	SourceConfidence float64          `json:"source_confidence"`
	Guarded          bool             `json:"guarded"`
	CreatedAt        time.Time        `json:"created_at"`
}
