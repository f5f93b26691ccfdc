package domain

import (
	"time"

	"github.com/google/uuid"
)

// HypothesisStatus tracks the lifecycle of a hypothesis. Hypotheses are never
// deleted, only superseded or exhausted.
type HypothesisStatus string

const (
	HypothesisActive     HypothesisStatus = "active"
	HypothesisSuperseded HypothesisStatus = "superseded"
	HypothesisExhausted  HypothesisStatus = "exhausted"
)

// Hypothesis is a testable statement about one entity in one category,
// created on first supporting evidence and reinforced or weakened by every
// relevant decision afterwards.
type Hypothesis struct {
	ID              uuid.UUID        `json:"id"`
	EntityID        uuid.UUID        `json:"entity_id"`
	Category        Category         `json:"category"`
	Statement       string           `json:"statement"`
	Confidence      float64          `json:"confidence"`
	ReinforcedCount int              `json:"reinforced_count"`
	WeakenedCount   int              `json:"weakened_count"`
	LastUpdated     time.Time        `json:"last_updated"`
	Status          HypothesisStatus `json:"status"`
}

// CategoryStats accumulates per-category decision counts for one entity.
type CategoryStats struct {
	TotalIterations int      `json:"total_iterations"`
	AcceptCount     int      `json:"accept_count"`
	WeakAcceptCount int      `json:"weak_accept_count"`
	RejectCount     int      `json:"reject_count"`
	NoProgressCount int      `json:"no_progress_count"`
	LastDecision    Decision `json:"last_decision,omitempty"`

	// ConsecutiveRejects and RecentGains feed saturation detection; they are
	// bookkeeping, not reported statistics.
	ConsecutiveRejects int       `json:"consecutive_rejects"`
	RecentGains        []float64 `json:"recent_gains,omitempty"`
}

// SaturationScore is derived from the counts, never stored independently.
// It grows toward 1.0 as a category stops yielding new signal.
func (cs *CategoryStats) SaturationScore() float64 {
	if cs.TotalIterations == 0 {
		return 0
	}
	unproductive := cs.RejectCount + cs.NoProgressCount
	return float64(unproductive) / float64(cs.TotalIterations)
}

// BeliefAction says which direction a ledger entry moved confidence.
type BeliefAction string

const (
	ActionReinforce BeliefAction = "REINFORCE"
	ActionWeaken    BeliefAction = "WEAKEN"
)

// BeliefLedgerEntry is the write-once record of one confidence change.
// Once appended it is never mutated; the ledger is the sole record of why an
// entity's confidence moved.
type BeliefLedgerEntry struct {
	Iteration        int          `json:"iteration"`
	HypothesisID     uuid.UUID    `json:"hypothesis_id"`
	Action           BeliefAction `json:"action"`
	ConfidenceImpact float64      `json:"confidence_impact"`
	EvidenceRef      string       `json:"evidence_ref,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
	Category         Category     `json:"category"`
}

// EntityConfidenceState is the complete confidence picture for one entity.
// It is exclusively owned by the task processing that entity; nothing here
// is safe for concurrent use.
type EntityConfidenceState struct {
	EntityID            uuid.UUID                   `json:"entity_id"`
	ClusterID           uuid.UUID                   `json:"cluster_id"`
	CurrentConfidence   float64                     `json:"current_confidence"`
	ConfidenceCeiling   float64                     `json:"confidence_ceiling"`
	IterationsCompleted int                         `json:"iterations_completed"`
	CategoryStats       map[Category]*CategoryStats `json:"category_stats"`
	ActiveHypotheses    []*Hypothesis               `json:"active_hypotheses"`
	BeliefLedger        []BeliefLedgerEntry         `json:"belief_ledger"`
	SeenFingerprints    map[string]int              `json:"seen_fingerprints,omitempty"`
}

// NewEntityConfidenceState seeds a state at the given baseline and ceiling.
func NewEntityConfidenceState(entityID, clusterID uuid.UUID, baseline, ceiling float64) *EntityConfidenceState {
	return &EntityConfidenceState{
		EntityID:          entityID,
		ClusterID:         clusterID,
		CurrentConfidence: baseline,
		ConfidenceCeiling: ceiling,
		CategoryStats:     make(map[Category]*CategoryStats),
		SeenFingerprints:  make(map[string]int),
	}
}

// Stats returns the category stats bucket, creating it on first use.
func (s *EntityConfidenceState) Stats(c Category) *CategoryStats {
	cs, ok := s.CategoryStats[c]
	if !ok {
		cs = &CategoryStats{}
		s.CategoryStats[c] = cs
	}
	return cs
}

// AcceptTotals returns the total ACCEPT count and the number of distinct
// categories holding at least one ACCEPT.
func (s *EntityConfidenceState) AcceptTotals() (total, categories int) {
	for _, cs := range s.CategoryStats {
		if cs.AcceptCount > 0 {
			categories++
			total += cs.AcceptCount
		}
	}
	return total, categories
}

// HypothesisFor returns the active hypothesis for a category, if any.
func (s *EntityConfidenceState) HypothesisFor(c Category) *Hypothesis {
	for _, h := range s.ActiveHypotheses {
		if h.Category == c && h.Status == HypothesisActive {
			return h
		}
	}
	return nil
}

// Band maps the current confidence to its coarse band. The actionable band
// additionally requires at least 2 ACCEPT decisions spread across at least 2
// distinct categories; without that gate a score above 0.80 reports as
// confident, never actionable.
func (s *EntityConfidenceState) Band() ConfidenceBand {
	c := s.CurrentConfidence
	switch {
	case c < 0.30:
		return BandExploratory
	case c < 0.60:
		return BandInformed
	case c <= 0.80:
		return BandConfident
	}
	total, categories := s.AcceptTotals()
	if total >= 2 && categories >= 2 {
		return BandActionable
	}
	return BandConfident
}
