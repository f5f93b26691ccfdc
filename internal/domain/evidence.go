package domain

import (
	"time"

	"github.com/google/uuid"
)

// Decision classifies a single evidence item against an entity's hypotheses.
type Decision string

const (
	DecisionAccept     Decision = "accept"
	DecisionWeakAccept Decision = "weak_accept"
	DecisionReject     Decision = "reject"
	DecisionNoProgress Decision = "no_progress"
	DecisionSaturated  Decision = "saturated"
)

func ValidDecision(d string) bool {
	switch Decision(d) {
	case DecisionAccept, DecisionWeakAccept, DecisionReject, DecisionNoProgress, DecisionSaturated:
		return true
	}
	return false
}

// decisionDisplayNames maps internal decision values to the names shown to
// operators. Kept separate so internal values can evolve without breaking
// consumers of reports.
var decisionDisplayNames = map[Decision]string{
	DecisionAccept:     "ACCEPT",
	DecisionWeakAccept: "WEAK_ACCEPT",
	DecisionReject:     "REJECT",
	DecisionNoProgress: "NO_PROGRESS",
	DecisionSaturated:  "SATURATED",
}

func (d Decision) DisplayName() string {
	if name, ok := decisionDisplayNames[d]; ok {
		return name
	}
	return string(d)
}

// ConfidenceBand is the coarse bucket derived from a numeric confidence score.
type ConfidenceBand string

const (
	BandExploratory ConfidenceBand = "exploratory"
	BandInformed    ConfidenceBand = "informed"
	BandConfident   ConfidenceBand = "confident"
	BandActionable  ConfidenceBand = "actionable"
)

// Category groups evidence and hypotheses by the procurement signal they
// speak to. Categories are open-ended strings; DefaultCategories is the set
// exploration runs cover.
type Category string

const (
	CategoryProcurement    Category = "procurement_activity"
	CategoryHiring         Category = "hiring_signals"
	CategoryTechStack      Category = "tech_stack"
	CategoryExpansion      Category = "expansion"
	CategoryLeadership     Category = "leadership_change"
	CategoryPublicContract Category = "public_contracts"
)

func DefaultCategories() []Category {
	return []Category{
		CategoryProcurement,
		CategoryHiring,
		CategoryTechStack,
		CategoryExpansion,
		CategoryLeadership,
		CategoryPublicContract,
	}
}

// EvidenceItem is one already-fetched observation about an entity. The core
// never retrieves content itself; items arrive from the collection layer.
type EvidenceItem struct {
	ID          uuid.UUID `json:"id"`
	EntityID    uuid.UUID `json:"entity_id"`
	Category    Category  `json:"category"`
	Statement   string    `json:"statement"`
	Indicators  []string  `json:"indicators,omitempty"`
	Contradicts bool      `json:"contradicts,omitempty"`
	SourceRef   string    `json:"source_ref,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Verdict is the structured output of the external reasoning service for one
// evidence item. The core treats it as opaque and possibly absent.
type Verdict struct {
	Decision     Decision `json:"decision"`
	Confidence   float64  `json:"confidence"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
}
