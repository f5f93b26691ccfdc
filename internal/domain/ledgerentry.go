package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExplorationLogEntry is one link in the append-only evidence ledger chain.
// EntryHash covers the canonical serialization of every other field,
// PreviousHash included, so any later mutation invalidates the chain from
// that point forward.
type ExplorationLogEntry struct {
	EntryID           uuid.UUID `json:"entry_id"`
	Timestamp         time.Time `json:"timestamp"`
	ClusterID         uuid.UUID `json:"cluster_id"`
	Category          Category  `json:"category"`
	Hypothesis        string    `json:"hypothesis"`
	PatternsObserved  []string  `json:"patterns_observed,omitempty"`
	ConfidenceSignals []float64 `json:"confidence_signals,omitempty"`
	PreviousHash      string    `json:"previous_hash"`
	EntryHash         string    `json:"entry_hash"`
}
