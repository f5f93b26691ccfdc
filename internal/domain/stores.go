package domain

import (
	"context"

	"github.com/google/uuid"
)

// EvidenceLedger is the append-only, hash-chained record of exploration
// decisions. No update or delete operation exists anywhere on this interface.
type EvidenceLedger interface {
	Append(ctx context.Context, entry *ExplorationLogEntry) error
	ByCluster(ctx context.Context, clusterID uuid.UUID) ([]ExplorationLogEntry, error)
	ByCategory(ctx context.Context, clusterID uuid.UUID, category Category) ([]ExplorationLogEntry, error)
	Verify(ctx context.Context, clusterID uuid.UUID) error
}

// LedgerLog is the persistence contract beneath the ledger: an ordered append
// log per cluster. Implementations only store and list; chaining and
// verification live above them.
type LedgerLog interface {
	AppendEntry(ctx context.Context, entry *ExplorationLogEntry) error
	ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]ExplorationLogEntry, error)
}

// BindingStore addresses runtime bindings by (template_id, entity_id).
type BindingStore interface {
	Create(ctx context.Context, b *RuntimeBinding) error
	Get(ctx context.Context, templateID, entityID uuid.UUID) (*RuntimeBinding, error)
	Update(ctx context.Context, b *RuntimeBinding) error
	ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*RuntimeBinding, error)
	ListByState(ctx context.Context, state BindingState) ([]*RuntimeBinding, error)
}

// ClusterStatsStore holds per-(cluster, hypothesis) saturation counters.
// Increments must be synchronized per (cluster_id, hypothesis_id) key;
// increments for different keys must not serialize against each other.
type ClusterStatsStore interface {
	RecordTested(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*ClusterHypothesisStats, error)
	RecordSaturated(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*ClusterHypothesisStats, error)
	Get(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*ClusterHypothesisStats, error)
	ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*ClusterHypothesisStats, error)
}

// TemplateStore holds immutable promoted template versions.
type TemplateStore interface {
	Create(ctx context.Context, t *PatternTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatternTemplate, error)
	LatestVersion(ctx context.Context, clusterID uuid.UUID, pattern string) (*PatternTemplate, error)
	ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*PatternTemplate, error)
}

// ReportStore persists exploration reports so promoted templates can point
// back at the evidence that justified them.
type ReportStore interface {
	Create(ctx context.Context, r *ExplorationReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*ExplorationReport, error)
}

// EntityStateStore persists per-entity confidence states between runs. Each
// state is only ever checked out by one task at a time.
type EntityStateStore interface {
	Save(ctx context.Context, s *EntityConfidenceState) error
	Get(ctx context.Context, entityID uuid.UUID) (*EntityConfidenceState, error)
	ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*EntityConfidenceState, error)
}

// ReasoningClient is the external reasoning service: given raw evidence and
// the entity's active hypotheses, it returns a structured verdict. Callers
// must treat it as opaque and possibly failing.
type ReasoningClient interface {
	Classify(ctx context.Context, item EvidenceItem, hypotheses []*Hypothesis) (*Verdict, error)
}

// EvidenceSource hands the core already-fetched evidence for one entity. The
// collection layer behind it is the only place an entity task suspends.
type EvidenceSource interface {
	Evidence(ctx context.Context, entityID uuid.UUID) ([]EvidenceItem, error)
}
