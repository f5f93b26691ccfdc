package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
)

// In-memory store implementations. They back DB-less runs and tests, and
// carry the same per-key synchronization contract as the Postgres versions:
// writes serialize per key, never globally.

// MemBindingStore keys bindings by (template_id, entity_id).
type MemBindingStore struct {
	mu       sync.RWMutex
	bindings map[bindingKey]*domain.RuntimeBinding
}

type bindingKey struct {
	templateID uuid.UUID
	entityID   uuid.UUID
}

func NewMemBindingStore() *MemBindingStore {
	return &MemBindingStore{bindings: make(map[bindingKey]*domain.RuntimeBinding)}
}

func (s *MemBindingStore) Create(ctx context.Context, b *domain.RuntimeBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey{b.TemplateID, b.EntityID}
	if _, exists := s.bindings[key]; exists {
		return fmt.Errorf("binding %s/%s already exists", b.TemplateID, b.EntityID)
	}
	clone := *b
	s.bindings[key] = &clone
	return nil
}

func (s *MemBindingStore) Get(ctx context.Context, templateID, entityID uuid.UUID) (*domain.RuntimeBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[bindingKey{templateID, entityID}]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (s *MemBindingStore) Update(ctx context.Context, b *domain.RuntimeBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey{b.TemplateID, b.EntityID}
	if _, ok := s.bindings[key]; !ok {
		return ErrNotFound
	}
	clone := *b
	s.bindings[key] = &clone
	return nil
}

func (s *MemBindingStore) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*domain.RuntimeBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.RuntimeBinding
	for key, b := range s.bindings {
		if key.templateID == templateID {
			clone := *b
			out = append(out, &clone)
		}
	}
	sortBindings(out)
	return out, nil
}

func (s *MemBindingStore) ListByState(ctx context.Context, state domain.BindingState) ([]*domain.RuntimeBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.RuntimeBinding
	for _, b := range s.bindings {
		if b.State == state {
			clone := *b
			out = append(out, &clone)
		}
	}
	sortBindings(out)
	return out, nil
}

func sortBindings(bindings []*domain.RuntimeBinding) {
	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].TemplateID != bindings[j].TemplateID {
			return bindings[i].TemplateID.String() < bindings[j].TemplateID.String()
		}
		return bindings[i].EntityID.String() < bindings[j].EntityID.String()
	})
}

// MemClusterStatsStore synchronizes increments per (cluster, hypothesis) key:
// one mutex per key, no global lock on the counter hot path.
type MemClusterStatsStore struct {
	mu    sync.Mutex // guards the maps themselves, not the per-key counters
	locks map[clusterKey]*sync.Mutex
	stats map[clusterKey]*domain.ClusterHypothesisStats
}

type clusterKey struct {
	clusterID    uuid.UUID
	hypothesisID uuid.UUID
}

func NewMemClusterStatsStore() *MemClusterStatsStore {
	return &MemClusterStatsStore{
		locks: make(map[clusterKey]*sync.Mutex),
		stats: make(map[clusterKey]*domain.ClusterHypothesisStats),
	}
}

func (s *MemClusterStatsStore) entry(clusterID, hypothesisID uuid.UUID) (*sync.Mutex, *domain.ClusterHypothesisStats) {
	key := clusterKey{clusterID, hypothesisID}
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
		s.stats[key] = &domain.ClusterHypothesisStats{
			ClusterID:    clusterID,
			HypothesisID: hypothesisID,
		}
	}
	return lock, s.stats[key]
}

func (s *MemClusterStatsStore) RecordTested(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	lock, stats := s.entry(clusterID, hypothesisID)
	lock.Lock()
	defer lock.Unlock()
	stats.TotalEntitiesTested++
	clone := *stats
	return &clone, nil
}

func (s *MemClusterStatsStore) RecordSaturated(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	lock, stats := s.entry(clusterID, hypothesisID)
	lock.Lock()
	defer lock.Unlock()
	now := time.Now().UTC()
	stats.SaturatedEntities++
	stats.LastSaturationAt = &now
	clone := *stats
	return &clone, nil
}

func (s *MemClusterStatsStore) Get(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	s.mu.Lock()
	stats, ok := s.stats[clusterKey{clusterID, hypothesisID}]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	clone := *stats
	return &clone, nil
}

func (s *MemClusterStatsStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.ClusterHypothesisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ClusterHypothesisStats
	for key, stats := range s.stats {
		if key.clusterID == clusterID {
			clone := *stats
			out = append(out, &clone)
		}
	}
	return out, nil
}

// MemTemplateStore holds immutable template versions.
type MemTemplateStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*domain.PatternTemplate
}

func NewMemTemplateStore() *MemTemplateStore {
	return &MemTemplateStore{templates: make(map[uuid.UUID]*domain.PatternTemplate)}
}

func (s *MemTemplateStore) Create(ctx context.Context, t *domain.PatternTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[t.ID]; exists {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	clone := *t
	s.templates[t.ID] = &clone
	return nil
}

func (s *MemTemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.PatternTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *MemTemplateStore) LatestVersion(ctx context.Context, clusterID uuid.UUID, pattern string) (*domain.PatternTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.PatternTemplate
	for _, t := range s.templates {
		if t.ClusterID != clusterID || t.Pattern != pattern {
			continue
		}
		if latest == nil || t.Version > latest.Version {
			latest = t
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (s *MemTemplateStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.PatternTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.PatternTemplate
	for _, t := range s.templates {
		if t.ClusterID == clusterID {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// MemReportStore keeps exploration reports addressable by id.
type MemReportStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*domain.ExplorationReport
}

func NewMemReportStore() *MemReportStore {
	return &MemReportStore{reports: make(map[uuid.UUID]*domain.ExplorationReport)}
}

func (s *MemReportStore) Create(ctx context.Context, r *domain.ExplorationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

func (s *MemReportStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExplorationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// MemEntityStateStore persists per-entity confidence states between runs.
// States are handed out by reference; ownership discipline (one task per
// entity at a time) is the caller's responsibility, as it is everywhere.
type MemEntityStateStore struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*domain.EntityConfidenceState
}

func NewMemEntityStateStore() *MemEntityStateStore {
	return &MemEntityStateStore{states: make(map[uuid.UUID]*domain.EntityConfidenceState)}
}

func (s *MemEntityStateStore) Save(ctx context.Context, state *domain.EntityConfidenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.EntityID] = state
	return nil
}

func (s *MemEntityStateStore) Get(ctx context.Context, entityID uuid.UUID) (*domain.EntityConfidenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *MemEntityStateStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.EntityConfidenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.EntityConfidenceState
	for _, state := range s.states {
		if state.ClusterID == clusterID {
			out = append(out, state)
		}
	}
	return out, nil
}

// MemLedgerLog is the ordered append log per cluster beneath the evidence
// ledger. Entries, once appended, are returned as stored forever; there is no
// update or delete.
type MemLedgerLog struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]domain.ExplorationLogEntry
}

func NewMemLedgerLog() *MemLedgerLog {
	return &MemLedgerLog{entries: make(map[uuid.UUID][]domain.ExplorationLogEntry)}
}

func (s *MemLedgerLog) AppendEntry(ctx context.Context, entry *domain.ExplorationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ClusterID] = append(s.entries[entry.ClusterID], *entry)
	return nil
}

func (s *MemLedgerLog) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]domain.ExplorationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[clusterID]
	out := make([]domain.ExplorationLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}
