package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"go.uber.org/zap"
)

// mockLedger records appended entries without hashing; tests that need chain
// semantics use the real ledger package.
type mockLedger struct {
	mu      sync.Mutex
	entries []domain.ExplorationLogEntry
	failErr error
}

func (l *mockLedger) Append(ctx context.Context, entry *domain.ExplorationLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *mockLedger) ByCluster(ctx context.Context, clusterID uuid.UUID) ([]domain.ExplorationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ExplorationLogEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *mockLedger) ByCategory(ctx context.Context, clusterID uuid.UUID, category domain.Category) ([]domain.ExplorationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ExplorationLogEntry
	for _, e := range l.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *mockLedger) Verify(ctx context.Context, clusterID uuid.UUID) error { return nil }

func (l *mockLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *mockLedger) at(i int) domain.ExplorationLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[i]
}

// mockStatsStore tracks cluster hypothesis counters in memory.
type mockStatsStore struct {
	mu    sync.Mutex
	stats map[string]*domain.ClusterHypothesisStats
}

func newMockStatsStore() *mockStatsStore {
	return &mockStatsStore{stats: make(map[string]*domain.ClusterHypothesisStats)}
}

func statsKey(clusterID, hypothesisID uuid.UUID) string {
	return clusterID.String() + "/" + hypothesisID.String()
}

func (s *mockStatsStore) get(clusterID, hypothesisID uuid.UUID) *domain.ClusterHypothesisStats {
	key := statsKey(clusterID, hypothesisID)
	st, ok := s.stats[key]
	if !ok {
		st = &domain.ClusterHypothesisStats{ClusterID: clusterID, HypothesisID: hypothesisID}
		s.stats[key] = st
	}
	return st
}

func (s *mockStatsStore) RecordTested(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(clusterID, hypothesisID)
	st.TotalEntitiesTested++
	return st, nil
}

func (s *mockStatsStore) RecordSaturated(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(clusterID, hypothesisID)
	st.SaturatedEntities++
	return st, nil
}

func (s *mockStatsStore) Get(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[statsKey(clusterID, hypothesisID)]; ok {
		return st, nil
	}
	return nil, errors.New("not found")
}

func (s *mockStatsStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.ClusterHypothesisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ClusterHypothesisStats
	for _, st := range s.stats {
		if st.ClusterID == clusterID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *mockStatsStore) totalSaturated(clusterID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int
	for _, st := range s.stats {
		if st.ClusterID == clusterID {
			total += st.SaturatedEntities
		}
	}
	return total
}

// mockReasoning is a scriptable reasoning client.
type mockReasoning struct {
	verdict *domain.Verdict
	err     error
	calls   int
}

func (m *mockReasoning) Classify(ctx context.Context, item domain.EvidenceItem, hypotheses []*domain.Hypothesis) (*domain.Verdict, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.verdict, nil
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
