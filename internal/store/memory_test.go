package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
)

func TestMemBindingStore_CloneOnRead(t *testing.T) {
	s := NewMemBindingStore()
	ctx := context.Background()

	templateID := uuid.New()
	entityID := uuid.New()
	if err := s.Create(ctx, &domain.RuntimeBinding{
		TemplateID: templateID,
		EntityID:   entityID,
		State:      domain.BindingExploring,
		UsageCount: 1,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, templateID, entityID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Mutating a read copy must never leak into the store.
	got.UsageCount = 99
	got.State = domain.BindingRetired

	again, err := s.Get(ctx, templateID, entityID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.UsageCount != 1 || again.State != domain.BindingExploring {
		t.Fatalf("stored binding was mutated through a read copy: %+v", again)
	}
}

func TestMemBindingStore_DuplicateCreateFails(t *testing.T) {
	s := NewMemBindingStore()
	ctx := context.Background()

	b := &domain.RuntimeBinding{TemplateID: uuid.New(), EntityID: uuid.New(), State: domain.BindingExploring}
	if err := s.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, b); err == nil {
		t.Fatal("duplicate create should fail")
	}
}

func TestMemBindingStore_UpdateMissing(t *testing.T) {
	s := NewMemBindingStore()
	err := s.Update(context.Background(), &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemBindingStore_ListByState(t *testing.T) {
	s := NewMemBindingStore()
	ctx := context.Background()
	templateID := uuid.New()

	for _, state := range []domain.BindingState{
		domain.BindingExploring, domain.BindingPromoted, domain.BindingPromoted,
	} {
		if err := s.Create(ctx, &domain.RuntimeBinding{
			TemplateID: templateID, EntityID: uuid.New(), State: state,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	promoted, err := s.ListByState(ctx, domain.BindingPromoted)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(promoted) != 2 {
		t.Fatalf("expected 2 promoted bindings, got %d", len(promoted))
	}
}

func TestMemClusterStatsStore_ExhaustionThresholds(t *testing.T) {
	s := NewMemClusterStatsStore()
	ctx := context.Background()
	clusterID := uuid.New()
	hypothesisID := uuid.New()

	record := func(tested, saturated int) *domain.ClusterHypothesisStats {
		var stats *domain.ClusterHypothesisStats
		for i := 0; i < tested; i++ {
			stats, _ = s.RecordTested(ctx, clusterID, hypothesisID)
		}
		for i := 0; i < saturated; i++ {
			stats, _ = s.RecordSaturated(ctx, clusterID, hypothesisID)
		}
		return stats
	}

	// 10 tested, 6 saturated: rate 0.6 is under the 0.7 bar.
	stats := record(10, 6)
	if stats.Exhausted() {
		t.Fatalf("rate %.2f should not exhaust", stats.SaturationRate())
	}

	// One more saturation tips it to 0.7.
	stats, _ = s.RecordSaturated(ctx, clusterID, hypothesisID)
	if !stats.Exhausted() {
		t.Fatalf("rate %.2f at sample %d should exhaust", stats.SaturationRate(), stats.TotalEntitiesTested)
	}
	if stats.LastSaturationAt == nil {
		t.Fatal("saturation timestamp not recorded")
	}

	// A small sample never exhausts, no matter the rate.
	small, _ := s.RecordTested(ctx, clusterID, uuid.New())
	small, _ = s.RecordSaturated(ctx, clusterID, small.HypothesisID)
	if small.Exhausted() {
		t.Fatal("sample of 1 should never exhaust")
	}
}

func TestMemClusterStatsStore_GetAndList(t *testing.T) {
	s := NewMemClusterStatsStore()
	ctx := context.Background()
	clusterID := uuid.New()

	if _, err := s.Get(ctx, clusterID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := uuid.New()
	second := uuid.New()
	s.RecordTested(ctx, clusterID, first)
	s.RecordTested(ctx, clusterID, second)
	s.RecordTested(ctx, uuid.New(), uuid.New())

	all, err := s.ListByCluster(ctx, clusterID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 hypotheses for cluster, got %d", len(all))
	}
}

func TestMemTemplateStore_LatestVersion(t *testing.T) {
	s := NewMemTemplateStore()
	ctx := context.Background()
	clusterID := uuid.New()
	pattern := "rfp activity on public procurement portals"

	for v := 1; v <= 3; v++ {
		if err := s.Create(ctx, &domain.PatternTemplate{
			ID:        uuid.New(),
			ClusterID: clusterID,
			Pattern:   pattern,
			Category:  domain.CategoryProcurement,
			Version:   v,
			Outcome:   domain.OutcomePromote,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("create v%d: %v", v, err)
		}
	}

	latest, err := s.LatestVersion(ctx, clusterID, pattern)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 3 {
		t.Fatalf("expected version 3, got %d", latest.Version)
	}

	if _, err := s.LatestVersion(ctx, clusterID, "unknown pattern"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvidenceQueue_DrainOnRead(t *testing.T) {
	q := NewEvidenceQueue()
	entityID := uuid.New()

	q.Enqueue(entityID,
		domain.EvidenceItem{ID: uuid.New(), EntityID: entityID, Statement: "one"},
		domain.EvidenceItem{ID: uuid.New(), EntityID: entityID, Statement: "two"},
	)
	if q.Pending(entityID) != 2 {
		t.Fatalf("expected 2 pending, got %d", q.Pending(entityID))
	}

	items, err := q.Evidence(context.Background(), entityID)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	// Each item is delivered exactly once.
	items, err = q.Evidence(context.Background(), entityID)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("queue should be empty after drain, got %d", len(items))
	}
}
