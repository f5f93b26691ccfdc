package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/store"
)

func setupPromotion() (*PromotionService, *store.MemBindingStore, *store.MemTemplateStore, *store.MemEntityStateStore, *store.EvidenceQueue) {
	logger := testLogger()
	states := store.NewMemEntityStateStore()
	queue := store.NewEvidenceQueue()
	bindings := store.NewMemBindingStore()
	templates := store.NewMemTemplateStore()
	reports := store.NewMemReportStore()

	engine := NewConfidenceEngine(&mockLedger{}, newMockStatsStore(), nil, logger)
	runner := NewEntityRunner(engine, states, queue, logger)
	governance := NewGovernanceService(bindings, logger)

	svc := NewPromotionService(runner, governance, states, reports, templates, bindings, logger)
	svc.SetSeed(1)
	return svc, bindings, templates, states, queue
}

func TestDecidePromotion(t *testing.T) {
	cases := []struct {
		name string
		ps   domain.PatternStats
		want domain.PromotionOutcome
	}{
		{"full promote", domain.PatternStats{Observations: 5, AvgConfidence: 0.85, EntitiesExhibiting: 3}, domain.OutcomePromote},
		{"guarded", domain.PatternStats{Observations: 3, AvgConfidence: 0.72, EntitiesExhibiting: 2}, domain.OutcomePromoteWithGuard},
		{"too few observations", domain.PatternStats{Observations: 1, AvgConfidence: 0.90, EntitiesExhibiting: 3}, domain.OutcomeKeepExploring},
		{"confidence short of guard", domain.PatternStats{Observations: 6, AvgConfidence: 0.65, EntitiesExhibiting: 4}, domain.OutcomeKeepExploring},
		{"single entity", domain.PatternStats{Observations: 8, AvgConfidence: 0.90, EntitiesExhibiting: 1}, domain.OutcomeKeepExploring},
		{"promote thresholds exactly", domain.PatternStats{Observations: 5, AvgConfidence: 0.80, EntitiesExhibiting: 3}, domain.OutcomePromote},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecidePromotion(&tc.ps); got != tc.want {
				t.Fatalf("DecidePromotion(%+v) = %s, want %s", tc.ps, got, tc.want)
			}
		})
	}
}

func TestBuildReport_AggregatesAcrossEntities(t *testing.T) {
	clusterID := uuid.New()
	pattern := "active rfp on procurement portal"

	var states []*domain.EntityConfidenceState
	for _, conf := range []float64{0.8, 0.9} {
		state := domain.NewEntityConfidenceState(uuid.New(), clusterID, 0.2, 0.95)
		state.IterationsCompleted = 4
		state.ActiveHypotheses = append(state.ActiveHypotheses, &domain.Hypothesis{
			ID:              uuid.New(),
			EntityID:        state.EntityID,
			Category:        domain.CategoryProcurement,
			Statement:       pattern,
			Confidence:      conf,
			ReinforcedCount: 3,
			Status:          domain.HypothesisActive,
		})
		states = append(states, state)
	}

	report := BuildReport(clusterID, states)

	if report.SampleSize != 2 {
		t.Fatalf("expected sample size 2, got %d", report.SampleSize)
	}
	if report.TotalObservations != 8 {
		t.Fatalf("expected 8 observations, got %d", report.TotalObservations)
	}
	ps, ok := report.Patterns[pattern]
	if !ok {
		t.Fatalf("pattern missing from report: %v", report.Patterns)
	}
	if ps.Observations != 6 {
		t.Fatalf("expected 6 pattern observations, got %d", ps.Observations)
	}
	if ps.EntitiesExhibiting != 2 {
		t.Fatalf("expected 2 entities exhibiting, got %d", ps.EntitiesExhibiting)
	}
	if ps.AvgConfidence < 0.849 || ps.AvgConfidence > 0.851 {
		t.Fatalf("expected avg confidence 0.85, got %f", ps.AvgConfidence)
	}
}

func TestPromote_MintsVersionedTemplates(t *testing.T) {
	svc, _, templates, _, _ := setupPromotion()
	ctx := context.Background()
	clusterID := uuid.New()
	pattern := "hiring procurement staff before tender season"

	report := &domain.ExplorationReport{
		ID:        uuid.New(),
		ClusterID: clusterID,
		Patterns: map[string]*domain.PatternStats{
			pattern: {Pattern: pattern, Category: domain.CategoryHiring, Observations: 6, AvgConfidence: 0.85, EntitiesExhibiting: 3},
			"weak":  {Pattern: "weak", Category: domain.CategoryTechStack, Observations: 1, AvgConfidence: 0.5, EntitiesExhibiting: 1},
		},
	}

	minted, err := svc.Promote(ctx, report)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(minted) != 1 {
		t.Fatalf("expected 1 promoted template, got %d", len(minted))
	}
	if minted[0].Version != 1 {
		t.Fatalf("expected version 1, got %d", minted[0].Version)
	}
	if minted[0].Guarded {
		t.Fatal("full promote must not be guarded")
	}

	// A second promotion of the same pattern mints the next version; the
	// first template is never touched.
	minted2, err := svc.Promote(ctx, report)
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if minted2[0].Version != 2 {
		t.Fatalf("expected version 2, got %d", minted2[0].Version)
	}
	first, err := templates.GetByID(ctx, minted[0].ID)
	if err != nil {
		t.Fatalf("get first template: %v", err)
	}
	if first.Version != 1 || first.ID != minted[0].ID {
		t.Fatal("promoted template mutated by later version")
	}
}

func TestPromote_GuardedOutcome(t *testing.T) {
	svc, _, _, _, _ := setupPromotion()
	pattern := "cloud migration mentioned in earnings call"

	report := &domain.ExplorationReport{
		ID:        uuid.New(),
		ClusterID: uuid.New(),
		Patterns: map[string]*domain.PatternStats{
			pattern: {Pattern: pattern, Category: domain.CategoryTechStack, Observations: 3, AvgConfidence: 0.72, EntitiesExhibiting: 2},
		},
	}

	minted, err := svc.Promote(context.Background(), report)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if len(minted) != 1 {
		t.Fatalf("expected 1 template, got %d", len(minted))
	}
	if !minted[0].Guarded {
		t.Fatal("expected guarded template")
	}
	if minted[0].Outcome != domain.OutcomePromoteWithGuard {
		t.Fatalf("expected promote_with_guard, got %s", minted[0].Outcome)
	}
}

func TestReplicate_DiscountsSeedConfidence(t *testing.T) {
	svc, bindings, _, _, _ := setupPromotion()
	ctx := context.Background()

	tmpl := &domain.PatternTemplate{
		ID:               uuid.New(),
		ClusterID:        uuid.New(),
		Pattern:          "public contract wins in adjacent counties",
		Category:         domain.CategoryPublicContract,
		SourceConfidence: 0.84,
	}
	targets := []uuid.UUID{uuid.New(), uuid.New()}

	result := svc.Replicate(ctx, tmpl, targets)
	if len(result.Succeeded) != 2 || len(result.Failed) != 0 {
		t.Fatalf("expected 2 successes, got %+v", result)
	}

	b, err := bindings.Get(ctx, tmpl.ID, targets[0])
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	want := 0.74
	if b.ConfidenceAdjustment < want-1e-9 || b.ConfidenceAdjustment > want+1e-9 {
		t.Fatalf("expected seed %f, got %f", want, b.ConfidenceAdjustment)
	}
	if b.State != domain.BindingExploring {
		t.Fatalf("replicated binding must start exploring, got %s", b.State)
	}
}

func TestReplicate_RetiredBindingFailsOnlyThatEntity(t *testing.T) {
	svc, bindings, _, _, _ := setupPromotion()
	ctx := context.Background()

	tmpl := &domain.PatternTemplate{ID: uuid.New(), SourceConfidence: 0.9}
	dead := uuid.New()
	alive := uuid.New()

	if err := bindings.Create(ctx, &domain.RuntimeBinding{
		TemplateID: tmpl.ID, EntityID: dead, State: domain.BindingRetired,
	}); err != nil {
		t.Fatalf("seed retired binding: %v", err)
	}

	result := svc.Replicate(ctx, tmpl, []uuid.UUID{dead, alive})
	if len(result.Succeeded) != 1 || result.Succeeded[0] != alive {
		t.Fatalf("expected only the live entity to succeed, got %+v", result)
	}
	if _, ok := result.Failed[dead]; !ok {
		t.Fatal("expected the retired entity in Failed")
	}
}

func TestReplicate_DiscountClampsAtZero(t *testing.T) {
	svc, bindings, _, _, _ := setupPromotion()
	ctx := context.Background()

	tmpl := &domain.PatternTemplate{ID: uuid.New(), SourceConfidence: 0.05}
	target := uuid.New()

	svc.Replicate(ctx, tmpl, []uuid.UUID{target})
	b, err := bindings.Get(ctx, tmpl.ID, target)
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	if b.ConfidenceAdjustment != 0 {
		t.Fatalf("expected clamped seed 0, got %f", b.ConfidenceAdjustment)
	}
}

func TestExplore_CapsSampleSize(t *testing.T) {
	svc, _, _, _, queue := setupPromotion()
	svc.SampleSize = 3
	ctx := context.Background()
	clusterID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		id := uuid.New()
		ids = append(ids, id)
		queue.Enqueue(id, domain.EvidenceItem{
			ID: uuid.New(), EntityID: id, Category: domain.CategoryProcurement,
			Statement: "rfp spotted", Indicators: []string{"a", "b"},
		})
	}

	report, err := svc.Explore(ctx, clusterID, ids)
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	if report.SampleSize != 3 {
		t.Fatalf("expected sample capped at 3, got %d", report.SampleSize)
	}
	// Entities outside the sample keep their queued evidence for replication.
	var pending int
	for _, id := range ids {
		pending += queue.Pending(id)
	}
	if pending != 3 {
		t.Fatalf("expected 3 unexplored entities with queued evidence, got %d", pending)
	}
}

func TestExplore_SamplesUniformly(t *testing.T) {
	ctx := context.Background()

	// The sample is a uniform draw, not the first SampleSize ids in caller
	// order. With the population well above the sample, at least one of a
	// few seeds must pick outside the leading prefix.
	sawNonPrefix := false
	for seed := int64(1); seed <= 3 && !sawNonPrefix; seed++ {
		svc, _, _, _, queue := setupPromotion()
		svc.SetSeed(seed)
		svc.SampleSize = 3
		clusterID := uuid.New()

		var ids []uuid.UUID
		for i := 0; i < 100; i++ {
			id := uuid.New()
			ids = append(ids, id)
			queue.Enqueue(id, domain.EvidenceItem{
				ID: uuid.New(), EntityID: id, Category: domain.CategoryProcurement,
				Statement: "rfp spotted", Indicators: []string{"a", "b"},
			})
		}

		if _, err := svc.Explore(ctx, clusterID, ids); err != nil {
			t.Fatalf("explore: %v", err)
		}
		// Explored entities had their queue drained.
		for i := svc.SampleSize; i < len(ids); i++ {
			if queue.Pending(ids[i]) == 0 {
				sawNonPrefix = true
				break
			}
		}
	}
	if !sawNonPrefix {
		t.Fatal("sample always matched the caller-order prefix")
	}
}

func TestExplore_EmptySample(t *testing.T) {
	svc, _, _, _, _ := setupPromotion()
	if _, err := svc.Explore(context.Background(), uuid.New(), nil); err != ErrNoSample {
		t.Fatalf("expected ErrNoSample, got %v", err)
	}
}

func TestValidate_FeedsGovernance(t *testing.T) {
	svc, bindings, _, states, _ := setupPromotion()
	svc.ValidationFraction = 1.0
	ctx := context.Background()

	pattern := "procurement portal rfp activity weekly"
	tmpl := &domain.PatternTemplate{
		ID:       uuid.New(),
		Category: domain.CategoryProcurement,
		Pattern:  pattern,
	}

	withSignal := uuid.New()
	withoutSignal := uuid.New()
	for _, id := range []uuid.UUID{withSignal, withoutSignal} {
		if err := bindings.Create(ctx, &domain.RuntimeBinding{
			TemplateID: tmpl.ID, EntityID: id, State: domain.BindingExploring,
		}); err != nil {
			t.Fatalf("seed binding: %v", err)
		}
	}

	state := domain.NewEntityConfidenceState(withSignal, uuid.New(), 0.2, 0.95)
	state.ActiveHypotheses = append(state.ActiveHypotheses, &domain.Hypothesis{
		ID: uuid.New(), EntityID: withSignal, Category: domain.CategoryProcurement,
		Statement: pattern, Status: domain.HypothesisActive,
	})
	if err := states.Save(ctx, state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	checked, found, err := svc.Validate(ctx, tmpl)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if checked != 2 {
		t.Fatalf("expected 2 checked, got %d", checked)
	}
	if found != 1 {
		t.Fatalf("expected 1 with signal, got %d", found)
	}

	b, err := bindings.Get(ctx, tmpl.ID, withSignal)
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	if b.UsageCount != 1 || b.SuccessCount != 1 {
		t.Fatalf("expected usage fed to governance, got %+v", b)
	}
}
