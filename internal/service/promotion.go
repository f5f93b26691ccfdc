package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/store"
	"go.uber.org/zap"
)

// Promotion decision thresholds, straight from the decision table: a pattern
// proven on the sample is promoted outright; a thinner showing is promoted
// behind a guard; anything less keeps exploring.
const (
	DefaultSampleSize = 7

	PromoteMinObservations = 5
	PromoteMinConfidence   = 0.80
	PromoteMinEntities     = 3

	GuardMinObservations = 3
	GuardMinConfidence   = 0.70
	GuardMinEntities     = 2

	// DefaultReplicationDiscount is subtracted from the source confidence when
	// seeding a replicated binding: replicated certainty is always cheaper
	// than explored certainty.
	DefaultReplicationDiscount = 0.10

	DefaultValidationFraction = 0.2
)

var ErrNoSample = errors.New("exploration requires a non-empty entity sample")

// PromotionService runs the exploration-to-promotion pipeline: explore a
// representative sample, aggregate a report, decide per-pattern promotion,
// mint immutable template versions, and replicate them across the remaining
// population at a confidence discount.
type PromotionService struct {
	runner     *EntityRunner
	governance *GovernanceService
	states     domain.EntityStateStore
	reports    domain.ReportStore
	templates  domain.TemplateStore
	bindings   domain.BindingStore
	logger     *zap.Logger

	SampleSize          int
	ReplicationDiscount float64
	ValidationFraction  float64
	rng                 *rand.Rand
}

func NewPromotionService(
	runner *EntityRunner,
	governance *GovernanceService,
	states domain.EntityStateStore,
	reports domain.ReportStore,
	templates domain.TemplateStore,
	bindings domain.BindingStore,
	logger *zap.Logger,
) *PromotionService {
	return &PromotionService{
		runner:              runner,
		governance:          governance,
		states:              states,
		reports:             reports,
		templates:           templates,
		bindings:            bindings,
		logger:              logger,
		SampleSize:          DefaultSampleSize,
		ReplicationDiscount: DefaultReplicationDiscount,
		ValidationFraction:  DefaultValidationFraction,
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSeed makes subset selection deterministic. Tests only.
func (s *PromotionService) SetSeed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// Explore runs the confidence engine over a sample of the cluster's entities
// and aggregates the results into an exploration report. At most SampleSize
// entities are explored; extras are left for replication.
func (s *PromotionService) Explore(ctx context.Context, clusterID uuid.UUID, entityIDs []uuid.UUID) (*domain.ExplorationReport, error) {
	if len(entityIDs) == 0 {
		return nil, ErrNoSample
	}
	sample := entityIDs
	if len(sample) > s.SampleSize {
		// Uniform draw rather than caller order, which tends to be sorted
		// or insertion-ordered and would bias the report.
		sample = append([]uuid.UUID(nil), entityIDs...)
		s.rng.Shuffle(len(sample), func(i, j int) {
			sample[i], sample[j] = sample[j], sample[i]
		})
		sample = sample[:s.SampleSize]
	}

	started := time.Now().UTC()
	results := s.runner.RunEntities(ctx, clusterID, sample)

	var states []*domain.EntityConfidenceState
	for _, res := range results {
		if res.Err != nil {
			s.logger.Warn("sample entity run failed",
				zap.String("entity_id", res.EntityID.String()),
				zap.Error(res.Err))
		}
		if res.State != nil {
			states = append(states, res.State)
		}
	}

	report := BuildReport(clusterID, states)
	report.StartedAt = started
	report.CompletedAt = time.Now().UTC()

	if err := s.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("persist exploration report: %w", err)
	}

	s.logger.Info("exploration complete",
		zap.String("cluster_id", clusterID.String()),
		zap.Int("sample_size", report.SampleSize),
		zap.Int("total_observations", report.TotalObservations),
		zap.Int("patterns", len(report.Patterns)))
	return report, nil
}

// BuildReport aggregates per-pattern frequency, average confidence and the
// fraction of sampled entities exhibiting each pattern.
func BuildReport(clusterID uuid.UUID, states []*domain.EntityConfidenceState) *domain.ExplorationReport {
	report := &domain.ExplorationReport{
		ID:         uuid.New(),
		ClusterID:  clusterID,
		SampleSize: len(states),
		Patterns:   make(map[string]*domain.PatternStats),
	}

	type acc struct {
		sum      float64
		entities map[uuid.UUID]struct{}
	}
	sums := make(map[string]*acc)

	for _, state := range states {
		report.TotalObservations += state.IterationsCompleted
		for _, h := range state.ActiveHypotheses {
			ps, ok := report.Patterns[h.Statement]
			if !ok {
				ps = &domain.PatternStats{Pattern: h.Statement, Category: h.Category}
				report.Patterns[h.Statement] = ps
				sums[h.Statement] = &acc{entities: make(map[uuid.UUID]struct{})}
			}
			a := sums[h.Statement]
			ps.Observations += h.ReinforcedCount
			a.sum += h.Confidence
			a.entities[state.EntityID] = struct{}{}
		}
	}

	for pattern, ps := range report.Patterns {
		a := sums[pattern]
		ps.EntitiesExhibiting = len(a.entities)
		if ps.EntitiesExhibiting > 0 {
			ps.AvgConfidence = a.sum / float64(ps.EntitiesExhibiting)
		}
	}
	return report
}

// DecidePromotion evaluates one pattern against the promotion table.
func DecidePromotion(ps *domain.PatternStats) domain.PromotionOutcome {
	switch {
	case ps.Observations >= PromoteMinObservations &&
		ps.AvgConfidence >= PromoteMinConfidence &&
		ps.EntitiesExhibiting >= PromoteMinEntities:
		return domain.OutcomePromote
	case ps.Observations >= GuardMinObservations &&
		ps.AvgConfidence >= GuardMinConfidence &&
		ps.EntitiesExhibiting >= GuardMinEntities:
		return domain.OutcomePromoteWithGuard
	}
	return domain.OutcomeKeepExploring
}

// Promote mints a new immutable template version for every pattern in the
// report that clears the promotion table.
func (s *PromotionService) Promote(ctx context.Context, report *domain.ExplorationReport) ([]*domain.PatternTemplate, error) {
	// Deterministic order keeps version numbering stable across runs.
	patterns := make([]string, 0, len(report.Patterns))
	for p := range report.Patterns {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	var promoted []*domain.PatternTemplate
	for _, pattern := range patterns {
		ps := report.Patterns[pattern]
		outcome := DecidePromotion(ps)
		if outcome == domain.OutcomeKeepExploring {
			continue
		}

		version := 1
		if latest, err := s.templates.LatestVersion(ctx, report.ClusterID, pattern); err == nil && latest != nil {
			version = latest.Version + 1
		}

		tmpl := &domain.PatternTemplate{
			ID:               uuid.New(),
			ClusterID:        report.ClusterID,
			Pattern:          pattern,
			Category:         ps.Category,
			Version:          version,
			Outcome:          outcome,
			SourceReportID:   report.ID,
			SourceConfidence: ps.AvgConfidence,
			Guarded:          outcome == domain.OutcomePromoteWithGuard,
			CreatedAt:        time.Now().UTC(),
		}
		if err := s.templates.Create(ctx, tmpl); err != nil {
			return promoted, fmt.Errorf("create template for %q: %w", pattern, err)
		}
		promoted = append(promoted, tmpl)

		s.logger.Info("pattern promoted",
			zap.String("cluster_id", report.ClusterID.String()),
			zap.String("pattern", pattern),
			zap.String("outcome", string(outcome)),
			zap.Int("version", version))
	}
	return promoted, nil
}

// ReplicationResult reports the per-entity outcome of replicating one
// template. A failure for one target never blocks the others.
type ReplicationResult struct {
	TemplateID uuid.UUID            `json:"template_id"`
	Succeeded  []uuid.UUID          `json:"succeeded"`
	Failed     map[uuid.UUID]string `json:"failed,omitempty"`
}

// Replicate creates or updates a runtime binding for each target entity,
// seeding the binding's confidence adjustment at the template's source
// confidence minus the replication discount, clamped to [0,1].
func (s *PromotionService) Replicate(ctx context.Context, tmpl *domain.PatternTemplate, targets []uuid.UUID) *ReplicationResult {
	result := &ReplicationResult{
		TemplateID: tmpl.ID,
		Failed:     make(map[uuid.UUID]string),
	}
	seed := clamp01(tmpl.SourceConfidence - s.ReplicationDiscount)

	for _, entityID := range targets {
		if err := ctx.Err(); err != nil {
			result.Failed[entityID] = err.Error()
			continue
		}
		if err := s.replicateOne(ctx, tmpl, entityID, seed); err != nil {
			s.logger.Warn("replication failed for entity",
				zap.String("template_id", tmpl.ID.String()),
				zap.String("entity_id", entityID.String()),
				zap.Error(err))
			result.Failed[entityID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, entityID)
	}

	s.logger.Info("replication finished",
		zap.String("template_id", tmpl.ID.String()),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)))
	return result
}

func (s *PromotionService) replicateOne(ctx context.Context, tmpl *domain.PatternTemplate, entityID uuid.UUID, seed float64) error {
	existing, err := s.bindings.Get(ctx, tmpl.ID, entityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	now := time.Now().UTC()

	if existing != nil {
		if existing.State == domain.BindingRetired {
			return domain.ErrTerminalState
		}
		existing.ConfidenceAdjustment = seed
		existing.EnrichedPatterns = appendUnique(existing.EnrichedPatterns, tmpl.Pattern)
		existing.UpdatedAt = now
		return s.bindings.Update(ctx, existing)
	}

	binding := &domain.RuntimeBinding{
		TemplateID:           tmpl.ID,
		EntityID:             entityID,
		EnrichedPatterns:     []string{tmpl.Pattern},
		ConfidenceAdjustment: seed,
		State:                domain.BindingExploring,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return s.bindings.Create(ctx, binding)
}

// Validate runs a deterministic, side-effect-free signal check against a
// random subset of the template's replicated entities and feeds each result
// into governance. No reasoning or retrieval call happens here.
func (s *PromotionService) Validate(ctx context.Context, tmpl *domain.PatternTemplate) (checked, found int, err error) {
	bindings, err := s.bindings.ListByTemplate(ctx, tmpl.ID)
	if err != nil {
		return 0, 0, err
	}
	subset := s.sampleBindings(bindings)

	for _, b := range subset {
		if b.State == domain.BindingRetired {
			continue
		}
		signal := s.patternSignal(ctx, tmpl, b.EntityID)
		checked++
		if signal {
			found++
		}
		if err := s.governance.RecordUse(ctx, b, signal); err != nil {
			s.logger.Warn("validation feedback failed",
				zap.String("entity_id", b.EntityID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("validation pass complete",
		zap.String("template_id", tmpl.ID.String()),
		zap.Int("checked", checked),
		zap.Int("signal_found", found))
	return checked, found, nil
}

// patternSignal checks whether the entity's recorded state still exhibits the
// template's pattern: an active hypothesis in the template's category whose
// statement overlaps the pattern.
func (s *PromotionService) patternSignal(ctx context.Context, tmpl *domain.PatternTemplate, entityID uuid.UUID) bool {
	state, err := s.states.Get(ctx, entityID)
	if err != nil || state == nil {
		return false
	}
	for _, h := range state.ActiveHypotheses {
		if h.Status != domain.HypothesisActive || h.Category != tmpl.Category {
			continue
		}
		if tokenOverlap(h.Statement, tmpl.Pattern) >= 0.5 {
			return true
		}
	}
	return false
}

func (s *PromotionService) sampleBindings(bindings []*domain.RuntimeBinding) []*domain.RuntimeBinding {
	if len(bindings) == 0 {
		return nil
	}
	n := int(float64(len(bindings)) * s.ValidationFraction)
	if n < 1 {
		n = 1
	}
	if n >= len(bindings) {
		return bindings
	}
	shuffled := make([]*domain.RuntimeBinding, len(bindings))
	copy(shuffled, bindings)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
