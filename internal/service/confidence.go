package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"go.uber.org/zap"
)

// Confidence engine defaults. Baseline and delta magnitudes are tunables on
// the engine, not constants of the model; two deployments legitimately run
// different conventions (0.50 vs 0.20 baselines).
const (
	DefaultBaselineConfidence = 0.20
	DefaultConfidenceCeiling  = 0.95
	DefaultAcceptDelta        = 0.06
	DefaultWeakAcceptDelta    = 0.02
	DefaultHypothesisPenalty  = 0.05

	// NoAcceptConfidenceCap caps confidence for any entity with zero ACCEPT
	// decisions across all categories, no matter how many weak accepts pile up.
	NoAcceptConfidenceCap = 0.70

	NoveltyNew         = 1.0
	NoveltyReinforcing = 0.6
	NoveltyDuplicate   = 0.0

	AlignmentFloor = 0.3
	AlignmentCeil  = 0.8

	SaturationRejectStreak = 3
	SaturationGainWindow   = 10
	SaturationMinGain      = 0.01

	ledgerWriteAttempts = 3
	ledgerWriteBackoff  = 50 * time.Millisecond
)

var (
	ErrEvidenceEntityMismatch = errors.New("evidence item belongs to a different entity")
)

// EvidenceResult is the outcome of applying one evidence item.
type EvidenceResult struct {
	Decision   domain.Decision       `json:"decision"`
	Delta      float64               `json:"delta"`
	Confidence float64               `json:"confidence"`
	Band       domain.ConfidenceBand `json:"band"`
	Rationale  string                `json:"rationale"`
	Guardrails []string              `json:"guardrails,omitempty"`
}

// HypothesisCacher receives hypotheses as they are created or touched so hot
// lookups can skip the state store.
type HypothesisCacher interface {
	Set(h *domain.Hypothesis)
}

// ConfidenceEngine is the per-entity decision/confidence state machine. The
// engine itself is stateless and safe to share; each EntityConfidenceState it
// operates on must be exclusively owned by the calling task.
type ConfidenceEngine struct {
	ledger       domain.EvidenceLedger
	clusterStats domain.ClusterStatsStore
	reasoning    domain.ReasoningClient
	cache        HypothesisCacher
	logger       *zap.Logger

	BaselineConfidence float64
	ConfidenceCeiling  float64
	AcceptDelta        float64
	WeakAcceptDelta    float64
	HypothesisPenalty  float64
}

func NewConfidenceEngine(ledger domain.EvidenceLedger, clusterStats domain.ClusterStatsStore, reasoning domain.ReasoningClient, logger *zap.Logger) *ConfidenceEngine {
	return &ConfidenceEngine{
		ledger:             ledger,
		clusterStats:       clusterStats,
		reasoning:          reasoning,
		logger:             logger,
		BaselineConfidence: DefaultBaselineConfidence,
		ConfidenceCeiling:  DefaultConfidenceCeiling,
		AcceptDelta:        DefaultAcceptDelta,
		WeakAcceptDelta:    DefaultWeakAcceptDelta,
		HypothesisPenalty:  DefaultHypothesisPenalty,
	}
}

// SetHypothesisCache attaches an optional cache that is updated whenever a
// hypothesis is created, reinforced, or weakened.
func (e *ConfidenceEngine) SetHypothesisCache(c HypothesisCacher) {
	e.cache = c
}

// NewState seeds a fresh confidence state at the engine's baseline.
func (e *ConfidenceEngine) NewState(entityID, clusterID uuid.UUID) *domain.EntityConfidenceState {
	return domain.NewEntityConfidenceState(entityID, clusterID, e.BaselineConfidence, e.ConfidenceCeiling)
}

// ApplyEvidence classifies one evidence item, applies the weighted delta to
// the entity's confidence, and records the iteration in both ledgers. All
// mutation happens after the evidence ledger write succeeds, so a cancelled
// or failed iteration leaves the state exactly as it was.
func (e *ConfidenceEngine) ApplyEvidence(ctx context.Context, state *domain.EntityConfidenceState, item domain.EvidenceItem) (*EvidenceResult, error) {
	if item.EntityID != uuid.Nil && item.EntityID != state.EntityID {
		return nil, ErrEvidenceEntityMismatch
	}

	cs := state.Stats(item.Category)

	decision, verdict, rationale := e.classify(ctx, state, item, cs)

	hyp := state.HypothesisFor(item.Category)
	delta, factors := e.computeDelta(state, cs, hyp, item, decision)

	// Commit point: the exploration ledger entry goes first. If it cannot be
	// written the iteration fails closed as NO_PROGRESS with nothing applied.
	if err := e.writeExplorationEntry(ctx, state, item, decision, delta); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// An integrity violation is not a flaky store: the segment's write
		// path is blocked and operators must intervene, so it propagates
		// instead of degrading to NO_PROGRESS.
		if errors.Is(err, domain.ErrLedgerCorrupt) {
			e.logger.Error("exploration ledger integrity violation, iteration refused",
				zap.String("entity_id", state.EntityID.String()),
				zap.String("cluster_id", state.ClusterID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("apply evidence: %w", err)
		}
		e.logger.Warn("exploration ledger write failed, iteration fails closed",
			zap.String("entity_id", state.EntityID.String()),
			zap.String("category", string(item.Category)),
			zap.Error(err))
		return &EvidenceResult{
			Decision:   domain.DecisionNoProgress,
			Confidence: state.CurrentConfidence,
			Band:       state.Band(),
			Rationale:  "ledger unavailable; iteration not applied",
		}, nil
	}

	e.commit(ctx, state, item, cs, hyp, decision, verdict, delta)

	result := &EvidenceResult{
		Decision:   decision,
		Delta:      delta,
		Confidence: state.CurrentConfidence,
		Band:       state.Band(),
		Rationale:  fmt.Sprintf("%s: %s (%s)", decision.DisplayName(), rationale, factors),
	}

	if total, _ := state.AcceptTotals(); total == 0 && state.CurrentConfidence >= NoAcceptConfidenceCap {
		result.Guardrails = append(result.Guardrails,
			fmt.Sprintf("confidence capped at %.2f: no ACCEPT decisions recorded", NoAcceptConfidenceCap))
	}
	if state.CurrentConfidence > 0.80 && result.Band != domain.BandActionable {
		result.Guardrails = append(result.Guardrails,
			"actionable gate not met: requires >=2 ACCEPTs across >=2 categories")
	}
	for _, g := range result.Guardrails {
		e.logger.Warn("guardrail engaged",
			zap.String("entity_id", state.EntityID.String()),
			zap.String("guardrail", g))
	}

	return result, nil
}

// classify decides the mutually-exclusive decision type for one item.
// Saturation pre-empts everything; exact duplicates never progress; the
// reasoning service is consulted next and any failure there degrades to the
// deterministic rule-based fallback.
func (e *ConfidenceEngine) classify(ctx context.Context, state *domain.EntityConfidenceState, item domain.EvidenceItem, cs *domain.CategoryStats) (domain.Decision, *domain.Verdict, string) {
	if categorySaturated(cs) {
		return domain.DecisionSaturated, nil, "category yields no further information"
	}

	fp := fingerprint(item)
	if state.SeenFingerprints[fp] > 0 {
		return domain.DecisionNoProgress, nil, "exact duplicate of earlier evidence"
	}

	if e.reasoning != nil {
		verdict, err := e.reasoning.Classify(ctx, item, state.ActiveHypotheses)
		if err == nil && verdict != nil && domain.ValidDecision(string(verdict.Decision)) {
			return verdict.Decision, verdict, "reasoning service verdict"
		}
		if err != nil {
			e.logger.Debug("reasoning service unavailable, using rule-based fallback",
				zap.String("entity_id", state.EntityID.String()),
				zap.Error(err))
		}
	}

	return ruleClassify(item), nil, "rule-based classification"
}

// computeDelta multiplies the base delta for the decision by the four
// independent factors, each in [0,1].
func (e *ConfidenceEngine) computeDelta(state *domain.EntityConfidenceState, cs *domain.CategoryStats, hyp *domain.Hypothesis, item domain.EvidenceItem, decision domain.Decision) (float64, string) {
	var base float64
	switch decision {
	case domain.DecisionAccept:
		base = e.AcceptDelta
	case domain.DecisionWeakAccept:
		base = e.WeakAcceptDelta
	case domain.DecisionReject, domain.DecisionNoProgress, domain.DecisionSaturated:
		return 0, "no delta for this decision type"
	}

	novelty := NoveltyNew
	if state.SeenFingerprints[fingerprint(item)] > 0 {
		novelty = NoveltyDuplicate
	} else if hyp != nil && hyp.ReinforcedCount > 0 {
		novelty = NoveltyReinforcing
	}

	alignment := hypothesisAlignment(hyp, item)

	// Quadratic slowdown toward the ceiling keeps a thin evidence stream from
	// manufacturing runaway certainty.
	ratio := state.CurrentConfidence / state.ConfidenceCeiling
	damping := 1 - ratio*ratio
	if damping < 0 {
		damping = 0
	}

	saturation := 1.0
	if decision == domain.DecisionWeakAccept {
		saturation = 1 / (1 + float64(cs.WeakAcceptCount)*0.5)
	}

	delta := base * novelty * alignment * damping * saturation
	factors := fmt.Sprintf("novelty=%.2f alignment=%.2f damping=%.2f saturation=%.2f",
		novelty, alignment, damping, saturation)
	return delta, factors
}

// commit applies the already-computed iteration to the entity state. Only
// in-memory mutation plus best-effort cluster accounting happens here.
func (e *ConfidenceEngine) commit(ctx context.Context, state *domain.EntityConfidenceState, item domain.EvidenceItem, cs *domain.CategoryStats, hyp *domain.Hypothesis, decision domain.Decision, verdict *domain.Verdict, delta float64) {
	now := time.Now().UTC()
	state.IterationsCompleted++
	cs.TotalIterations++
	cs.LastDecision = decision
	state.SeenFingerprints[fingerprint(item)]++

	switch decision {
	case domain.DecisionAccept:
		cs.AcceptCount++
		cs.ConsecutiveRejects = 0
	case domain.DecisionWeakAccept:
		cs.WeakAcceptCount++
		cs.ConsecutiveRejects = 0
	case domain.DecisionReject:
		cs.RejectCount++
		cs.ConsecutiveRejects++
	case domain.DecisionNoProgress:
		cs.NoProgressCount++
	case domain.DecisionSaturated:
		e.recordSaturation(ctx, state, item.Category, hyp)
	}

	cs.RecentGains = append(cs.RecentGains, delta)
	if len(cs.RecentGains) > SaturationGainWindow {
		cs.RecentGains = cs.RecentGains[len(cs.RecentGains)-SaturationGainWindow:]
	}

	switch decision {
	case domain.DecisionAccept, domain.DecisionWeakAccept:
		if hyp == nil {
			hyp = &domain.Hypothesis{
				ID:         uuid.New(),
				EntityID:   state.EntityID,
				Category:   item.Category,
				Statement:  item.Statement,
				Confidence: e.BaselineConfidence,
				Status:     domain.HypothesisActive,
			}
			state.ActiveHypotheses = append(state.ActiveHypotheses, hyp)
			if e.clusterStats != nil {
				if _, err := e.clusterStats.RecordTested(ctx, state.ClusterID, hyp.ID); err != nil {
					e.logger.Warn("cluster stats update failed", zap.Error(err))
				}
			}
		}
		hyp.ReinforcedCount++
		hyp.Confidence = clamp01(hyp.Confidence + delta)
		hyp.LastUpdated = now
		if e.cache != nil {
			e.cache.Set(hyp)
		}

		before := state.CurrentConfidence
		state.CurrentConfidence = clamp01(state.CurrentConfidence + delta)
		if total, _ := state.AcceptTotals(); total == 0 && state.CurrentConfidence > NoAcceptConfidenceCap {
			state.CurrentConfidence = NoAcceptConfidenceCap
		}

		// The ledger records what actually moved, which the cap or the
		// [0,1] clamp may have truncated below the computed delta.
		if applied := state.CurrentConfidence - before; applied != 0 {
			state.BeliefLedger = append(state.BeliefLedger, domain.BeliefLedgerEntry{
				Iteration:        state.IterationsCompleted,
				HypothesisID:     hyp.ID,
				Action:           domain.ActionReinforce,
				ConfidenceImpact: applied,
				EvidenceRef:      item.SourceRef,
				Timestamp:        now,
				Category:         item.Category,
			})
		}

	case domain.DecisionReject:
		if hyp != nil {
			impact := e.HypothesisPenalty
			hyp.WeakenedCount++
			hyp.Confidence = clamp01(hyp.Confidence - impact)
			hyp.LastUpdated = now
			if e.cache != nil {
				e.cache.Set(hyp)
			}
			state.BeliefLedger = append(state.BeliefLedger, domain.BeliefLedgerEntry{
				Iteration:        state.IterationsCompleted,
				HypothesisID:     hyp.ID,
				Action:           domain.ActionWeaken,
				ConfidenceImpact: -impact,
				EvidenceRef:      item.SourceRef,
				Timestamp:        now,
				Category:         item.Category,
			})
		}
	}
}

// recordSaturation marks the category's hypothesis exhausted and reports the
// saturation to the cluster exactly once per entity.
func (e *ConfidenceEngine) recordSaturation(ctx context.Context, state *domain.EntityConfidenceState, category domain.Category, hyp *domain.Hypothesis) {
	cs := state.Stats(category)
	if cs.LastDecision == domain.DecisionSaturated && hyp != nil && hyp.Status == domain.HypothesisExhausted {
		return
	}
	if hyp == nil {
		return
	}
	hyp.Status = domain.HypothesisExhausted
	hyp.LastUpdated = time.Now().UTC()
	if e.clusterStats != nil {
		if _, err := e.clusterStats.RecordSaturated(ctx, state.ClusterID, hyp.ID); err != nil {
			e.logger.Warn("cluster saturation update failed", zap.Error(err))
		}
	}
	e.logger.Info("category saturated",
		zap.String("entity_id", state.EntityID.String()),
		zap.String("category", string(category)))
}

func (e *ConfidenceEngine) writeExplorationEntry(ctx context.Context, state *domain.EntityConfidenceState, item domain.EvidenceItem, decision domain.Decision, delta float64) error {
	if e.ledger == nil {
		return nil
	}

	// Non-nil even when the item carries no indicators: the log columns
	// reject NULL arrays.
	patterns := append([]string{}, item.Indicators...)

	entry := &domain.ExplorationLogEntry{
		EntryID:           uuid.New(),
		Timestamp:         time.Now().UTC(),
		ClusterID:         state.ClusterID,
		Category:          item.Category,
		Hypothesis:        item.Statement,
		PatternsObserved:  patterns,
		ConfidenceSignals: []float64{delta},
	}

	var err error
	for attempt := 0; attempt < ledgerWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ledgerWriteBackoff * time.Duration(attempt)):
			}
		}
		if err = e.ledger.Append(ctx, entry); err == nil {
			return nil
		}
		// Chain corruption is not retryable; surface immediately.
		if errors.Is(err, domain.ErrLedgerCorrupt) {
			return err
		}
	}
	return err
}

// categorySaturated applies the two saturation criteria: a REJECT streak, or
// negligible total gain over the recent window.
func categorySaturated(cs *domain.CategoryStats) bool {
	if cs.ConsecutiveRejects >= SaturationRejectStreak {
		return true
	}
	if len(cs.RecentGains) >= SaturationGainWindow {
		var total float64
		for _, g := range cs.RecentGains {
			total += g
		}
		if total < SaturationMinGain {
			return true
		}
	}
	return false
}

// hypothesisAlignment maps token overlap between the evidence statement and
// the active hypothesis into [AlignmentFloor, AlignmentCeil]. Evidence with
// no hypothesis to match is the hypothesis seed and aligns fully.
func hypothesisAlignment(hyp *domain.Hypothesis, item domain.EvidenceItem) float64 {
	if hyp == nil {
		return AlignmentCeil
	}
	overlap := tokenOverlap(hyp.Statement, item.Statement)
	return AlignmentFloor + (AlignmentCeil-AlignmentFloor)*overlap
}

func tokenOverlap(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	var shared int
	for tok := range as {
		if _, ok := bs[tok]; ok {
			shared++
		}
	}
	union := len(as) + len(bs) - shared
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func fingerprint(item domain.EvidenceItem) string {
	if item.Fingerprint != "" {
		return item.Fingerprint
	}
	return strings.ToLower(strings.TrimSpace(item.Statement))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
