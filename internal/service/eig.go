package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultEIGLambda gives roughly 90% weight at 7 days, 64% at 30 days and
	// 7% at 180 days.
	DefaultEIGLambda    = 0.015
	TemporalWeightFloor = 0.01
)

// defaultCategoryMultipliers reflect how much a new observation in each
// category tends to move a procurement-readiness score.
var defaultCategoryMultipliers = map[domain.Category]float64{
	domain.CategoryProcurement:    1.0,
	domain.CategoryPublicContract: 1.0,
	domain.CategoryExpansion:      0.85,
	domain.CategoryHiring:         0.75,
	domain.CategoryTechStack:      0.7,
	domain.CategoryLeadership:     0.6,
}

// RankedHypothesis pairs a hypothesis with its expected information gain and
// the factors that produced it.
type RankedHypothesis struct {
	Hypothesis     *domain.Hypothesis `json:"hypothesis"`
	EIG            float64            `json:"eig"`
	Uncertainty    float64            `json:"uncertainty"`
	CategoryWeight float64            `json:"category_weight"`
	Novelty        float64            `json:"novelty"`
	TemporalWeight float64            `json:"temporal_weight"`
}

// EIGRanker orders open hypotheses by how much a new observation is expected
// to reduce uncertainty. It only reads cluster state; ranking never mutates
// anything.
type EIGRanker struct {
	clusterStats domain.ClusterStatsStore
	logger       *zap.Logger

	Lambda              float64
	CategoryMultipliers map[domain.Category]float64
	now                 func() time.Time
}

func NewEIGRanker(clusterStats domain.ClusterStatsStore, logger *zap.Logger) *EIGRanker {
	return &EIGRanker{
		clusterStats:        clusterStats,
		logger:              logger,
		Lambda:              DefaultEIGLambda,
		CategoryMultipliers: defaultCategoryMultipliers,
		now:                 time.Now,
	}
}

// Rank scores every hypothesis and returns them ordered by descending EIG.
// Exhausted hypotheses and exhausted cluster patterns rank at zero.
func (r *EIGRanker) Rank(ctx context.Context, hypotheses []*domain.Hypothesis, clusterID uuid.UUID) []RankedHypothesis {
	ranked := make([]RankedHypothesis, 0, len(hypotheses))
	for _, h := range hypotheses {
		ranked = append(ranked, r.score(ctx, h, clusterID))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EIG > ranked[j].EIG
	})
	return ranked
}

func (r *EIGRanker) score(ctx context.Context, h *domain.Hypothesis, clusterID uuid.UUID) RankedHypothesis {
	uncertainty := 1 - h.Confidence
	if uncertainty < 0 {
		uncertainty = 0
	}

	categoryWeight, ok := r.CategoryMultipliers[h.Category]
	if !ok {
		categoryWeight = 0.5
	}

	novelty := r.clusterNovelty(ctx, h, clusterID)
	temporal := r.temporalWeight(h.LastUpdated)

	eig := uncertainty * categoryWeight * novelty * temporal
	if h.Status == domain.HypothesisExhausted {
		eig = 0
	}

	return RankedHypothesis{
		Hypothesis:     h,
		EIG:            eig,
		Uncertainty:    uncertainty,
		CategoryWeight: categoryWeight,
		Novelty:        novelty,
		TemporalWeight: temporal,
	}
}

// clusterNovelty shrinks as more entities in the cluster have already seen
// the pattern saturate; a fully exhausted pattern carries no expected gain.
func (r *EIGRanker) clusterNovelty(ctx context.Context, h *domain.Hypothesis, clusterID uuid.UUID) float64 {
	if r.clusterStats == nil {
		return 1.0
	}
	stats, err := r.clusterStats.Get(ctx, clusterID, h.ID)
	if err != nil || stats == nil {
		return 1.0
	}
	if stats.Exhausted() {
		return 0
	}
	return 1 / (1 + float64(stats.SaturatedEntities))
}

// temporalWeight decays exponentially with hypothesis age. A hypothesis with
// no timestamp, or one from the future, is treated as fresh.
func (r *EIGRanker) temporalWeight(lastUpdated time.Time) float64 {
	if lastUpdated.IsZero() {
		return 1.0
	}
	age := r.now().Sub(lastUpdated)
	if age < 0 {
		return 1.0
	}
	days := age.Hours() / 24
	w := math.Exp(-r.Lambda * days)
	if w < TemporalWeightFloor {
		return TemporalWeightFloor
	}
	if w > 1 {
		return 1.0
	}
	return w
}
