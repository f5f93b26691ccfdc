package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGovernance() (*GovernanceService, *store.MemBindingStore, time.Time) {
	bindings := store.NewMemBindingStore()
	svc := NewGovernanceService(bindings, testLogger())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	return svc, bindings, now
}

func TestCheckDrift(t *testing.T) {
	svc, _, _ := setupGovernance()

	cases := []struct {
		name    string
		binding domain.RuntimeBinding
		want    domain.DriftRecommendation
	}{
		{
			"heavy use low success retires",
			domain.RuntimeBinding{UsageCount: 12, SuccessCount: 2, State: domain.BindingPromoted},
			domain.DriftRetire,
		},
		{
			"middling success monitors",
			domain.RuntimeBinding{UsageCount: 5, SuccessCount: 2, State: domain.BindingPromoted},
			domain.DriftMonitor,
		},
		{
			"high success stays healthy",
			domain.RuntimeBinding{UsageCount: 5, SuccessCount: 4, State: domain.BindingPromoted},
			domain.DriftHealthy,
		},
		{
			"deep negative adjustment retires",
			domain.RuntimeBinding{UsageCount: 2, SuccessCount: 2, ConfidenceAdjustment: -0.4, State: domain.BindingPromoted},
			domain.DriftRetire,
		},
		{
			"zero signal streak retires",
			domain.RuntimeBinding{UsageCount: 7, SuccessCount: 5, ZeroSignalStreak: 5, State: domain.BindingPromoted},
			domain.DriftRetire,
		},
		{
			"short zero signal streak monitors",
			domain.RuntimeBinding{UsageCount: 4, SuccessCount: 3, ZeroSignalStreak: 3, State: domain.BindingPromoted},
			domain.DriftMonitor,
		},
		{
			"barely used stays healthy",
			domain.RuntimeBinding{UsageCount: 1, SuccessCount: 0, State: domain.BindingExploring},
			domain.DriftHealthy,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := svc.CheckDrift(&tc.binding)
			assert.Equal(t, tc.want, report.Recommendation, "rationale: %v", report.Rationale)
			assert.NotEmpty(t, report.Rationale, "drift report must carry a rationale")
		})
	}
}

func TestRecordUse_PromotesOnObservedSuccess(t *testing.T) {
	svc, bindings, _ := setupGovernance()
	ctx := context.Background()

	b := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State: domain.BindingExploring,
	}
	require.NoError(t, bindings.Create(ctx, b))

	for i := 0; i < BindingPromoteMinUsage; i++ {
		require.NoError(t, svc.RecordUse(ctx, b, true))
	}

	assert.Equal(t, domain.BindingPromoted, b.State)
	assert.NotNil(t, b.PromotedAt)
}

func TestRecordUse_StrictTierNeedsMore(t *testing.T) {
	svc, bindings, _ := setupGovernance()
	svc.Tier = TierStrict
	ctx := context.Background()

	b := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State: domain.BindingExploring,
	}
	require.NoError(t, bindings.Create(ctx, b))

	// 2/3 success rate (0.67) clears standard but not strict (0.75).
	require.NoError(t, svc.RecordUse(ctx, b, true))
	require.NoError(t, svc.RecordUse(ctx, b, true))
	require.NoError(t, svc.RecordUse(ctx, b, false))
	assert.Equal(t, domain.BindingExploring, b.State, "strict tier must not promote at 0.67")

	require.NoError(t, svc.RecordUse(ctx, b, true))
	assert.Equal(t, domain.BindingPromoted, b.State, "expected promotion at 0.75")
}

func TestRecordUse_RetiredIsTerminal(t *testing.T) {
	svc, bindings, _ := setupGovernance()
	ctx := context.Background()

	b := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State: domain.BindingRetired,
	}
	require.NoError(t, bindings.Create(ctx, b))

	err := svc.RecordUse(ctx, b, true)
	assert.ErrorIs(t, err, domain.ErrTerminalState)
	assert.Zero(t, b.UsageCount, "retired binding must not accumulate usage")
}

func TestRecordUse_AutoRetiresOnDrift(t *testing.T) {
	svc, bindings, _ := setupGovernance()
	ctx := context.Background()

	b := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State:      domain.BindingPromoted,
		UsageCount: 11, SuccessCount: 2,
	}
	require.NoError(t, bindings.Create(ctx, b))

	require.NoError(t, svc.RecordUse(ctx, b, false))
	assert.Equal(t, domain.BindingRetired, b.State)
	assert.NotNil(t, b.RetiredAt)
}

func TestSweepInactive_FreezesIdlePromoted(t *testing.T) {
	svc, bindings, now := setupGovernance()
	ctx := context.Background()

	idle := now.Add(-100 * 24 * time.Hour)
	healthy := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State:      domain.BindingPromoted,
		UsageCount: 10, SuccessCount: 8,
		LastUsed: &idle,
	}
	require.NoError(t, bindings.Create(ctx, healthy))

	recent := now.Add(-24 * time.Hour)
	active := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State:      domain.BindingPromoted,
		UsageCount: 10, SuccessCount: 8,
		LastUsed: &recent,
	}
	require.NoError(t, bindings.Create(ctx, active))

	frozen, retired := svc.SweepInactive(ctx)
	assert.Equal(t, 1, frozen)
	assert.Equal(t, 0, retired)

	got, err := bindings.Get(ctx, healthy.TemplateID, healthy.EntityID)
	require.NoError(t, err)
	assert.Equal(t, domain.BindingFrozen, got.State)

	got, err = bindings.Get(ctx, active.TemplateID, active.EntityID)
	require.NoError(t, err)
	assert.Equal(t, domain.BindingPromoted, got.State)
}

func TestSweepInactive_RetiresDrifted(t *testing.T) {
	svc, bindings, _ := setupGovernance()
	ctx := context.Background()

	drifted := &domain.RuntimeBinding{
		TemplateID: uuid.New(), EntityID: uuid.New(),
		State:      domain.BindingPromoted,
		UsageCount: 12, SuccessCount: 2,
	}
	require.NoError(t, bindings.Create(ctx, drifted))

	_, retired := svc.SweepInactive(ctx)
	assert.Equal(t, 1, retired)

	got, err := bindings.Get(ctx, drifted.TemplateID, drifted.EntityID)
	require.NoError(t, err)
	assert.Equal(t, domain.BindingRetired, got.State)
}

func TestBindingStateTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.BindingState
		ok       bool
	}{
		{domain.BindingExploring, domain.BindingPromoted, true},
		{domain.BindingExploring, domain.BindingRetired, true},
		{domain.BindingExploring, domain.BindingFrozen, false},
		{domain.BindingPromoted, domain.BindingFrozen, true},
		{domain.BindingPromoted, domain.BindingRetired, true},
		{domain.BindingPromoted, domain.BindingExploring, false},
		{domain.BindingFrozen, domain.BindingRetired, true},
		{domain.BindingFrozen, domain.BindingPromoted, false},
		{domain.BindingRetired, domain.BindingExploring, false},
		{domain.BindingRetired, domain.BindingPromoted, false},
		{domain.BindingRetired, domain.BindingFrozen, false},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
