package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/outboundlab/conviction/internal/domain"
	"go.uber.org/zap"
)

// Governance thresholds over the binding lifecycle.
const (
	BindingPromoteMinUsage = 3

	RetireMinUsage         = 10
	RetireMaxSuccessRate   = 0.35
	RetireAdjustmentFloor  = -0.30
	RetireZeroSignalStreak = 5

	MonitorMaxSuccessRate = 0.60
	MonitorZeroSignalRuns = 3

	DefaultFreezeAfter   = 90 * 24 * time.Hour
	defaultDriftInterval = 6 * time.Hour
)

// BindingTier selects how much observed success a binding needs before it is
// promoted out of exploration.
type BindingTier string

const (
	TierStandard BindingTier = "standard"
	TierStrict   BindingTier = "strict"
)

// PromotionThreshold is the minimum success rate for EXPLORING to PROMOTED.
func (t BindingTier) PromotionThreshold() float64 {
	if t == TierStrict {
		return 0.75
	}
	return 0.60
}

// GovernanceService owns the runtime binding lifecycle: promotion on observed
// success, freezing on inactivity, and irreversible retirement on drift.
type GovernanceService struct {
	bindings domain.BindingStore
	logger   *zap.Logger

	Tier        BindingTier
	FreezeAfter time.Duration
	now         func() time.Time

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewGovernanceService(bindings domain.BindingStore, logger *zap.Logger) *GovernanceService {
	return &GovernanceService{
		bindings:    bindings,
		logger:      logger,
		Tier:        TierStandard,
		FreezeAfter: DefaultFreezeAfter,
		now:         time.Now,
		interval:    defaultDriftInterval,
		stopCh:      make(chan struct{}),
	}
}

// SetClock overrides the time source. Tests only.
func (s *GovernanceService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *GovernanceService) SetInterval(d time.Duration) {
	s.interval = d
}

// RecordUse applies one execution's outcome to a binding and runs the
// lifecycle rules that depend on it. A retired binding never executes again.
func (s *GovernanceService) RecordUse(ctx context.Context, b *domain.RuntimeBinding, foundSignal bool) error {
	if b.State == domain.BindingRetired {
		return domain.ErrTerminalState
	}

	now := s.now().UTC()
	b.UsageCount++
	if foundSignal {
		b.SuccessCount++
		b.ZeroSignalStreak = 0
	} else {
		b.ZeroSignalStreak++
	}
	b.LastUsed = &now
	b.UpdatedAt = now

	if b.State == domain.BindingExploring &&
		b.UsageCount >= BindingPromoteMinUsage &&
		b.SuccessRate() >= s.Tier.PromotionThreshold() {
		s.transition(b, domain.BindingPromoted, now)
	}

	if report := s.CheckDrift(b); report.Recommendation == domain.DriftRetire {
		s.retire(b, now, report.Rationale)
	}

	return s.bindings.Update(ctx, b)
}

// CheckDrift evaluates every drift threshold against the binding and returns
// a recommendation with a rationale naming each breach. It never mutates the
// binding; retirement is applied separately and is irreversible.
func (s *GovernanceService) CheckDrift(b *domain.RuntimeBinding) *domain.DriftReport {
	report := &domain.DriftReport{
		TemplateID: b.TemplateID,
		EntityID:   b.EntityID,
		CheckedAt:  s.now().UTC(),
	}

	var retireReasons, monitorReasons []string

	if b.UsageCount >= RetireMinUsage && b.SuccessRate() < RetireMaxSuccessRate {
		retireReasons = append(retireReasons, fmt.Sprintf(
			"success rate %.2f below %.2f after %d uses", b.SuccessRate(), RetireMaxSuccessRate, b.UsageCount))
	}
	if b.ConfidenceAdjustment < RetireAdjustmentFloor {
		retireReasons = append(retireReasons, fmt.Sprintf(
			"confidence adjustment %.2f below floor %.2f", b.ConfidenceAdjustment, RetireAdjustmentFloor))
	}
	if b.ZeroSignalStreak >= RetireZeroSignalStreak {
		retireReasons = append(retireReasons, fmt.Sprintf(
			"%d consecutive executions with zero new signal", b.ZeroSignalStreak))
	}

	if len(retireReasons) > 0 {
		report.Recommendation = domain.DriftRetire
		report.Rationale = retireReasons
		return report
	}

	if b.UsageCount >= BindingPromoteMinUsage && b.SuccessRate() < MonitorMaxSuccessRate {
		monitorReasons = append(monitorReasons, fmt.Sprintf(
			"success rate %.2f below healthy threshold %.2f", b.SuccessRate(), MonitorMaxSuccessRate))
	}
	if b.ZeroSignalStreak >= MonitorZeroSignalRuns {
		monitorReasons = append(monitorReasons, fmt.Sprintf(
			"%d consecutive executions with zero new signal", b.ZeroSignalStreak))
	}
	if b.LastUsed != nil && s.now().Sub(*b.LastUsed) > s.FreezeAfter {
		monitorReasons = append(monitorReasons, fmt.Sprintf(
			"unused for longer than %s", s.FreezeAfter))
	}

	if len(monitorReasons) > 0 {
		report.Recommendation = domain.DriftMonitor
		report.Rationale = monitorReasons
		return report
	}

	report.Recommendation = domain.DriftHealthy
	report.Rationale = []string{"no thresholds breached"}
	return report
}

// SweepInactive freezes promoted bindings that were previously healthy but
// have gone unused past the inactivity window, and retires any binding whose
// drift check says so. Returns (frozen, retired).
func (s *GovernanceService) SweepInactive(ctx context.Context) (int, int) {
	var frozen, retired int
	now := s.now().UTC()

	for _, state := range []domain.BindingState{domain.BindingExploring, domain.BindingPromoted, domain.BindingFrozen} {
		bindings, err := s.bindings.ListByState(ctx, state)
		if err != nil {
			s.logger.Error("governance sweep: list bindings failed",
				zap.String("state", string(state)), zap.Error(err))
			continue
		}
		for _, b := range bindings {
			report := s.CheckDrift(b)
			switch {
			case report.Recommendation == domain.DriftRetire:
				s.retire(b, now, report.Rationale)
				if err := s.bindings.Update(ctx, b); err == nil {
					retired++
				}
			case b.State == domain.BindingPromoted &&
				b.LastUsed != nil && now.Sub(*b.LastUsed) > s.FreezeAfter &&
				b.SuccessRate() >= s.Tier.PromotionThreshold():
				s.transition(b, domain.BindingFrozen, now)
				if err := s.bindings.Update(ctx, b); err == nil {
					frozen++
				}
			}
		}
	}

	if frozen > 0 || retired > 0 {
		s.logger.Info("governance sweep complete",
			zap.Int("frozen", frozen),
			zap.Int("retired", retired))
	}
	return frozen, retired
}

// Start launches the scheduled drift sweep.
func (s *GovernanceService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("governance sweep started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				s.SweepInactive(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("governance sweep stopped")
				return
			}
		}
	}()
}

func (s *GovernanceService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *GovernanceService) transition(b *domain.RuntimeBinding, next domain.BindingState, now time.Time) {
	if !b.State.CanTransitionTo(next) {
		s.logger.Warn("illegal binding transition refused",
			zap.String("from", string(b.State)),
			zap.String("to", string(next)))
		return
	}
	prev := b.State
	b.State = next
	b.UpdatedAt = now
	if next == domain.BindingPromoted {
		b.PromotedAt = &now
	}
	s.logger.Info("binding transitioned",
		zap.String("template_id", b.TemplateID.String()),
		zap.String("entity_id", b.EntityID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
}

func (s *GovernanceService) retire(b *domain.RuntimeBinding, now time.Time, rationale []string) {
	if b.State == domain.BindingRetired {
		return
	}
	if !b.State.CanTransitionTo(domain.BindingRetired) {
		return
	}
	b.State = domain.BindingRetired
	b.RetiredAt = &now
	b.UpdatedAt = now
	s.logger.Info("binding retired",
		zap.String("template_id", b.TemplateID.String()),
		zap.String("entity_id", b.EntityID.String()),
		zap.Strings("rationale", rationale))
}
