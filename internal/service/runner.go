package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/store"
	"go.uber.org/zap"
)

const DefaultMaxConcurrentEntities = 8

// EntityRunner drives the confidence engine over many entities with bounded
// parallelism. Each entity's state is owned by exactly one worker for the
// duration of its run, so no locking happens on the state itself.
type EntityRunner struct {
	engine *ConfidenceEngine
	states domain.EntityStateStore
	source domain.EvidenceSource
	logger *zap.Logger

	MaxConcurrent int

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewEntityRunner(engine *ConfidenceEngine, states domain.EntityStateStore, source domain.EvidenceSource, logger *zap.Logger) *EntityRunner {
	return &EntityRunner{
		engine:        engine,
		states:        states,
		source:        source,
		logger:        logger,
		MaxConcurrent: DefaultMaxConcurrentEntities,
		locks:         make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *EntityRunner) entityLock(entityID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[entityID] = lock
	}
	return lock
}

// EntityRunResult is the outcome of one entity's run.
type EntityRunResult struct {
	EntityID uuid.UUID
	State    *domain.EntityConfidenceState
	Applied  int
	Err      error
}

// RunEntities processes the given entities concurrently, at most MaxConcurrent
// at a time. A failure or cancellation mid-entity leaves that entity's state
// holding only fully-committed iterations; partial iterations are never
// applied.
func (r *EntityRunner) RunEntities(ctx context.Context, clusterID uuid.UUID, entityIDs []uuid.UUID) []EntityRunResult {
	limit := r.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrentEntities
	}

	sem := make(chan struct{}, limit)
	results := make([]EntityRunResult, len(entityIDs))
	var wg sync.WaitGroup

	for i, entityID := range entityIDs {
		select {
		case <-ctx.Done():
			results[i] = EntityRunResult{EntityID: entityID, Err: ctx.Err()}
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = r.runOne(ctx, clusterID, id)
		}(i, entityID)
	}
	wg.Wait()
	return results
}

// loadState fetches the entity's persisted state, seeding a fresh one only
// when the store has never seen the entity. Any other read failure aborts the
// run: falling back to baseline there would let the next Save overwrite the
// entity's committed history.
func (r *EntityRunner) loadState(ctx context.Context, clusterID, entityID uuid.UUID) (*domain.EntityConfidenceState, error) {
	state, err := r.states.Get(ctx, entityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r.engine.NewState(entityID, clusterID), nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = r.engine.NewState(entityID, clusterID)
	}
	return state, nil
}

// ApplyOne applies a single evidence item against one entity and persists the
// updated state. Concurrent calls for the same entity serialize on a per-entity
// lock so state ownership stays exclusive.
func (r *EntityRunner) ApplyOne(ctx context.Context, clusterID, entityID uuid.UUID, item domain.EvidenceItem) (*EvidenceResult, *domain.EntityConfidenceState, error) {
	lock := r.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.loadState(ctx, clusterID, entityID)
	if err != nil {
		return nil, nil, err
	}

	result, err := r.engine.ApplyEvidence(ctx, state, item)
	if err != nil {
		return nil, state, err
	}
	if err := r.states.Save(context.WithoutCancel(ctx), state); err != nil {
		return nil, state, fmt.Errorf("save state: %w", err)
	}
	return result, state, nil
}

// State returns the current confidence state for an entity.
func (r *EntityRunner) State(ctx context.Context, entityID uuid.UUID) (*domain.EntityConfidenceState, error) {
	return r.states.Get(ctx, entityID)
}

func (r *EntityRunner) runOne(ctx context.Context, clusterID, entityID uuid.UUID) EntityRunResult {
	lock := r.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.loadState(ctx, clusterID, entityID)
	if err != nil {
		return EntityRunResult{EntityID: entityID, Err: err}
	}

	items, err := r.source.Evidence(ctx, entityID)
	if err != nil {
		return EntityRunResult{EntityID: entityID, State: state, Err: fmt.Errorf("fetch evidence: %w", err)}
	}

	var applied int
	var runErr error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		result, err := r.engine.ApplyEvidence(ctx, state, item)
		if err != nil {
			runErr = err
			break
		}
		applied++
		r.logger.Debug("evidence applied",
			zap.String("entity_id", entityID.String()),
			zap.String("decision", result.Decision.DisplayName()),
			zap.Float64("delta", result.Delta),
			zap.Float64("confidence", result.Confidence))
	}

	// Committed iterations are saved even when the run was cut short.
	if err := r.states.Save(context.WithoutCancel(ctx), state); err != nil && runErr == nil {
		runErr = fmt.Errorf("save state: %w", err)
	}

	return EntityRunResult{EntityID: entityID, State: state, Applied: applied, Err: runErr}
}
