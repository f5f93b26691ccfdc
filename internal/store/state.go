package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboundlab/conviction/internal/domain"
)

// EntityStateStore persists per-entity confidence states between runs. The
// state is a single self-contained document (category stats, hypotheses,
// belief ledger), so it is stored whole as JSONB keyed by entity.
type EntityStateStore struct {
	db *pgxpool.Pool
}

func NewEntityStateStore(db *pgxpool.Pool) *EntityStateStore {
	return &EntityStateStore{db: db}
}

func (s *EntityStateStore) Save(ctx context.Context, state *domain.EntityConfidenceState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO entity_confidence_states (entity_id, cluster_id, state, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (entity_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		state.EntityID, state.ClusterID, doc,
	)
	return err
}

func (s *EntityStateStore) Get(ctx context.Context, entityID uuid.UUID) (*domain.EntityConfidenceState, error) {
	var doc []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM entity_confidence_states WHERE entity_id = $1`,
		entityID,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	state := &domain.EntityConfidenceState{}
	if err := json.Unmarshal(doc, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *EntityStateStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.EntityConfidenceState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT state FROM entity_confidence_states WHERE cluster_id = $1 ORDER BY entity_id`,
		clusterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.EntityConfidenceState
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		state := &domain.EntityConfidenceState{}
		if err := json.Unmarshal(doc, state); err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}
