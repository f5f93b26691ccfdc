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

// ReportStore persists exploration reports. The pattern breakdown is stored
// as a JSONB document since it is only ever read back whole.
type ReportStore struct {
	db *pgxpool.Pool
}

func NewReportStore(db *pgxpool.Pool) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) Create(ctx context.Context, r *domain.ExplorationReport) error {
	patterns, err := json.Marshal(r.Patterns)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO exploration_reports (id, cluster_id, sample_size, total_observations, patterns, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ClusterID, r.SampleSize, r.TotalObservations, patterns, r.StartedAt, r.CompletedAt,
	)
	return err
}

func (s *ReportStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExplorationReport, error) {
	r := &domain.ExplorationReport{}
	var patterns []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, cluster_id, sample_size, total_observations, patterns, started_at, completed_at
		 FROM exploration_reports WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.ClusterID, &r.SampleSize, &r.TotalObservations, &patterns, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(patterns, &r.Patterns); err != nil {
		return nil, err
	}
	return r, nil
}
