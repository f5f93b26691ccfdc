package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboundlab/conviction/internal/domain"
)

// ClusterStatsStore keeps per-(cluster, hypothesis) counters in Postgres.
// The upsert-increment makes each write atomic per key; row-level locking
// gives the per-key serialization the contract requires.
type ClusterStatsStore struct {
	db *pgxpool.Pool
}

func NewClusterStatsStore(db *pgxpool.Pool) *ClusterStatsStore {
	return &ClusterStatsStore{db: db}
}

func (s *ClusterStatsStore) RecordTested(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	stats := &domain.ClusterHypothesisStats{}
	err := s.db.QueryRow(ctx,
		`INSERT INTO cluster_hypothesis_stats (cluster_id, hypothesis_id, total_entities_tested, saturated_entities)
		 VALUES ($1, $2, 1, 0)
		 ON CONFLICT (cluster_id, hypothesis_id) DO UPDATE
		 SET total_entities_tested = cluster_hypothesis_stats.total_entities_tested + 1
		 RETURNING cluster_id, hypothesis_id, total_entities_tested, saturated_entities, last_saturation_at`,
		clusterID, hypothesisID,
	).Scan(&stats.ClusterID, &stats.HypothesisID, &stats.TotalEntitiesTested, &stats.SaturatedEntities, &stats.LastSaturationAt)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *ClusterStatsStore) RecordSaturated(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	stats := &domain.ClusterHypothesisStats{}
	err := s.db.QueryRow(ctx,
		`INSERT INTO cluster_hypothesis_stats (cluster_id, hypothesis_id, total_entities_tested, saturated_entities, last_saturation_at)
		 VALUES ($1, $2, 0, 1, NOW())
		 ON CONFLICT (cluster_id, hypothesis_id) DO UPDATE
		 SET saturated_entities = cluster_hypothesis_stats.saturated_entities + 1,
		     last_saturation_at = NOW()
		 RETURNING cluster_id, hypothesis_id, total_entities_tested, saturated_entities, last_saturation_at`,
		clusterID, hypothesisID,
	).Scan(&stats.ClusterID, &stats.HypothesisID, &stats.TotalEntitiesTested, &stats.SaturatedEntities, &stats.LastSaturationAt)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *ClusterStatsStore) Get(ctx context.Context, clusterID, hypothesisID uuid.UUID) (*domain.ClusterHypothesisStats, error) {
	stats := &domain.ClusterHypothesisStats{}
	err := s.db.QueryRow(ctx,
		`SELECT cluster_id, hypothesis_id, total_entities_tested, saturated_entities, last_saturation_at
		 FROM cluster_hypothesis_stats WHERE cluster_id = $1 AND hypothesis_id = $2`,
		clusterID, hypothesisID,
	).Scan(&stats.ClusterID, &stats.HypothesisID, &stats.TotalEntitiesTested, &stats.SaturatedEntities, &stats.LastSaturationAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return stats, nil
}

func (s *ClusterStatsStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.ClusterHypothesisStats, error) {
	rows, err := s.db.Query(ctx,
		`SELECT cluster_id, hypothesis_id, total_entities_tested, saturated_entities, last_saturation_at
		 FROM cluster_hypothesis_stats WHERE cluster_id = $1 ORDER BY hypothesis_id`,
		clusterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ClusterHypothesisStats
	for rows.Next() {
		stats := &domain.ClusterHypothesisStats{}
		if err := rows.Scan(&stats.ClusterID, &stats.HypothesisID, &stats.TotalEntitiesTested, &stats.SaturatedEntities, &stats.LastSaturationAt); err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}
