package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboundlab/conviction/internal/domain"
)

// TemplateStore persists immutable pattern template versions. There is no
// update statement on purpose: a promoted version is never edited, only
// succeeded by a higher version.
type TemplateStore struct {
	db *pgxpool.Pool
}

func NewTemplateStore(db *pgxpool.Pool) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) Create(ctx context.Context, t *domain.PatternTemplate) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO pattern_templates (id, cluster_id, pattern, category, version, outcome, source_report_id, source_confidence, guarded, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ClusterID, t.Pattern, t.Category, t.Version, t.Outcome, t.SourceReportID, t.SourceConfidence, t.Guarded, t.CreatedAt,
	)
	return err
}

func (s *TemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.PatternTemplate, error) {
	t := &domain.PatternTemplate{}
	err := s.db.QueryRow(ctx,
		`SELECT id, cluster_id, pattern, category, version, outcome, source_report_id, source_confidence, guarded, created_at
		 FROM pattern_templates WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.ClusterID, &t.Pattern, &t.Category, &t.Version, &t.Outcome, &t.SourceReportID, &t.SourceConfidence, &t.Guarded, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *TemplateStore) LatestVersion(ctx context.Context, clusterID uuid.UUID, pattern string) (*domain.PatternTemplate, error) {
	t := &domain.PatternTemplate{}
	err := s.db.QueryRow(ctx,
		`SELECT id, cluster_id, pattern, category, version, outcome, source_report_id, source_confidence, guarded, created_at
		 FROM pattern_templates WHERE cluster_id = $1 AND pattern = $2
		 ORDER BY version DESC LIMIT 1`,
		clusterID, pattern,
	).Scan(&t.ID, &t.ClusterID, &t.Pattern, &t.Category, &t.Version, &t.Outcome, &t.SourceReportID, &t.SourceConfidence, &t.Guarded, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *TemplateStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]*domain.PatternTemplate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, cluster_id, pattern, category, version, outcome, source_report_id, source_confidence, guarded, created_at
		 FROM pattern_templates WHERE cluster_id = $1 ORDER BY pattern, version`,
		clusterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PatternTemplate
	for rows.Next() {
		t := &domain.PatternTemplate{}
		if err := rows.Scan(&t.ID, &t.ClusterID, &t.Pattern, &t.Category, &t.Version, &t.Outcome, &t.SourceReportID, &t.SourceConfidence, &t.Guarded, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
