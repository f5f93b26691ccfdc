package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboundlab/conviction/internal/domain"
)

type BindingStore struct {
	db *pgxpool.Pool
}

func NewBindingStore(db *pgxpool.Pool) *BindingStore {
	return &BindingStore{db: db}
}

func (s *BindingStore) Create(ctx context.Context, b *domain.RuntimeBinding) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO runtime_bindings (template_id, entity_id, discovered_channels, enriched_patterns, confidence_adjustment, usage_count, success_count, zero_signal_streak, state, last_used, promoted_at, retired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		b.TemplateID, b.EntityID, b.DiscoveredChannels, b.EnrichedPatterns, b.ConfidenceAdjustment,
		b.UsageCount, b.SuccessCount, b.ZeroSignalStreak, b.State, b.LastUsed, b.PromotedAt, b.RetiredAt,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (s *BindingStore) Get(ctx context.Context, templateID, entityID uuid.UUID) (*domain.RuntimeBinding, error) {
	b := &domain.RuntimeBinding{}
	err := s.db.QueryRow(ctx,
		`SELECT template_id, entity_id, discovered_channels, enriched_patterns, confidence_adjustment, usage_count, success_count, zero_signal_streak, state, last_used, promoted_at, retired_at, created_at, updated_at
		 FROM runtime_bindings WHERE template_id = $1 AND entity_id = $2`,
		templateID, entityID,
	).Scan(&b.TemplateID, &b.EntityID, &b.DiscoveredChannels, &b.EnrichedPatterns, &b.ConfidenceAdjustment,
		&b.UsageCount, &b.SuccessCount, &b.ZeroSignalStreak, &b.State, &b.LastUsed, &b.PromotedAt, &b.RetiredAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *BindingStore) Update(ctx context.Context, b *domain.RuntimeBinding) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE runtime_bindings
		 SET discovered_channels = $3, enriched_patterns = $4, confidence_adjustment = $5,
		     usage_count = $6, success_count = $7, zero_signal_streak = $8, state = $9,
		     last_used = $10, promoted_at = $11, retired_at = $12, updated_at = NOW()
		 WHERE template_id = $1 AND entity_id = $2`,
		b.TemplateID, b.EntityID, b.DiscoveredChannels, b.EnrichedPatterns, b.ConfidenceAdjustment,
		b.UsageCount, b.SuccessCount, b.ZeroSignalStreak, b.State, b.LastUsed, b.PromotedAt, b.RetiredAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *BindingStore) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*domain.RuntimeBinding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT template_id, entity_id, discovered_channels, enriched_patterns, confidence_adjustment, usage_count, success_count, zero_signal_streak, state, last_used, promoted_at, retired_at, created_at, updated_at
		 FROM runtime_bindings WHERE template_id = $1 ORDER BY entity_id`,
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBindings(rows)
}

func (s *BindingStore) ListByState(ctx context.Context, state domain.BindingState) ([]*domain.RuntimeBinding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT template_id, entity_id, discovered_channels, enriched_patterns, confidence_adjustment, usage_count, success_count, zero_signal_streak, state, last_used, promoted_at, retired_at, created_at, updated_at
		 FROM runtime_bindings WHERE state = $1 ORDER BY template_id, entity_id`,
		state,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBindings(rows)
}

func scanBindings(rows pgx.Rows) ([]*domain.RuntimeBinding, error) {
	var out []*domain.RuntimeBinding
	for rows.Next() {
		b := &domain.RuntimeBinding{}
		err := rows.Scan(&b.TemplateID, &b.EntityID, &b.DiscoveredChannels, &b.EnrichedPatterns,
			&b.ConfidenceAdjustment, &b.UsageCount, &b.SuccessCount, &b.ZeroSignalStreak, &b.State,
			&b.LastUsed, &b.PromotedAt, &b.RetiredAt, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
