package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboundlab/conviction/internal/domain"
)

// LedgerLog persists the evidence ledger as an ordered append log per
// cluster. Insert is the only write; nothing here can update or delete.
type LedgerLog struct {
	db *pgxpool.Pool
}

func NewLedgerLog(db *pgxpool.Pool) *LedgerLog {
	return &LedgerLog{db: db}
}

func (s *LedgerLog) AppendEntry(ctx context.Context, entry *domain.ExplorationLogEntry) error {
	// pgx encodes nil slices as NULL, which the NOT NULL array columns reject.
	patterns := entry.PatternsObserved
	if patterns == nil {
		patterns = []string{}
	}
	signals := entry.ConfidenceSignals
	if signals == nil {
		signals = []float64{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO exploration_log (entry_id, ts, cluster_id, category, hypothesis, patterns_observed, confidence_signals, previous_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.EntryID, entry.Timestamp, entry.ClusterID, entry.Category, entry.Hypothesis,
		patterns, signals, entry.PreviousHash, entry.EntryHash,
	)
	return err
}

func (s *LedgerLog) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]domain.ExplorationLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT entry_id, ts, cluster_id, category, hypothesis, patterns_observed, confidence_signals, previous_hash, entry_hash
		 FROM exploration_log WHERE cluster_id = $1 ORDER BY seq`,
		clusterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExplorationLogEntry
	for rows.Next() {
		var e domain.ExplorationLogEntry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.ClusterID, &e.Category, &e.Hypothesis,
			&e.PatternsObserved, &e.ConfidenceSignals, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
