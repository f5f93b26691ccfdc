package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/outboundlab/conviction/internal/domain"
	"go.uber.org/zap"
)

// Ledger is the append-only evidence ledger: an ordered hash chain per
// cluster. Every entry's hash covers the RFC 8785 canonical form of all its
// fields, previous hash included, so the chain is verifiable end to end by
// recomputation alone.
//
// Writes to one cluster's chain serialize on that cluster's tail; chains for
// different clusters never contend with each other.
type Ledger struct {
	log    domain.LedgerLog
	logger *zap.Logger

	mu    sync.Mutex
	tails map[uuid.UUID]*chainTail
}

type chainTail struct {
	mu       sync.Mutex
	loaded   bool
	lastHash string
	corrupt  bool
}

func New(log domain.LedgerLog, logger *zap.Logger) *Ledger {
	return &Ledger{
		log:    log,
		logger: logger,
		tails:  make(map[uuid.UUID]*chainTail),
	}
}

func (l *Ledger) tail(clusterID uuid.UUID) *chainTail {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tails[clusterID]
	if !ok {
		t = &chainTail{}
		l.tails[clusterID] = t
	}
	return t
}

// Append chains and persists one entry. The entry's PreviousHash and
// EntryHash are set here; callers never compute hashes themselves. A cluster
// whose chain has been found corrupt rejects all writes until resolved.
func (l *Ledger) Append(ctx context.Context, entry *domain.ExplorationLogEntry) error {
	t := l.tail(entry.ClusterID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.corrupt {
		return fmt.Errorf("cluster %s write path blocked: %w", entry.ClusterID, domain.ErrLedgerCorrupt)
	}

	if !t.loaded {
		entries, err := l.log.ListByCluster(ctx, entry.ClusterID)
		if err != nil {
			return fmt.Errorf("load chain tail: %w", err)
		}
		if len(entries) > 0 {
			t.lastHash = entries[len(entries)-1].EntryHash
		}
		t.loaded = true
	}

	// TIMESTAMPTZ keeps microseconds, so the hashed timestamp must match
	// what a round trip through the log will return.
	entry.Timestamp = normalizeTimestamp(entry.Timestamp)
	entry.PreviousHash = t.lastHash
	hash, err := entryHash(entry)
	if err != nil {
		return fmt.Errorf("hash entry: %w", err)
	}
	entry.EntryHash = hash

	if err := l.log.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	t.lastHash = entry.EntryHash
	return nil
}

// ByCluster returns the full ordered chain for a cluster.
func (l *Ledger) ByCluster(ctx context.Context, clusterID uuid.UUID) ([]domain.ExplorationLogEntry, error) {
	return l.log.ListByCluster(ctx, clusterID)
}

// ByCategory returns the cluster's entries for one category, in chain order.
func (l *Ledger) ByCategory(ctx context.Context, clusterID uuid.UUID, category domain.Category) ([]domain.ExplorationLogEntry, error) {
	entries, err := l.log.ListByCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	var out []domain.ExplorationLogEntry
	for _, e := range entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out, nil
}

// Verify recomputes the whole chain from entry 0. Any entry whose stored
// hash does not match its recomputed hash, or whose previous_hash does not
// equal the prior entry's entry_hash, corrupts the chain from that point on;
// the cluster's write path is blocked until the segment is resolved.
func (l *Ledger) Verify(ctx context.Context, clusterID uuid.UUID) error {
	entries, err := l.log.ListByCluster(ctx, clusterID)
	if err != nil {
		return err
	}

	prev := ""
	for i := range entries {
		e := entries[i]
		if e.PreviousHash != prev {
			return l.markCorrupt(clusterID, i, "previous_hash does not match prior entry_hash")
		}
		recomputed, err := entryHash(&e)
		if err != nil {
			return fmt.Errorf("rehash entry %d: %w", i, err)
		}
		if recomputed != e.EntryHash {
			return l.markCorrupt(clusterID, i, "stored entry_hash does not match recomputed hash")
		}
		prev = e.EntryHash
	}
	return nil
}

func (l *Ledger) markCorrupt(clusterID uuid.UUID, index int, reason string) error {
	t := l.tail(clusterID)
	t.mu.Lock()
	t.corrupt = true
	t.mu.Unlock()

	l.logger.Error("evidence ledger integrity violation",
		zap.String("cluster_id", clusterID.String()),
		zap.Int("entry_index", index),
		zap.String("reason", reason))
	return fmt.Errorf("entry %d: %s: %w", index, reason, domain.ErrLedgerCorrupt)
}

// normalizeTimestamp pins the hashed timestamp to UTC microsecond precision,
// the precision the backing store preserves.
func normalizeTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Microsecond)
}

// entryHash computes SHA-256 over the RFC 8785 canonical JSON of the entry
// with its own EntryHash field blanked. The timestamp is normalized so the
// hash is stable across storage round trips.
func entryHash(entry *domain.ExplorationLogEntry) (string, error) {
	unsealed := *entry
	unsealed.EntryHash = ""
	unsealed.Timestamp = normalizeTimestamp(unsealed.Timestamp)

	raw, err := json.Marshal(&unsealed)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
