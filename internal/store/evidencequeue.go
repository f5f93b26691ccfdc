package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
)

// EvidenceQueue is an in-memory inbox of collected evidence awaiting an
// exploration run. Evidence reads drain the queue: each item is handed to
// the engine exactly once.
type EvidenceQueue struct {
	mu    sync.Mutex
	items map[uuid.UUID][]domain.EvidenceItem
}

func NewEvidenceQueue() *EvidenceQueue {
	return &EvidenceQueue{items: make(map[uuid.UUID][]domain.EvidenceItem)}
}

// Enqueue adds items to an entity's inbox.
func (q *EvidenceQueue) Enqueue(entityID uuid.UUID, items ...domain.EvidenceItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[entityID] = append(q.items[entityID], items...)
}

// Pending returns the number of queued items for an entity.
func (q *EvidenceQueue) Pending(entityID uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[entityID])
}

// Evidence drains and returns the entity's queued items.
func (q *EvidenceQueue) Evidence(_ context.Context, entityID uuid.UUID) ([]domain.EvidenceItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items[entityID]
	delete(q.items, entityID)
	return items, nil
}
