package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultMaxBytes      = 100 << 20 // 100 MB
	DefaultTTL           = 60 * time.Minute
	DefaultSweepInterval = 5 * time.Minute

	// entryOverheadBytes approximates the fixed cost of one cached record
	// beyond its variable-length statement.
	entryOverheadBytes = 256
)

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Entries     int   `json:"entries"`
	Bytes       int64 `json:"bytes"`
}

type cacheEntry struct {
	key         uuid.UUID
	hypothesis  *domain.Hypothesis
	size        int64
	expiresAt   time.Time
	accessCount int64
}

// HypothesisCache is a byte-bounded, TTL-based LRU cache of hypothesis
// records keyed by hypothesis id. Expired entries are evicted lazily on
// access and swept periodically; overflow always evicts the least-recently
// used entry first. Safe for concurrent use.
type HypothesisCache struct {
	mu    sync.Mutex
	ll    *list.List
	items map[uuid.UUID]*list.Element
	bytes int64

	maxBytes int64
	ttl      time.Duration
	now      func() time.Time

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	logger *zap.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(maxBytes int64, ttl time.Duration, logger *zap.Logger) *HypothesisCache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &HypothesisCache{
		ll:       list.New(),
		items:    make(map[uuid.UUID]*list.Element),
		maxBytes: maxBytes,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// SetClock overrides the cache's time source. Tests only.
func (c *HypothesisCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached hypothesis, or nil and false on a miss. An entry
// past its TTL counts as a miss and is removed on the spot.
func (c *HypothesisCache) Get(id uuid.UUID) (*domain.Hypothesis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := elem.Value.(*cacheEntry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.expirations++
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(elem)
	ent.accessCount++
	c.hits++
	return ent.hypothesis, true
}

// Set inserts or refreshes a hypothesis, then evicts LRU entries until the
// cache fits its byte bound again.
func (c *HypothesisCache) Set(hyp *domain.Hypothesis) {
	if hyp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(hyp.Statement)) + entryOverheadBytes

	if elem, ok := c.items[hyp.ID]; ok {
		ent := elem.Value.(*cacheEntry)
		c.bytes += size - ent.size
		ent.hypothesis = hyp
		ent.size = size
		ent.expiresAt = c.now().Add(c.ttl)
		c.ll.MoveToFront(elem)
	} else {
		ent := &cacheEntry{
			key:        hyp.ID,
			hypothesis: hyp,
			size:       size,
			expiresAt:  c.now().Add(c.ttl),
		}
		c.items[hyp.ID] = c.ll.PushFront(ent)
		c.bytes += size
	}

	for c.bytes > c.maxBytes && c.ll.Len() > 1 {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

// AccessCount returns how often a live entry has been read.
func (c *HypothesisCache) AccessCount(id uuid.UUID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		return elem.Value.(*cacheEntry).accessCount
	}
	return 0
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *HypothesisCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	now := c.now()
	for elem := c.ll.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*cacheEntry)
		if now.After(ent.expiresAt) {
			c.removeElement(elem)
			c.expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (c *HypothesisCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Entries:     c.ll.Len(),
		Bytes:       c.bytes,
	}
}

// Start launches the periodic sweep worker.
func (c *HypothesisCache) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 && c.logger != nil {
					c.logger.Debug("cache sweep", zap.Int("expired_removed", removed))
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweep worker.
func (c *HypothesisCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *HypothesisCache) removeElement(elem *list.Element) {
	ent := elem.Value.(*cacheEntry)
	c.ll.Remove(elem)
	delete(c.items, ent.key)
	c.bytes -= ent.size
}
