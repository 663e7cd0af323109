package indexer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EventCache is a bounded, write-through cache of recently stored events keyed by
// "{chain_id}:{tx_hash}:{log_index}". Eviction is strict insertion order: the entry inserted
// least recently is evicted first, regardless of how often it has been read since.
//
// This deliberately never calls the underlying lru.Cache's Get method, which promotes the
// accessed key to most-recently-used and would turn this into an access-order LRU. Only Add,
// Peek (read without promotion) and Contains are used.
type EventCache struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, Event]
	max int
}

// NewEventCache builds a cache holding at most max entries.
func NewEventCache(max int) (*EventCache, error) {
	if max <= 0 {
		max = 1
	}
	c, err := lru.New[string, Event](max)
	if err != nil {
		return nil, err
	}
	return &EventCache{lru: c, max: max}, nil
}

// Put inserts or overwrites an event under its cache key. Insertion into an already-full cache
// evicts the oldest-inserted entry (handled internally by the lru.Cache's Add, which is an
// insertion-order-bounded structure when only Add/Peek/Contains are used).
func (c *EventCache) Put(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(e.CacheKey(), e)
}

// Peek returns the cached event for key without affecting eviction order.
func (c *EventCache) Peek(key string) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Peek(key)
}

// Contains reports whether key is currently cached, without affecting eviction order.
func (c *EventCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Contains(key)
}

// Stats returns (current size, max size) as used by storage.cache_stats().
func (c *EventCache) Stats() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.max
}
