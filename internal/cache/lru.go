// Package cache holds the query side's in-process cache for frozen
// projection rows. Terminal notas and ERC20 dictionary entries never
// change once written, so the only staleness to manage is key-space
// growth; capacity eviction and a TTL bound memory, not correctness.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cheqlabs/dCheque/internal/metrics"
)

// FrozenLRU caches immutable values by key with LRU capacity eviction
// and per-entry expiry. The name labels its hit/miss/eviction metrics.
type FrozenLRU[K comparable, V any] struct {
	name     string
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[K]*list.Element
	recency *list.List // front = most recently used
	nowFn   func() time.Time
}

type frozenEntry[K comparable, V any] struct {
	key     K
	value   V
	staleAt time.Time
}

// New creates a cache holding at most capacity entries, each served for
// at most ttl after insertion.
func New[K comparable, V any](name string, capacity int, ttl time.Duration) *FrozenLRU[K, V] {
	return &FrozenLRU[K, V]{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[K]*list.Element, capacity),
		recency:  list.New(),
		nowFn:    time.Now,
	}
}

// Get returns the cached value for key. Expired entries are dropped on
// access and count as misses.
func (c *FrozenLRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	ent := elem.Value.(*frozenEntry[K, V])
	if c.nowFn().After(ent.staleAt) {
		c.drop(elem)
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	c.recency.MoveToFront(elem)
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return ent.value, true
}

// Add inserts value under key, evicting the least recently used entry
// when the cache is full. Re-adding an existing key refreshes its expiry;
// the values are frozen rows, so the payload is interchangeable.
func (c *FrozenLRU[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*frozenEntry[K, V])
		ent.value = value
		ent.staleAt = c.nowFn().Add(c.ttl)
		c.recency.MoveToFront(elem)
		return
	}

	if c.recency.Len() >= c.capacity {
		if oldest := c.recency.Back(); oldest != nil {
			c.drop(oldest)
			metrics.CacheEvictions.WithLabelValues(c.name).Inc()
		}
	}

	c.entries[key] = c.recency.PushFront(&frozenEntry[K, V]{
		key:     key,
		value:   value,
		staleAt: c.nowFn().Add(c.ttl),
	})
}

// Len reports the live entry count, expired-but-unread entries included.
func (c *FrozenLRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *FrozenLRU[K, V]) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*frozenEntry[K, V]).key)
}
