// Package cache provides the in-process embedding cache.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// VectorCache is an LRU cache for embedding vectors with TTL support.
// It is safe for concurrent use; all mutation happens under one mutex
// held only for map/list operations, never across I/O.
type VectorCache struct {
	capacity   int
	defaultTTL time.Duration
	mu         sync.Mutex

	entries map[string]*entry
	order   *list.List // most recently used at front
}

type entry struct {
	key       string
	vector    []float32
	expiresAt time.Time
	element   *list.Element
}

// NewVectorCache creates a cache bounded to capacity entries.
func NewVectorCache(capacity int, defaultTTL time.Duration) *VectorCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &VectorCache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*entry),
		order:      list.New(),
	}
}

// Get retrieves a vector from the cache. The returned slice is a copy; the
// cached vector is never handed out for mutation.
func (c *VectorCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		return nil, false
	}

	c.order.MoveToFront(e.element)
	out := make([]float32, len(e.vector))
	copy(out, e.vector)
	return out, true
}

// Set stores a vector with insert-if-absent semantics for new keys; an
// existing key is refreshed in place.
func (c *VectorCache) Set(key string, vector []float32) {
	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.vector = stored
		e.expiresAt = time.Now().Add(c.defaultTTL)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	e := &entry{
		key:       key,
		vector:    stored,
		expiresAt: time.Now().Add(c.defaultTTL),
	}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Size returns the number of entries in the cache.
func (c *VectorCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *VectorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order.Init()
}

// CleanupExpired removes all expired entries and returns how many.
func (c *VectorCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []*entry
	now := time.Now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		c.removeEntry(e)
	}
	return len(toDelete)
}

// evictOldest removes the least recently used entry. Lock must be held.
func (c *VectorCache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeEntry(oldest.Value.(*entry))
}

// removeEntry removes an entry. Lock must be held.
func (c *VectorCache) removeEntry(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
