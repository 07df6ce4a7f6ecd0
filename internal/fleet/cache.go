// Package fleet reconciles live gateway observations with persisted machine
// records and drives the pairing lifecycle.
package fleet

import (
	"sync"
	"time"

	"fleetgate/internal/types"
)

// NodeCache is a short-lived cache in front of the node-list executor call,
// keyed by resolved target identity. It is the only shared mutable state in
// the core: safe for concurrent reads, single-writer replace under a mutex.
// Staleness is bounded by TTL and is not correctness-critical; concurrent
// misses may each pay one remote call, which is acceptable at this volume.
type NodeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	nodes     []types.NodeView
	fetchedAt time.Time
}

// NewNodeCache returns a cache with the given TTL.
func NewNodeCache(ttl time.Duration) *NodeCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &NodeCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached node list for key and its age, if fresh.
func (c *NodeCache) Get(key string) ([]types.NodeView, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	age := c.now().Sub(entry.fetchedAt)
	if age > c.ttl {
		delete(c.entries, key)
		return nil, 0, false
	}
	return entry.nodes, age, true
}

// Put replaces the cached node list for key.
func (c *NodeCache) Put(key string, nodes []types.NodeView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{nodes: nodes, fetchedAt: c.now()}
}

// Invalidate drops the entry for key, forcing the next Get to miss.
func (c *NodeCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
