// Package cache provides a sharded key/value cache with a fixed TTL,
// shared by the correlation pair cache and the return series cache.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedTTLCache maps string keys to values of type V; entries older than
// the cache's TTL are treated as absent. A zero TTL disables expiry.
type ShardedTTLCache[V any] struct {
	ttl    time.Duration
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// New creates a sharded cache whose entries expire after ttl.
func New[V any](ttl time.Duration) *ShardedTTLCache[V] {
	c := &ShardedTTLCache[V]{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{
			items: make(map[string]entry[V]),
		}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *ShardedTTLCache[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value under key, resetting its age.
func (c *ShardedTTLCache[V]) Set(key string, value V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{
		value:     value,
		updatedAt: time.Now(),
	}
	s.mu.Unlock()
}

// Get retrieves a non-expired value for key.
func (c *ShardedTTLCache[V]) Get(key string) (V, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetWithAge retrieves a non-expired value and its age.
func (c *ShardedTTLCache[V]) GetWithAge(key string) (V, time.Duration, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || c.expired(e) {
		var zero V
		return zero, 0, false
	}
	return e.value, time.Since(e.updatedAt), true
}

// Delete removes a key from the cache.
func (c *ShardedTTLCache[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns the total items across all shards, expired entries included.
func (c *ShardedTTLCache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup evicts expired entries and returns the number removed. Call it
// periodically; Get already ignores stale entries, this just frees memory.
func (c *ShardedTTLCache[V]) Cleanup() int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-c.ttl)

	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *ShardedTTLCache[V]) expired(e entry[V]) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Since(e.updatedAt) > c.ttl
}
