// Package cache provides a bounded LRU cache whose misses are loaded through
// a single in-flight fetch per key.
package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Key is the constraint for cache keys. The string form identifies the key
// for de-duplicating concurrent fetches and must be unique per key.
type Key interface {
	comparable
	fmt.Stringer
}

// Cache is a concurrency safe LRU cache. Concurrent misses for the same key
// cause exactly one call to the fetch function. Every write to the cache
// bumps a generation counter so a fetch that started before an invalidation
// never stores its stale result.
type Cache[K Key, V any] struct {
	lru   *lru.Cache[K, V]
	group singleflight.Group

	mu  sync.Mutex
	gen uint64
}

// New constructs a cache that holds up to size entries.
func New[K Key, V any](size int) (*Cache[K, V], error) {
	l, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}

	c := Cache[K, V]{
		lru: l,
	}

	return &c, nil
}

// Get returns the cached value for the key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// GetOrFetch returns the cached value for the key or loads it with the fetch
// function. Errors from fetch are returned as is and nothing is cached.
func (c *Cache[K, V]) GetOrFetch(key K, fetch func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	f := func() (any, error) {

		// A flight for this key may have just finished and populated
		// the cache.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}

		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		v, err := fetch()
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.gen == gen {
			c.lru.Add(key, v)
		}

		return v, nil
	}

	res, err, _ := c.group.Do(key.String(), f)
	v, _ := res.(V)

	return v, err
}

// Add stores the value for the key.
func (c *Cache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.lru.Add(key, value)
	c.group.Forget(key.String())
}

// Update atomically replaces the value for the key with the result of fn.
// The function receives the current value and whether it was cached. The
// result is stored only if fn returns true.
func (c *Cache[K, V]) Update(key K, fn func(current V, cached bool) (V, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, cached := c.lru.Peek(key)

	v, store := fn(current, cached)
	if !store {
		return
	}

	c.gen++
	c.lru.Add(key, v)
	c.group.Forget(key.String())
}

// Invalidate removes the key from the cache.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.lru.Remove(key)
	c.group.Forget(key.String())
}

// InvalidateFunc removes every cached key for which match returns true.
func (c *Cache[K, V]) InvalidateFunc(match func(key K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	for _, key := range c.lru.Keys() {
		if match(key) {
			c.lru.Remove(key)
			c.group.Forget(key.String())
		}
	}
}

// Purge removes every entry from the cache.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
