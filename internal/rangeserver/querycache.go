package rangeserver

import (
	"container/list"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// errScanNotCacheable signals that a point query's result didn't fit in
// one block (MaxResults cut it short), so Do must not install it and the
// caller should register a normal scanner instead.
var errScanNotCacheable = errors.New("rangeserver: scan result too large to cache")

// queryCacheEntry is one cached scan result, keyed by its full spec so an
// identical repeated scan (the common case for a hot dashboard query)
// never touches the access groups twice.
type queryCacheEntry struct {
	key   string
	value []ScanBlock
	bytes int64
	elem  *list.Element
}

// queryCache caches recent create_scanner/fetch_scanblock results keyed
// by a caller-supplied cache key (range id first, then table and spec fingerprint),
// bounded by approximate byte size with LRU eviction, and deduplicates
// concurrent identical lookups with singleflight so a thundering herd of
// readers against the same hot range only runs the scan once.
type queryCache struct {
	group singleflight.Group

	mu       sync.Mutex
	byKey    map[string]*queryCacheEntry
	lru      *list.List // front = most recently used
	used     int64
	maxBytes int64

	hits, misses int64
}

func newQueryCache(maxBytes int64) *queryCache {
	return &queryCache{
		byKey:    make(map[string]*queryCacheEntry),
		lru:      list.New(),
		maxBytes: maxBytes,
	}
}

// Get returns a cached result for key, if present, promoting it to
// most-recently-used.
func (c *queryCache) Get(key string) ([]ScanBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Fill installs blocks under key, evicting least-recently-used entries
// until the cache is back within its byte budget.
func (c *queryCache) Fill(key string, blocks []ScanBlock, approxBytes int64) {
	if c.maxBytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byKey[key]; ok {
		c.lru.Remove(old.elem)
		c.used -= old.bytes
		delete(c.byKey, key)
	}

	e := &queryCacheEntry{key: key, value: blocks, bytes: approxBytes}
	e.elem = c.lru.PushFront(e)
	c.byKey[key] = e
	c.used += approxBytes

	for c.used > c.maxBytes {
		back := c.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*queryCacheEntry)
		c.lru.Remove(back)
		delete(c.byKey, victim.key)
		c.used -= victim.bytes
	}
}

// Invalidate drops key, called whenever an update lands against the range
// the cached result came from so a stale scan is never served.
func (c *queryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[key]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.byKey, key)
	c.used -= e.bytes
}

// InvalidateRange drops every cached entry whose key is prefixed by
// rangeID, used by DropRange and by a completed split.
func (c *queryCache) InvalidateRange(rangeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.byKey {
		if len(key) >= len(rangeID) && key[:len(rangeID)] == rangeID {
			c.lru.Remove(e.elem)
			delete(c.byKey, key)
			c.used -= e.bytes
		}
	}
}

// Do deduplicates concurrent fills for the same key via singleflight,
// falling back to fn only when no other caller is already computing it.
func (c *queryCache) Do(key string, fn func() ([]ScanBlock, int64, error)) ([]ScanBlock, error) {
	if blocks, ok := c.Get(key); ok {
		return blocks, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if blocks, ok := c.Get(key); ok {
			return blocks, nil
		}
		blocks, approxBytes, err := fn()
		if err != nil {
			return nil, err
		}
		c.Fill(key, blocks, approxBytes)
		return blocks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ScanBlock), nil
}

// Stats reports cache occupancy for get_statistics.
func (c *queryCache) Stats() (entries int, usedBytes, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey), c.used, c.hits, c.misses
}
