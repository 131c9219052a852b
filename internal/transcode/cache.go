// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcode

import (
	"container/list"
	"sync"
	"time"
)

// CacheEntry mirrors a live transcode for segment-serving lookups without a
// DB round-trip per request.
type CacheEntry struct {
	JobID            string
	PID              int
	SegmentPrefix    string
	SegmentExtension string
	SegmentLengthS   int
	StartTimeMs      int64
	LastAccess       time.Time
}

// processCache is an LRU of output path → live job details.
type processCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List // front = most recent
}

type cacheItem struct {
	path  string
	entry CacheEntry
}

func newProcessCache(max int) *processCache {
	if max <= 0 {
		max = 64
	}
	return &processCache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *processCache) Put(path string, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.LastAccess = time.Now()
	if el, ok := c.entries[path]; ok {
		el.Value.(*cacheItem).entry = e
		c.order.MoveToFront(el)
		return
	}
	c.entries[path] = c.order.PushFront(&cacheItem{path: path, entry: e})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheItem).path)
	}
}

// Get returns the entry and refreshes its recency.
func (c *processCache) Get(path string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[path]
	if !ok {
		return CacheEntry{}, false
	}
	item := el.Value.(*cacheItem)
	item.entry.LastAccess = time.Now()
	c.order.MoveToFront(el)
	return item.entry, true
}

func (c *processCache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[path]; ok {
		c.order.Remove(el)
		delete(c.entries, path)
	}
}

// EvictIdle drops entries unused for longer than idle.
func (c *processCache) EvictIdle(idle time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	for el := c.order.Back(); el != nil; {
		item := el.Value.(*cacheItem)
		if item.entry.LastAccess.After(cutoff) {
			break // order is recency-sorted
		}
		prev := el.Prev()
		c.order.Remove(el)
		delete(c.entries, item.path)
		el = prev
	}
}

func (c *processCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
