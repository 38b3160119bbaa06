package engine

import (
	"container/list"
	"sync"
)

// CacheStats mirrors the {hits, misses} pair spec.md §6 requires
// get_cache_stats to return.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// pageCache is a bounded LRU of decoded page payloads keyed by page
// id (spec.md §4.1: "bounded LRU of PAGE_CACHE_SIZE entries"). No
// repo in the retrieval pack ships a dedicated LRU library for its
// teacher lineage, so this is a small doubly-linked-list-plus-map
// implementation in the same spirit as the teacher's own map-based
// bookkeeping (pkg/storage/kv.go's page.updates map) — see
// DESIGN.md "page cache".
type pageCache struct {
	mu       sync.Mutex
	capacity int
	items    map[pageID]*list.Element
	order    *list.List // front = most recently used
	hits     uint64
	misses   uint64
}

type cacheEntry struct {
	id      pageID
	payload []byte
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{
		capacity: capacity,
		items:    make(map[pageID]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *pageCache) get(id pageID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*cacheEntry).payload, true
	}
	c.misses++
	return nil, false
}

func (c *pageCache) put(id pageID, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		el.Value.(*cacheEntry).payload = payload
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{id: id, payload: payload})
	c.items[id] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).id)
	}
}

func (c *pageCache) invalidate(id pageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}

func (c *pageCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses}
}

func (c *pageCache) resetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses = 0, 0
}
