package engine

import (
	"container/list"
	"sync"
)

// pathCache is a bounded LRU mapping a path string to the document id
// the trie resolved it to (spec.md §6 "PATH_CACHE_SIZE"), so a hot
// path's get does not have to re-walk the trie on every call
// (search_paths always walks the trie). It is invalidated on
// delete_by_path and refreshed on a successful get lookup and on
// every write_document or bind_addon_path; a write_document that supersedes
// an existing path leaves the cache entry valid, since the document
// id does not change on supersede.
type pathCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type pathCacheEntry struct {
	path string
	id   [16]byte
}

func newPathCache(capacity int) *pathCache {
	return &pathCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *pathCache) get(path string) ([16]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*pathCacheEntry).id, true
	}
	return [16]byte{}, false
}

func (c *pathCache) put(path string, id [16]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		el.Value.(*pathCacheEntry).id = id
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&pathCacheEntry{path: path, id: id})
	c.items[path] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*pathCacheEntry).path)
	}
}

func (c *pathCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		c.order.Remove(el)
		delete(c.items, path)
	}
}
