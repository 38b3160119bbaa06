// Free list and page allocator (spec.md §3 "Free list", §4.2).
package engine

import "encoding/binary"

func freeListCapacity(cfg Config) int {
	return (cfg.payloadCap() - FreeListHeaderSize) / 8
}

// encodeFreeListPage lays out next(8) + used-count(4) + up to cap ids.
func encodeFreeListPage(next pageID, ids []pageID) []byte {
	buf := make([]byte, FreeListHeaderSize+8*len(ids))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(next))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[FreeListHeaderSize+8*i:], uint64(id))
	}
	return buf
}

func decodeFreeListPage(buf []byte) (next pageID, ids []pageID) {
	next = int64(binary.LittleEndian.Uint64(buf[0:8]))
	count := binary.LittleEndian.Uint32(buf[8:12])
	ids = make([]pageID, count)
	for i := range ids {
		ids[i] = int64(binary.LittleEndian.Uint64(buf[FreeListHeaderSize+8*i:]))
	}
	return next, ids
}

// freeList implements push (free) / pop (allocate-from-pool) over the
// persistent singly-linked chain of free-list pages described in
// spec.md §3. It never shrinks the file; pop either hands back an
// entry recorded in the head page, or — once the head page's entries
// are exhausted — hands back the (now unused) head page itself and
// advances the chain, so no free-list infrastructure page ever leaks.
type freeList struct {
	pager pageIO
	cfg   Config
}

// pop removes one page id from the pool, or reports ErrNotFound if
// the pool is empty.
func (fl *freeList) pop(root VersionedLink) (pageID, VersionedLink, error) {
	if root.PageID == noPage {
		return noPage, root, ErrNotFound
	}
	payload, hdr, err := fl.pager.readPage(root.PageID)
	if err != nil {
		return noPage, root, err
	}
	next, ids := decodeFreeListPage(payload)

	if len(ids) > 0 {
		id := ids[len(ids)-1]
		newPayload := encodeFreeListPage(next, ids[:len(ids)-1])
		if err := fl.pager.writePage(root.PageID, newPayload, hdr.Version+1, FlagFreeList, noPage, noPage); err != nil {
			return noPage, root, err
		}
		return id, VersionedLink{PageID: root.PageID, Version: root.Version + 1}, nil
	}

	// Head page is drained: it is itself unused space now. Hand it
	// back as the allocation and advance the chain head.
	return root.PageID, VersionedLink{PageID: next, Version: root.Version + 1}, nil
}

// push returns id to the pool, prepending it to the chain.
func (fl *freeList) push(root VersionedLink, id pageID) (VersionedLink, error) {
	limit := freeListCapacity(fl.cfg)

	if root.PageID != noPage {
		payload, hdr, err := fl.pager.readPage(root.PageID)
		if err != nil {
			return root, err
		}
		next, ids := decodeFreeListPage(payload)
		if len(ids) < limit {
			ids = append(ids, id)
			newPayload := encodeFreeListPage(next, ids)
			if err := fl.pager.writePage(root.PageID, newPayload, hdr.Version+1, FlagFreeList, noPage, noPage); err != nil {
				return root, err
			}
			return VersionedLink{PageID: root.PageID, Version: root.Version + 1}, nil
		}
	}

	// Either the list was empty, or the head node is full: id becomes
	// a brand-new (empty) head node linking to the old head.
	newPayload := encodeFreeListPage(root.PageID, nil)
	if err := fl.pager.writePage(id, newPayload, 0, FlagFreeList, noPage, noPage); err != nil {
		return root, err
	}
	return VersionedLink{PageID: id, Version: 0}, nil
}

// allocator hands out page ids, preferring the free list and falling
// back to growing the file (spec.md §4.2).
type allocator struct {
	pager pageStore
	cfg   Config
	free  freeList

	// emptyStreak counts consecutive allocations that missed the free
	// list. It points at engine-owned state when the allocator backs a
	// live Engine, so the streak survives across the per-operation
	// allocators newMutation builds; standalone callers (tests) get
	// their own private counter.
	emptyStreak *int
}

// newAllocator takes the growth surface and the free-list I/O surface
// separately: growth (file truncate) is never deferred, but free-list
// page reads/writes should go through a transaction's buffered view
// when one is active, so rollback can discard a pop/push without
// touching disk (spec.md §4.6).
func newAllocator(growth pageStore, freeIO pageIO, cfg Config) *allocator {
	return newAllocatorWithStreak(growth, freeIO, cfg, new(int))
}

// newAllocatorWithStreak is newAllocator but shares streak with the
// caller instead of starting a fresh counter, so the empty-free-list
// streak that drives MaxConsecutiveEmptyFreeList/BatchGrowPages
// persists across every mutation a single Engine performs, matching
// the source's per-engine growth heuristic rather than resetting it
// on every call.
func newAllocatorWithStreak(growth pageStore, freeIO pageIO, cfg Config, streak *int) *allocator {
	return &allocator{pager: growth, cfg: cfg, free: freeList{pager: freeIO, cfg: cfg}, emptyStreak: streak}
}

func (a *allocator) allocate(root VersionedLink) (pageID, VersionedLink, error) {
	id, newRoot, err := a.free.pop(root)
	if err == nil {
		*a.emptyStreak = 0
		return id, newRoot, nil
	}
	if err != ErrNotFound {
		return noPage, root, err
	}

	*a.emptyStreak++
	if *a.emptyStreak >= MaxConsecutiveEmptyFreeList {
		first, growErr := a.pager.grow(BatchGrowPages)
		if growErr != nil {
			return noPage, root, growErr
		}
		*a.emptyStreak = 0
		return first, root, nil
	}

	id, growErr := a.pager.grow(1)
	if growErr != nil {
		return noPage, root, growErr
	}
	return id, root, nil
}

func (a *allocator) release(root VersionedLink, id pageID) (VersionedLink, error) {
	return a.free.push(root, id)
}

// freeListDepth counts the pages reachable from root: every entry
// recorded in a free-list page, plus the free-list pages themselves.
// Used only to feed the free_list_depth gauge after a commit, so a
// corrupt chain is reported as zero rather than failing the commit.
func freeListDepth(pgr pageIO, root VersionedLink) int {
	count := 0
	id := root.PageID
	for id != noPage {
		payload, _, err := pgr.readPage(id)
		if err != nil {
			break
		}
		next, ids := decodeFreeListPage(payload)
		count += len(ids) + 1
		id = next
	}
	return count
}
