// Recovery: superblock trust-or-reset, full-page scan, and free-list
// rebuild on open (spec.md §4.7).
package engine

import "github.com/nainya/docstore/internal/logger"

// recover reads the superblock (trusting it if the magic matches),
// scans every page to find what is genuinely reachable, rebuilds the
// trie root by scan if its traversal fails (a failed index traversal
// leaves the index empty instead; see reconcileIndex), and always
// rebuilds the free list from whatever is left over. It
// returns the roots to install in the (possibly freshly written)
// superblock.
func recover(pgr *pager, cfg Config, log *logger.Logger) (superblock, error) {
	sb, trusted := readSuperblock(pgr)
	if !trusted {
		log.Warn("superblock missing or corrupt, starting fresh").Send()
		sb = superblock{IndexRoot: VersionedLink{PageID: noPage}, TrieRoot: VersionedLink{PageID: noPage}, FreeListRoot: VersionedLink{PageID: noPage}}
	}

	total := pgr.pageCount()
	live := make(map[pageID]header, total)
	for id := firstAllocatablePage; id < total; id++ {
		h, err := pgr.readHeader(id)
		if err != nil {
			continue
		}
		if h.Flags != FlagData && h.Flags != FlagTrie && h.Flags != FlagIndex {
			continue
		}
		if _, _, err := pgr.readPage(id); err != nil {
			continue
		}
		live[id] = h
	}

	indexPages, indexRoot, err := reconcileIndex(pgr, sb.IndexRoot, live, log)
	if err != nil {
		return sb, err
	}
	triePages, trieRoot, err := reconcileTrie(pgr, sb.TrieRoot, live, log)
	if err != nil {
		return sb, err
	}

	dataPages, err := reconcileData(pgr, indexRoot, live)
	if err != nil {
		return sb, err
	}

	referenced := make(map[pageID]bool, len(indexPages)+len(triePages)+len(dataPages))
	for _, id := range indexPages {
		referenced[id] = true
	}
	for _, id := range triePages {
		referenced[id] = true
	}
	for _, id := range dataPages {
		referenced[id] = true
	}

	var orphans []pageID
	for id := firstAllocatablePage; id < total; id++ {
		if !referenced[id] {
			orphans = append(orphans, id)
		}
	}

	fl := freeList{pager: pgr, cfg: cfg}
	freeRoot := VersionedLink{PageID: noPage}
	for _, id := range orphans {
		newRoot, err := fl.push(freeRoot, id)
		if err != nil {
			return sb, err
		}
		freeRoot = newRoot
	}

	rebuilt := superblock{IndexRoot: indexRoot, TrieRoot: trieRoot, FreeListRoot: freeRoot}
	if err := writeSuperblock(pgr, rebuilt); err != nil {
		return sb, err
	}
	return rebuilt, nil
}

func readSuperblock(pgr *pager) (superblock, bool) {
	if pgr.fileSize() < superblockSize {
		return superblock{}, false
	}
	buf, err := pgr.readAt(0, superblockSize)
	if err != nil {
		return superblock{}, false
	}
	return decodeSuperblock(buf)
}

func writeSuperblock(pgr *pager, sb superblock) error {
	if err := pgr.writeAt(0, sb.encode()); err != nil {
		return err
	}
	return pgr.flush()
}

// reconcileIndex walks the index chain from root. If the walk fails
// partway (bad CRC, pointer into a page that is not index-flagged),
// the index is treated as empty rather than attempted to be merged
// back together: the on-disk layout gives no way to tell which
// fragment belonged to which document once the chain is broken.
func reconcileIndex(pgr *pager, root VersionedLink, live map[pageID]header, log *logger.Logger) ([]pageID, VersionedLink, error) {
	if root.PageID == noPage {
		return nil, root, nil
	}
	ids, ok := walkChain(pgr, root.PageID, live, FlagIndex)
	if !ok {
		log.Warn("index root traversal failed, resetting index").Int64("root", root.PageID).Send()
		return nil, VersionedLink{PageID: noPage}, nil
	}
	return ids, root, nil
}

// reconcileTrie walks every node reachable from root. If that fails,
// it falls back to spec.md §4.7's scan: collect every live trie page
// and re-root on the node whose parent page id is −1.
func reconcileTrie(pgr *pager, root VersionedLink, live map[pageID]header, log *logger.Logger) ([]pageID, VersionedLink, error) {
	if root.PageID != noPage {
		if ids, ok := walkTrie(pgr, root.PageID, live); ok {
			return ids, root, nil
		}
		log.Warn("trie root traversal failed, rescanning for a new root").Int64("root", root.PageID).Send()
	}

	var candidates []pageID
	for id, h := range live {
		if h.Flags == FlagTrie {
			candidates = append(candidates, id)
		}
	}
	for _, id := range candidates {
		payload, _, err := pgr.readPage(id)
		if err != nil {
			continue
		}
		n, err := decodeTrieNode(id, payload)
		if err != nil {
			continue
		}
		if n.Parent == noPage {
			if ids, ok := walkTrie(pgr, id, live); ok {
				return ids, VersionedLink{PageID: id, Version: root.Version + 1}, nil
			}
		}
	}
	return nil, VersionedLink{PageID: noPage}, nil
}

// reconcileData loads the (possibly just-reconciled) index and walks
// every document's chain, collecting the data pages that are
// genuinely referenced. Orphan data pages — including ones with
// prev = −1 that no document points to (spec.md §4.7) — are simply
// absent from this set and fall into the free-list rebuild.
func reconcileData(pgr *pager, indexRoot VersionedLink, live map[pageID]header) ([]pageID, error) {
	records, err := loadIndex(pgr, indexRoot)
	if err != nil {
		return nil, nil
	}
	var ids []pageID
	seen := make(map[pageID]bool)
	for _, r := range records {
		id := r.Head
		for id != noPage {
			// Follow headers rather than the live set: a referenced data
			// page whose CRC fails stays referenced, so get reports the
			// mismatch instead of the page being reused by the free list.
			h, err := pgr.readHeader(id)
			if err != nil || h.Flags != FlagData || seen[id] {
				break
			}
			seen[id] = true
			ids = append(ids, id)
			id = h.Next
		}
	}
	return ids, nil
}

// walkChain follows a data/index-style prev/next chain, returning the
// visited page ids, or ok=false if any page is missing, not live, or
// flagged wrong.
func walkChain(pgr *pager, head pageID, live map[pageID]header, flag uint8) ([]pageID, bool) {
	var ids []pageID
	id := head
	for id != noPage {
		h, ok := live[id]
		if !ok || h.Flags != flag {
			return nil, false
		}
		ids = append(ids, id)
		id = h.Next
	}
	return ids, true
}

// walkTrie visits every node in the subtree rooted at root using an
// explicit stack (spec.md §9), returning every visited page id, or
// ok=false if any referenced child is missing or mis-flagged.
func walkTrie(pgr *pager, root pageID, live map[pageID]header) ([]pageID, bool) {
	var ids []pageID
	stack := []pageID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		h, ok := live[id]
		if !ok || h.Flags != FlagTrie {
			return nil, false
		}
		payload, _, err := pgr.readPage(id)
		if err != nil {
			return nil, false
		}
		n, err := decodeTrieNode(id, payload)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
		for _, k := range n.Kids {
			stack = append(stack, k.Page)
		}
	}
	return ids, true
}
