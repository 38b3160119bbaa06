// Document chain: a blob split across doubly-linked data pages, read
// whole or one chunk at a time for start_stream/next_stream_chunk
// (spec.md §4.3, §6).
package engine

import "bytes"

// writeChain splits data into chunks no larger than one page's
// payload capacity and threads them into a doubly-linked chain of
// FlagData pages, allocating one page per chunk (spec.md §4.3). A
// zero-length document still gets one (empty) page, so head is always
// a valid page id.
//
// If any allocation or write fails partway through, every page
// allocated for this call is returned to the free list before the
// error is reported, so a failed write never leaks pages.
func writeChain(pgr pageIO, alloc *allocator, freeRoot VersionedLink, data []byte) (pageID, VersionedLink, error) {
	return writeBlobChain(pgr, alloc, freeRoot, data, FlagData)
}

// writeBlobChain is writeChain generalized over the page flag, so the
// document index and reverse path trie (spec.md §4.4, §4.5) can reuse
// the same chunk-and-thread logic with FlagIndex/FlagTrie pages.
func writeBlobChain(pgr pageIO, alloc *allocator, freeRoot VersionedLink, data []byte, flag uint8) (pageID, VersionedLink, error) {
	chunkSize := pgr.payloadCap()
	nChunks := (len(data) + chunkSize - 1) / chunkSize
	if nChunks == 0 {
		nChunks = 1
	}

	root := freeRoot
	ids := make([]pageID, 0, nChunks)

	rollback := func(err error) (pageID, VersionedLink, error) {
		for _, id := range ids {
			root, _ = alloc.release(root, id)
		}
		return noPage, root, err
	}

	for i := 0; i < nChunks; i++ {
		id, newRoot, err := alloc.allocate(root)
		if err != nil {
			return rollback(err)
		}
		root = newRoot
		ids = append(ids, id)
	}

	for i, id := range ids {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		prev, next := noPage, noPage
		if i > 0 {
			prev = ids[i-1]
		}
		if i < len(ids)-1 {
			next = ids[i+1]
		}
		if err := pgr.writePage(id, data[start:end], 1, flag, prev, next); err != nil {
			return rollback(err)
		}
	}

	return ids[0], root, nil
}

// readChain walks the chain from head to end, concatenating every
// page's payload (spec.md §4.3, §6 "get").
func readChain(pgr pageIO, head pageID) ([]byte, error) {
	var buf bytes.Buffer
	id := head
	for id != noPage {
		payload, hdr, err := pgr.readPage(id)
		if err != nil {
			return nil, err
		}
		buf.Write(payload)
		id = hdr.Next
	}
	return buf.Bytes(), nil
}

// freeChain walks the chain from head to end, releasing every page
// back to the free list (spec.md §4.3: superseded/deleted documents).
func freeChain(pgr pageIO, alloc *allocator, root VersionedLink, head pageID) (VersionedLink, error) {
	id := head
	for id != noPage {
		_, hdr, err := pgr.readPage(id)
		if err != nil {
			return root, err
		}
		next := hdr.Next
		newRoot, err := alloc.release(root, id)
		if err != nil {
			return root, err
		}
		root = newRoot
		id = next
	}
	return root, nil
}

// streamChunk reads one chunk for the streaming façade ops
// (start_stream/next_stream_chunk, spec.md §6): the stream id handed
// to callers is literally the page id to read next, so the engine
// needs no server-side cursor state beyond the handle itself. It
// returns the chunk's payload and the next stream id (−1 at the
// chain's end).
func streamChunk(pgr pageIO, id pageID) (payload []byte, nextID pageID, err error) {
	payload, hdr, err := pgr.readPage(id)
	if err != nil {
		return nil, noPage, err
	}
	return payload, hdr.Next, nil
}
