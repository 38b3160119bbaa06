// Document index: the {uuid, head page, version, alias paths} table
// persisted as a single length-prefixed blob inside an index-flagged
// page chain (spec.md §4.4).
package engine

import (
	"encoding/binary"
	"fmt"
)

// DocRecord is one document index entry (spec.md §4.4). Paths holds
// every path alias currently bound to this document (spec.md
// bind_addon_path adds to this list without touching Head/Version).
type DocRecord struct {
	ID      [16]byte
	Head    pageID
	Version uint32
	Paths   []string
}

func encodeIndex(records []DocRecord) []byte {
	size := 4
	for _, r := range records {
		size += 16 + 8 + 4 + 4
		for _, p := range r.Paths {
			size += 4 + len(p)
		}
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(records)))
	off += 4
	for _, r := range records {
		copy(buf[off:off+16], r.ID[:])
		off += 16
		binary.LittleEndian.PutUint64(buf[off:], uint64(r.Head))
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], r.Version)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Paths)))
		off += 4
		for _, p := range r.Paths {
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(p)))
			off += 4
			copy(buf[off:off+len(p)], p)
			off += len(p)
		}
	}
	return buf
}

func decodeIndex(buf []byte) ([]DocRecord, error) {
	if len(buf) < 4 {
		if len(buf) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: truncated index blob", ErrInvalidData)
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	records := make([]DocRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+16+8+4+4 > len(buf) {
			return nil, fmt.Errorf("%w: truncated index record", ErrInvalidData)
		}
		var r DocRecord
		copy(r.ID[:], buf[off:off+16])
		off += 16
		r.Head = int64(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		r.Version = binary.LittleEndian.Uint32(buf[off:])
		off += 4
		pathCount := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		r.Paths = make([]string, pathCount)
		for j := uint32(0); j < pathCount; j++ {
			if off+4 > len(buf) {
				return nil, fmt.Errorf("%w: truncated index path", ErrInvalidData)
			}
			l := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			if off+int(l) > len(buf) {
				return nil, fmt.Errorf("%w: truncated index path bytes", ErrInvalidData)
			}
			r.Paths[j] = string(buf[off : off+int(l)])
			off += int(l)
		}
		records = append(records, r)
	}
	return records, nil
}

// loadIndex reads every record out of the index chain rooted at root.
func loadIndex(pgr pageIO, root VersionedLink) ([]DocRecord, error) {
	if root.PageID == noPage {
		return nil, nil
	}
	blob, err := readChain(pgr, root.PageID)
	if err != nil {
		return nil, err
	}
	return decodeIndex(blob)
}

// saveIndex copy-on-writes a brand-new chain holding records, then
// frees the old chain, so a crash mid-write leaves the old, still
// valid chain reachable from the on-disk superblock (spec.md §4.4,
// §5 "Recovery"). It returns the new index root and the free-list
// root as left after the allocations (for the new chain) and releases
// (of the old chain) that writing it performed.
func saveIndex(pgr pageIO, alloc *allocator, indexRoot, freeRoot VersionedLink, records []DocRecord) (VersionedLink, VersionedLink, error) {
	blob := encodeIndex(records)
	headID, freeRoot, err := writeBlobChain(pgr, alloc, freeRoot, blob, FlagIndex)
	if err != nil {
		return indexRoot, freeRoot, err
	}
	newIndexRoot := VersionedLink{PageID: headID, Version: indexRoot.Version + 1}

	if indexRoot.PageID != noPage {
		freeRoot, err = freeChain(pgr, alloc, freeRoot, indexRoot.PageID)
		if err != nil {
			return newIndexRoot, freeRoot, err
		}
	}
	return newIndexRoot, freeRoot, nil
}

func findByID(records []DocRecord, id [16]byte) (DocRecord, int) {
	for i, r := range records {
		if r.ID == id {
			return r, i
		}
	}
	return DocRecord{}, -1
}

func findByPath(records []DocRecord, path string) (DocRecord, bool) {
	for _, r := range records {
		for _, p := range r.Paths {
			if p == path {
				return r, true
			}
		}
	}
	return DocRecord{}, false
}
