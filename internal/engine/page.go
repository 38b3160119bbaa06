// Page header layout and flag constants for the fixed-size paged
// file format described in spec.md §3.
package engine

import "encoding/binary"

// Flag bits (spec.md §3): exactly one is set per live page.
const (
	FlagData     uint8 = 0x01
	FlagTrie     uint8 = 0x02
	FlagFreeList uint8 = 0x04
	FlagIndex    uint8 = 0x08
)

// Magic is the 8-byte superblock signature (spec.md §3).
var Magic = [8]byte{0x55, 0xAA, 0xFE, 0xED, 0xFA, 0xCE, 0xDA, 0x7A}

// pageID is a signed page identifier; -1 is the "absent" sentinel
// used throughout spec.md (roots, prev/next, free-list next).
type pageID = int64

const noPage pageID = -1

// firstAllocatablePage is the lowest page id the allocator or recovery
// ever hands out or treats as live; page 0 is reserved for the
// superblock (spec.md §3) and is never data/trie/index/free-list.
const firstAllocatablePage pageID = 1

// header is the 32-byte page header (spec.md §3):
// CRC(4) version(4) prev(8) next(8) flags(1) length(4) reserved(3).
type header struct {
	CRC     uint32
	Version uint32
	Prev    pageID
	Next    pageID
	Flags   uint8
	Length  uint32
}

func (h header) encode() []byte {
	buf := make([]byte, PageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.CRC)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Prev))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.Next))
	buf[24] = h.Flags
	binary.LittleEndian.PutUint32(buf[25:29], h.Length)
	// buf[29:32] reserved, left zero
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		CRC:     binary.LittleEndian.Uint32(buf[0:4]),
		Version: binary.LittleEndian.Uint32(buf[4:8]),
		Prev:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		Next:    int64(binary.LittleEndian.Uint64(buf[16:24])),
		Flags:   buf[24],
		Length:  binary.LittleEndian.Uint32(buf[25:29]),
	}
}

// VersionedLink anchors one persistent root (spec.md §3 "Versioned
// link"): a page id plus a monotonic version counter so recovery can
// prefer the newest valid copy when duplicates appear.
type VersionedLink struct {
	PageID  pageID
	Version uint32
}

// superblock is the 44-byte file prefix: magic + three versioned
// roots (spec.md §3; see DESIGN.md "superblock sizing" for why 44
// rather than the 32 spec.md's prose names).
type superblock struct {
	IndexRoot    VersionedLink
	TrieRoot     VersionedLink
	FreeListRoot VersionedLink
}

func (s superblock) encode() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:8], Magic[:])
	putLink(buf[8:20], s.IndexRoot)
	putLink(buf[20:32], s.TrieRoot)
	putLink(buf[32:44], s.FreeListRoot)
	return buf
}

func decodeSuperblock(buf []byte) (superblock, bool) {
	var s superblock
	if len(buf) < superblockSize || [8]byte(buf[0:8]) != Magic {
		return s, false
	}
	s.IndexRoot = getLink(buf[8:20])
	s.TrieRoot = getLink(buf[20:32])
	s.FreeListRoot = getLink(buf[32:44])
	return s, true
}

func putLink(buf []byte, l VersionedLink) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(l.PageID))
	binary.LittleEndian.PutUint32(buf[8:12], l.Version)
}

func getLink(buf []byte) VersionedLink {
	return VersionedLink{
		PageID:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		Version: binary.LittleEndian.Uint32(buf[8:12]),
	}
}
