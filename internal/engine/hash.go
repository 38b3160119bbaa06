package engine

import (
	"hash/crc32"

	"golang.org/x/crypto/md4"
)

// Hasher32 is the host-supplied integrity primitive used for
// per-page CRCs (spec.md §1/§3: "CRC-32/ISO-HDLC"). crc32.ChecksumIEEE
// computes exactly that polynomial, so the default below is the named
// primitive itself, not a stand-in for it.
type Hasher32 interface {
	Sum32(data []byte) uint32
}

// CRC32IEEE is the default Hasher32: CRC-32 with the IEEE/ISO-HDLC
// polynomial, matching spec.md's required per-page integrity check.
type CRC32IEEE struct{}

func (CRC32IEEE) Sum32(data []byte) uint32 { return crc32.ChecksumIEEE(data) }

// Checksummer is the host-supplied whole-database integrity primitive
// backing get_checksum (spec.md §6: "MD4 of superblock"). The engine
// only ever hands it the 44-byte superblock image.
type Checksummer interface {
	Sum(superblock []byte) [16]byte
}

// MD4Checksummer computes MD4 over the raw superblock bytes. MD4 has
// no standard-library implementation; golang.org/x/crypto/md4 is the
// same extended-standard-library package SimonWaldherr-tinySQL pulls
// in (indirectly, via its migrate/formigo tools) for this exact
// algorithm.
type MD4Checksummer struct{}

func (MD4Checksummer) Sum(superblock []byte) [16]byte {
	h := md4.New()
	_, _ = h.Write(superblock)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
