package engine

import "github.com/google/uuid"

// IDGenerator is the host-supplied UUID source (spec.md §1: "UUID
// generation" is named as an external collaborator, not a core
// concern). The engine calls NewID at most once per write_document,
// and only when the path does not already name a document.
type IDGenerator interface {
	NewID() [16]byte
}

// UUIDGenerator is the default IDGenerator, producing version-4 UUIDs
// via google/uuid — the same package SimonWaldherr-tinySQL depends on
// for generated row/session identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() [16]byte {
	id := uuid.New()
	var out [16]byte
	copy(out[:], id[:])
	return out
}
