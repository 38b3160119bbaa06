// Package docstore is the foreign façade (spec.md §2 "Foreign
// Façade"): it marshals plain Go strings and byte slices across the
// embedding boundary and exposes docstore's stable operation surface,
// wrapping internal/engine.Engine for every actual mechanism.
package docstore

import (
	"encoding/hex"

	"github.com/nainya/docstore/internal/engine"
)

// Config is the open-time configuration record (spec.md §6
// "Limits"); it is engine.Config verbatim so callers never import
// internal/engine directly.
type Config = engine.Config

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config { return engine.DefaultConfig() }

// CacheStats is the {hits, misses} pair get_cache_stats returns.
type CacheStats = engine.CacheStats

// DB is one open database file.
type DB struct {
	eng *engine.Engine
}

// Open opens (creating if absent) the database at path, running
// crash recovery before any operation is accepted.
func Open(path string, cfg Config) (*DB, error) {
	eng, err := engine.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng}, nil
}

// Close releases the database file.
func (db *DB) Close() error { return db.eng.Close() }

// WriteDocument stores data at path, returning the document's id as
// a canonical UUID string (spec.md §6 "write_document"). Writing to a
// path that already resolves to a document supersedes its bytes and
// bumps its version, keeping the same id and its other alias paths.
func (db *DB) WriteDocument(path string, data []byte) (string, error) {
	id, err := db.eng.WriteDocument(path, data)
	if err != nil {
		return "", err
	}
	return formatUUID(id), nil
}

// Get reassembles and returns the bytes stored at path.
func (db *DB) Get(path string) ([]byte, error) {
	return db.eng.Get(path)
}

// SearchPaths returns every currently live path that starts with
// prefix (spec.md §8 "Prefix closure"). An empty prefix matches every
// path.
func (db *DB) SearchPaths(prefix string) ([]string, error) {
	return db.eng.SearchPaths(prefix)
}

// DeleteByPath unbinds path from its document, freeing the document
// entirely if path was its only alias.
func (db *DB) DeleteByPath(path string) error {
	return db.eng.DeleteByPath(path)
}

// BindAddonPath binds an additional alias path to the document
// already reachable at existingPath.
func (db *DB) BindAddonPath(existingPath, newPath string) error {
	return db.eng.BindAddonPath(existingPath, newPath)
}

// StartStream begins a streamed read of path, returning a stream
// handle to pass to NextStreamChunk.
func (db *DB) StartStream(path string) (int64, error) {
	return db.eng.StartStream(path)
}

// NextStreamChunk reads the next chunk for handle, returning the next
// handle to pass on a subsequent call, or -1 once the chain is
// exhausted.
func (db *DB) NextStreamChunk(handle int64) ([]byte, int64, error) {
	return db.eng.NextStreamChunk(handle)
}

// EndStream closes a stream handle before it is exhausted.
func (db *DB) EndStream(handle int64) error {
	return db.eng.EndStream(handle)
}

// GetChecksum returns the hex-encoded MD4 checksum of the current
// superblock (spec.md §6 "get_checksum").
func (db *DB) GetChecksum() string {
	sum := db.eng.GetChecksum()
	return hex.EncodeToString(sum[:])
}

// SetQuickMode toggles whether reads skip per-page CRC verification.
func (db *DB) SetQuickMode(enabled bool) { db.eng.SetQuickMode(enabled) }

// GetCacheStats reports the page cache's cumulative hit/miss counts.
func (db *DB) GetCacheStats() CacheStats { return db.eng.GetCacheStats() }

// BeginTransaction opens a transaction and returns its id.
func (db *DB) BeginTransaction() (uint64, error) { return db.eng.BeginTransaction() }

// CommitTransaction commits the transaction identified by id.
func (db *DB) CommitTransaction(id uint64) error { return db.eng.CommitTransaction(id) }

// RollbackTransaction discards the transaction identified by id.
func (db *DB) RollbackTransaction(id uint64) error { return db.eng.RollbackTransaction(id) }

func formatUUID(id [16]byte) string {
	var buf [36]byte
	hex.Encode(buf[0:8], id[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], id[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], id[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], id[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], id[10:16])
	return string(buf[:])
}
