// Engine wires the pager, allocator, document index, and reverse
// trie together and implements the foreign-boundary operations
// (spec.md §5, §6).
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nainya/docstore/internal/logger"
	"github.com/nainya/docstore/internal/metrics"
)

// Engine is one open database. A single Engine must not be shared
// across processes; within a process, mu serializes every mutating
// operation (spec.md §5: "a single writer is assumed"), while
// rootsMu lets concurrent readers see a consistent {index, trie,
// free-list} root triple even while a writer is between mutating the
// structures and persisting the new roots to the superblock.
type Engine struct {
	cfg  Config
	path string
	pgr  *pager
	log  *logger.Logger
	met  *metrics.Metrics

	mu sync.Mutex

	rootsMu   sync.RWMutex
	indexRoot VersionedLink
	trieRoot  VersionedLink
	freeRoot  VersionedLink

	activeTxn *Txn
	nextTxnID uint64

	streamMu    sync.Mutex
	openStreams map[pageID]bool

	pathCache *pathCache

	// allocEmptyStreak is the allocator's empty-free-list streak,
	// shared across every mutation this Engine performs (see
	// newAllocatorWithStreak): newMutation builds a fresh *allocator
	// per call, but the streak itself must persist across calls for
	// MaxConsecutiveEmptyFreeList/BatchGrowPages to ever fire outside a
	// single multi-page write. Guarded by mu, same as every mutation.
	allocEmptyStreak int
}

// Open opens (creating if absent) the database file at path, running
// recovery before any operation is accepted (spec.md §4.7).
func Open(path string, cfg Config) (*Engine, error) {
	cfg = cfg.normalize()

	log := logger.GetGlobalLogger().EngineLogger(path)
	pgr, err := openPager(path, cfg, log)
	if err != nil {
		return nil, err
	}

	// page_size appears nowhere on disk (spec.md §6); the only
	// detectable signal that an existing file was created with a
	// different page size is that its length is not a clean multiple
	// of the configured one.
	if size := pgr.fileSize(); size > 0 && size%int64(cfg.PageSize) != 0 {
		_ = pgr.close()
		return nil, fmt.Errorf("%w: file size %d is not a multiple of configured page_size %d", ErrInvalidData, size, cfg.PageSize)
	}

	sb, err := recover(pgr, cfg, log.RecoveryLogger(path))
	if err != nil {
		_ = pgr.close()
		return nil, err
	}
	// Recovery's page-by-page scan runs every page through readPage,
	// inflating the cache's miss count before any caller has made a
	// single request; get_cache_stats must start at {0,0} after reopen
	// (spec.md §8), so the scan's footprint is discarded here.
	pgr.resetCacheStats()

	e := &Engine{
		cfg:         cfg,
		path:        path,
		pgr:         pgr,
		log:         log,
		met:         metrics.NewMetrics(),
		indexRoot:   sb.IndexRoot,
		trieRoot:    sb.TrieRoot,
		freeRoot:    sb.FreeListRoot,
		openStreams: make(map[pageID]bool),
		pathCache:   newPathCache(cfg.PathCacheSize),
	}
	return e, nil
}

// Close releases the underlying file handle and mapping. A
// transaction left open at Close is discarded, never committed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.activeTxn = nil
	e.mu.Unlock()
	return e.pgr.close()
}

func (e *Engine) logAndRecord(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.log.LogOperation(op, time.Since(start), err)
	if e.met != nil {
		e.met.RecordOperation(op, status, time.Since(start))
	}
}

// mutation is the working set one mutating operation reads and
// writes through: the pageIO surface (real pager, or a transaction's
// buffered view), the allocator and trie built atop it, and the three
// roots as mutated so far in this call.
type mutation struct {
	io    pageIO
	alloc *allocator
	trie  *trie

	indexRoot VersionedLink
	trieRoot  VersionedLink
	freeRoot  VersionedLink
}

// newMutation must be called with e.mu held. It routes through the
// active transaction's buffered view if one is open, otherwise
// straight at the real pager (autocommit).
func (e *Engine) newMutation() *mutation {
	if e.activeTxn != nil {
		io := e.activeTxn.view
		alloc := newAllocatorWithStreak(e.pgr, io, e.cfg, &e.allocEmptyStreak)
		return &mutation{
			io:        io,
			alloc:     alloc,
			trie:      &trie{pgr: io, alloc: alloc},
			indexRoot: e.activeTxn.indexRoot,
			trieRoot:  e.activeTxn.trieRoot,
			freeRoot:  e.activeTxn.freeRoot,
		}
	}
	e.rootsMu.RLock()
	defer e.rootsMu.RUnlock()
	alloc := newAllocatorWithStreak(e.pgr, e.pgr, e.cfg, &e.allocEmptyStreak)
	return &mutation{
		io:        e.pgr,
		alloc:     alloc,
		trie:      &trie{pgr: e.pgr, alloc: alloc},
		indexRoot: e.indexRoot,
		trieRoot:  e.trieRoot,
		freeRoot:  e.freeRoot,
	}
}

// commit installs m's roots. Inside a transaction this only updates
// the transaction's pending roots; outside one it takes rootsMu
// exclusively and rewrites the superblock immediately (spec.md §4.6,
// §9 "root rewrite concurrency").
func (e *Engine) commit(m *mutation) error {
	if e.activeTxn != nil {
		e.activeTxn.indexRoot = m.indexRoot
		e.activeTxn.trieRoot = m.trieRoot
		e.activeTxn.freeRoot = m.freeRoot
		return nil
	}
	e.rootsMu.Lock()
	defer e.rootsMu.Unlock()
	e.indexRoot, e.trieRoot, e.freeRoot = m.indexRoot, m.trieRoot, m.freeRoot
	sb := superblock{IndexRoot: e.indexRoot, TrieRoot: e.trieRoot, FreeListRoot: e.freeRoot}
	if err := writeSuperblock(e.pgr, sb); err != nil {
		return err
	}
	e.recordDBStats()
	return nil
}

// recordDBStats refreshes the size/documents/free-list gauges from
// the roots just committed. Called with rootsMu held.
func (e *Engine) recordDBStats() {
	if e.met == nil {
		return
	}
	records, err := loadIndex(e.pgr, e.indexRoot)
	if err != nil {
		return
	}
	depth := freeListDepth(e.pgr, e.freeRoot)
	e.met.UpdateDBStats(e.pgr.fileSize(), len(records), depth)
}

// roots reads the current triple under rootsMu, for read-only
// operations that never need the single writer mutex.
func (e *Engine) roots() (indexRoot, trieRoot, freeRoot VersionedLink) {
	e.rootsMu.RLock()
	defer e.rootsMu.RUnlock()
	return e.indexRoot, e.trieRoot, e.freeRoot
}

// WriteDocument stores data at path (spec.md §4.3, §4.4, §4.5,
// §6 "write_document"). Writing to a path that already resolves to a
// document supersedes it: the document id and its other alias paths
// are unchanged, the version counter increments, and the old chain is
// freed only after the new one is fully written (spec.md §4.4
// copy-on-write discipline). Writing a brand-new path allocates a
// fresh id and inserts it into the trie.
func (e *Engine) WriteDocument(path string, data []byte) ([16]byte, error) {
	start := time.Now()
	var id [16]byte
	err := func() error {
		if err := validatePath(path); err != nil {
			return err
		}
		if int64(len(data)) > e.cfg.MaxDocumentSize {
			return fmt.Errorf("%w: document of %d bytes exceeds max_document_size", ErrInvalidInput, len(data))
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		m := e.newMutation()

		records, err := loadIndex(m.io, m.indexRoot)
		if err != nil {
			return err
		}
		existing, found := findByPath(records, path)

		head, freeRoot, err := writeChain(m.io, m.alloc, m.freeRoot, data)
		if err != nil {
			return err
		}
		m.freeRoot = freeRoot

		if found {
			freeRoot, err = freeChain(m.io, m.alloc, m.freeRoot, existing.Head)
			if err != nil {
				return err
			}
			m.freeRoot = freeRoot
			id = existing.ID
			for i := range records {
				if records[i].ID == id {
					records[i].Head = head
					records[i].Version = existing.Version + 1
				}
			}
		} else {
			id = e.cfg.IDGenerator.NewID()
			records = append(records, DocRecord{ID: id, Head: head, Version: 1, Paths: []string{path}})

			trieRoot, freeRoot2, err := m.trie.insert(m.trieRoot, m.freeRoot, reverseScalars(path), id)
			if err != nil {
				return err
			}
			m.trieRoot = trieRoot
			m.freeRoot = freeRoot2
		}

		indexRoot, freeRoot3, err := saveIndex(m.io, m.alloc, m.indexRoot, m.freeRoot, records)
		if err != nil {
			return err
		}
		m.indexRoot = indexRoot
		m.freeRoot = freeRoot3

		if err := e.commit(m); err != nil {
			return err
		}
		e.pathCache.put(path, id)
		return nil
	}()
	e.logAndRecord("write_document", start, err)
	return id, err
}

// Get reassembles and returns the bytes stored at path (spec.md §6
// "get"), consulting the path cache before the persistent trie.
func (e *Engine) Get(path string) ([]byte, error) {
	start := time.Now()
	var out []byte
	err := func() error {
		if err := validatePath(path); err != nil {
			return err
		}
		indexRoot, trieRoot, _ := e.roots()

		docID, ok := e.pathCache.get(path)
		if !ok {
			var found bool
			var err error
			t := &trie{pgr: e.pgr}
			docID, found, err = t.lookup(trieRoot, reverseScalars(path))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: path %q", ErrNotFound, path)
			}
			e.pathCache.put(path, docID)
		}

		records, err := loadIndex(e.pgr, indexRoot)
		if err != nil {
			return err
		}
		rec, idx := findByID(records, docID)
		if idx < 0 {
			return fmt.Errorf("%w: path %q", ErrNotFound, path)
		}
		out, err = readChain(e.pgr, rec.Head)
		return err
	}()
	e.logAndRecord("get", start, err)
	return out, err
}

// SearchPaths returns every currently live path that starts with
// prefix (spec.md §4.5 "Prefix search", §8 "Prefix closure"),
// applying the caller-side filter the trie's overmatching walk
// requires.
func (e *Engine) SearchPaths(prefix string) ([]string, error) {
	start := time.Now()
	var out []string
	err := func() error {
		if err := validatePrefix(prefix); err != nil {
			return err
		}
		_, trieRoot, _ := e.roots()
		t := &trie{pgr: e.pgr}
		matches, err := t.prefix(trieRoot, prefix)
		if err != nil {
			return err
		}
		for _, match := range matches {
			if strings.HasPrefix(match.Path, prefix) {
				out = append(out, match.Path)
			}
		}
		return nil
	}()
	e.logAndRecord("search_paths", start, err)
	return out, err
}

// DeleteByPath unbinds path from its document (spec.md §4.4, §4.5,
// §6 "delete_by_path"). If path was the document's only alias, the
// document record and its data chain are freed entirely; otherwise
// only the alias is dropped and the document's other paths, head, and
// version are untouched.
func (e *Engine) DeleteByPath(path string) error {
	start := time.Now()
	err := func() error {
		if err := validatePath(path); err != nil {
			return err
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		m := e.newMutation()

		records, err := loadIndex(m.io, m.indexRoot)
		if err != nil {
			return err
		}
		rec, found := findByPath(records, path)
		if !found {
			return fmt.Errorf("%w: path %q", ErrNotFound, path)
		}

		trieRoot, freeRoot, _, err := m.trie.delete(m.trieRoot, m.freeRoot, reverseScalars(path))
		if err != nil {
			return err
		}
		m.trieRoot = trieRoot
		m.freeRoot = freeRoot

		remaining := removeString(rec.Paths, path)
		if len(remaining) == 0 {
			freeRoot, err = freeChain(m.io, m.alloc, m.freeRoot, rec.Head)
			if err != nil {
				return err
			}
			m.freeRoot = freeRoot
			records = removeRecord(records, rec.ID)
		} else {
			for i := range records {
				if records[i].ID == rec.ID {
					records[i].Paths = remaining
				}
			}
		}

		indexRoot, freeRoot2, err := saveIndex(m.io, m.alloc, m.indexRoot, m.freeRoot, records)
		if err != nil {
			return err
		}
		m.indexRoot = indexRoot
		m.freeRoot = freeRoot2

		if err := e.commit(m); err != nil {
			return err
		}
		e.pathCache.invalidate(path)
		return nil
	}()
	e.logAndRecord("delete_by_path", start, err)
	return err
}

// BindAddonPath binds an additional alias path to the document
// already reachable at existingPath, without touching its bytes,
// version, or any of its other aliases (spec.md §6
// "bind_addon_path").
func (e *Engine) BindAddonPath(existingPath, newPath string) error {
	start := time.Now()
	err := func() error {
		if err := validatePath(existingPath); err != nil {
			return err
		}
		if err := validatePath(newPath); err != nil {
			return err
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		m := e.newMutation()

		records, err := loadIndex(m.io, m.indexRoot)
		if err != nil {
			return err
		}
		rec, found := findByPath(records, existingPath)
		if !found {
			return fmt.Errorf("%w: path %q", ErrNotFound, existingPath)
		}
		if _, already := findByPath(records, newPath); already {
			return fmt.Errorf("%w: path %q is already bound", ErrInvalidInput, newPath)
		}

		trieRoot, freeRoot, err := m.trie.insert(m.trieRoot, m.freeRoot, reverseScalars(newPath), rec.ID)
		if err != nil {
			return err
		}
		m.trieRoot = trieRoot
		m.freeRoot = freeRoot

		for i := range records {
			if records[i].ID == rec.ID {
				records[i].Paths = append(records[i].Paths, newPath)
			}
		}

		indexRoot, freeRoot2, err := saveIndex(m.io, m.alloc, m.indexRoot, m.freeRoot, records)
		if err != nil {
			return err
		}
		m.indexRoot = indexRoot
		m.freeRoot = freeRoot2

		if err := e.commit(m); err != nil {
			return err
		}
		e.pathCache.put(newPath, rec.ID)
		return nil
	}()
	e.logAndRecord("bind_addon_path", start, err)
	return err
}

// StartStream resolves path to its document's first data page and
// registers the returned handle as open, so next_stream_chunk and
// end_stream can detect a stale or doubly-ended handle (spec.md §6
// "start_stream"/"next_stream_chunk"/"end_stream": a stream id is
// literally the page id to read next, round-tripped by the caller).
func (e *Engine) StartStream(path string) (pageID, error) {
	start := time.Now()
	var handle pageID
	err := func() error {
		if err := validatePath(path); err != nil {
			return err
		}
		indexRoot, trieRoot, _ := e.roots()
		t := &trie{pgr: e.pgr}
		docID, found, err := t.lookup(trieRoot, reverseScalars(path))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: path %q", ErrNotFound, path)
		}
		records, err := loadIndex(e.pgr, indexRoot)
		if err != nil {
			return err
		}
		rec, idx := findByID(records, docID)
		if idx < 0 {
			return fmt.Errorf("%w: path %q", ErrNotFound, path)
		}
		handle = rec.Head
		e.streamMu.Lock()
		e.openStreams[handle] = true
		e.streamMu.Unlock()
		return nil
	}()
	e.logAndRecord("start_stream", start, err)
	return handle, err
}

// NextStreamChunk reads one chunk from an open stream handle and
// advances it, or reports ErrInvalidInput if the handle is not
// currently open (never started, already consumed past, or already
// ended).
func (e *Engine) NextStreamChunk(handle pageID) ([]byte, pageID, error) {
	start := time.Now()
	var payload []byte
	var next pageID = noPage
	err := func() error {
		e.streamMu.Lock()
		if !e.openStreams[handle] {
			e.streamMu.Unlock()
			return fmt.Errorf("%w: stream handle %d is not open", ErrInvalidInput, handle)
		}
		delete(e.openStreams, handle)
		e.streamMu.Unlock()

		var err error
		payload, next, err = streamChunk(e.pgr, handle)
		if err != nil {
			return err
		}
		if next != noPage {
			e.streamMu.Lock()
			e.openStreams[next] = true
			e.streamMu.Unlock()
		}
		return nil
	}()
	e.logAndRecord("next_stream_chunk", start, err)
	return payload, next, err
}

// EndStream closes a stream handle early. Calling it twice on the
// same handle, or on a handle already exhausted by
// next_stream_chunk, reports ErrInvalidInput.
func (e *Engine) EndStream(handle pageID) error {
	start := time.Now()
	err := func() error {
		e.streamMu.Lock()
		defer e.streamMu.Unlock()
		if !e.openStreams[handle] {
			return fmt.Errorf("%w: stream handle %d is not open", ErrInvalidInput, handle)
		}
		delete(e.openStreams, handle)
		return nil
	}()
	e.logAndRecord("end_stream", start, err)
	return err
}

// GetChecksum returns the host-supplied checksum of the current
// superblock image (spec.md §6 "get_checksum").
func (e *Engine) GetChecksum() [16]byte {
	e.rootsMu.RLock()
	sb := superblock{IndexRoot: e.indexRoot, TrieRoot: e.trieRoot, FreeListRoot: e.freeRoot}
	e.rootsMu.RUnlock()
	return e.cfg.Checksummer.Sum(sb.encode())
}

// SetQuickMode toggles whether reads skip per-page CRC verification
// (spec.md §6 "set_quick_mode"). Flush and decompression are never
// skipped.
func (e *Engine) SetQuickMode(enabled bool) {
	e.pgr.setQuickMode(enabled)
}

// GetCacheStats reports the page cache's cumulative hit/miss counts
// (spec.md §6 "get_cache_stats").
func (e *Engine) GetCacheStats() CacheStats {
	stats := e.pgr.cacheStats()
	if e.met != nil {
		e.met.UpdateCacheStats(metrics.CacheStats{Hits: stats.Hits, Misses: stats.Misses})
	}
	return stats
}

// BeginTransaction opens a transaction and returns its id (spec.md
// §4.6). Only one transaction may be open at a time.
func (e *Engine) BeginTransaction() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeTxn != nil {
		return 0, fmt.Errorf("%w: a transaction is already open", ErrInvalidInput)
	}
	e.nextTxnID++
	indexRoot, trieRoot, freeRoot := e.roots()
	e.activeTxn = beginTxn(e.nextTxnID, e.pgr, indexRoot, trieRoot, freeRoot)
	if e.met != nil {
		e.met.TransactionsOpen.Set(1)
	}
	return e.activeTxn.id, nil
}

// CommitTransaction replays every buffered write, swaps in the
// transaction's final roots, and rewrites the superblock (spec.md
// §4.6).
func (e *Engine) CommitTransaction(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeTxn == nil || e.activeTxn.id != id {
		return fmt.Errorf("%w: no open transaction %d", ErrInvalidInput, id)
	}
	txn := e.activeTxn
	if err := txn.view.replay(); err != nil {
		return err
	}
	e.rootsMu.Lock()
	e.indexRoot, e.trieRoot, e.freeRoot = txn.indexRoot, txn.trieRoot, txn.freeRoot
	sb := superblock{IndexRoot: e.indexRoot, TrieRoot: e.trieRoot, FreeListRoot: e.freeRoot}
	err := writeSuperblock(e.pgr, sb)
	if err == nil {
		e.recordDBStats()
	}
	e.rootsMu.Unlock()
	e.activeTxn = nil
	if e.met != nil {
		e.met.TransactionsOpen.Set(0)
	}
	return err
}

// RollbackTransaction discards every buffered write (spec.md §4.6).
// Pages allocated from the free list inside the transaction are never
// popped from the real, persisted free list in the first place, since
// the free list's own pop/push went through the same buffered view;
// discarding the buffer is the entire rollback. Pages the transaction
// grew the file by are the one exception — file truncation is never
// deferred — and are reclaimed as orphans by the next open's recovery
// scan.
func (e *Engine) RollbackTransaction(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeTxn == nil || e.activeTxn.id != id {
		return fmt.Errorf("%w: no open transaction %d", ErrInvalidInput, id)
	}
	e.activeTxn = nil
	if e.met != nil {
		e.met.TransactionsOpen.Set(0)
	}
	return nil
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeRecord(records []DocRecord, id [16]byte) []DocRecord {
	out := records[:0]
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
