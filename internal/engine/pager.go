// Pager reads and writes fixed-size pages, picking between an mmap
// read path and a positional seek+read fallback (spec.md §4.1).
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/nainya/docstore/internal/logger"
)

type pager struct {
	cfg  Config
	file *os.File
	log  *logger.Logger

	// mmapMu guards (re)establishing the mmap mapping; held shared by
	// readers of mmapData and exclusively while remapping after file
	// growth (spec.md §5: "over ... the mmap handle").
	mmapMu   sync.RWMutex
	mmapData []byte

	sizeMu sync.Mutex
	size   int64 // current file size in bytes

	cache     *pageCache
	quickMode atomic.Bool
}

func openPager(path string, cfg Config, log *logger.Logger) (*pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, wrapIo("open", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapIo("stat", err)
	}

	if st.Size() == 0 {
		if err := fsyncDir(path); err != nil {
			_ = f.Close()
			return nil, wrapIo("fsync-dir", err)
		}
	}

	p := &pager{
		cfg:   cfg,
		file:  f,
		log:   log,
		size:  st.Size(),
		cache: newPageCache(cfg.PageCacheSize),
	}
	p.quickMode.Store(cfg.QuickMode)

	if st.Size() == 0 {
		// Page 0 is reserved for the superblock (spec.md §3): every
		// allocatable page lives at id ≥ 1, so every data/index/trie
		// page's bytes sit strictly after it instead of sharing its
		// offset. Reserve it up front on a brand-new file rather than
		// special-casing id 0 in the allocator and recovery scan.
		if _, err := p.grow(1); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else if err := p.establishMmap(); err != nil {
		// Positional seek+read remains available; mmap is an
		// optimization, not a requirement (spec.md §4.1).
		p.log.Warn("mmap unavailable, falling back to seek+read").Err(err).Send()
	}
	return p, nil
}

func (p *pager) close() error {
	p.mmapMu.Lock()
	if p.mmapData != nil {
		_ = syscall.Munmap(p.mmapData)
		p.mmapData = nil
	}
	p.mmapMu.Unlock()
	return wrapIo("close", p.file.Close())
}

// establishMmap (re)maps the whole file read-only. Writes always go
// through pwrite+fsync (see writePage), so the mapping never needs
// msync: this process never dirties it, and a pwrite that has been
// fsynced is immediately visible to a read-only mapping of the same
// file because both share the kernel page cache. See DESIGN.md
// "Pager".
func (p *pager) establishMmap() error {
	p.sizeMu.Lock()
	size := p.size
	p.sizeMu.Unlock()
	if size == 0 {
		return nil
	}

	p.mmapMu.Lock()
	defer p.mmapMu.Unlock()
	if p.mmapData != nil {
		if err := syscall.Munmap(p.mmapData); err != nil {
			return wrapIo("munmap", err)
		}
		p.mmapData = nil
	}
	data, err := syscall.Mmap(int(p.file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return wrapIo("mmap", err)
	}
	p.mmapData = data
	return nil
}

func (p *pager) pageCount() int64 {
	p.sizeMu.Lock()
	defer p.sizeMu.Unlock()
	return p.size / int64(p.cfg.PageSize)
}

func (p *pager) fileSize() int64 {
	p.sizeMu.Lock()
	defer p.sizeMu.Unlock()
	return p.size
}

// grow extends the file by n pages and returns the id of the first
// new page (spec.md §4.2).
func (p *pager) grow(n int) (pageID, error) {
	p.sizeMu.Lock()
	firstID := p.size / int64(p.cfg.PageSize)
	newSize := p.size + int64(n)*int64(p.cfg.PageSize)
	if newSize/int64(p.cfg.PageSize) > p.cfg.MaxPages {
		p.sizeMu.Unlock()
		return noPage, ErrCapacity
	}
	if err := p.file.Truncate(newSize); err != nil {
		p.sizeMu.Unlock()
		return noPage, wrapIo("truncate", err)
	}
	p.size = newSize
	p.sizeMu.Unlock()

	if err := p.establishMmap(); err != nil {
		p.log.Warn("mmap remap failed after grow, continuing with seek+read").Err(err).Send()
	}
	return pageID(firstID), nil
}

func (p *pager) validateID(id pageID) error {
	if id < 0 || id >= p.pageCount() {
		return fmt.Errorf("%w: page id %d out of range", ErrInvalidInput, id)
	}
	return nil
}

func (p *pager) readAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	p.mmapMu.RLock()
	if p.mmapData != nil && offset+int64(length) <= int64(len(p.mmapData)) {
		copy(buf, p.mmapData[offset:offset+int64(length)])
		p.mmapMu.RUnlock()
		return buf, nil
	}
	p.mmapMu.RUnlock()

	if _, err := p.file.ReadAt(buf, offset); err != nil {
		return nil, wrapIo("pread", err)
	}
	return buf, nil
}

func (p *pager) writeAt(offset int64, data []byte) error {
	if _, err := p.file.WriteAt(data, offset); err != nil {
		return wrapIo("pwrite", err)
	}
	return nil
}

func (p *pager) flush() error {
	return wrapIo("fsync", p.file.Sync())
}

// readHeader reads the 32-byte page header at id (spec.md §4.1).
func (p *pager) readHeader(id pageID) (header, error) {
	if err := p.validateID(id); err != nil {
		return header{}, err
	}
	offset := int64(id)*int64(p.cfg.PageSize)
	buf, err := p.readAt(offset, PageHeaderSize)
	if err != nil {
		return header{}, err
	}
	return decodeHeader(buf), nil
}

// readPage returns the decoded (decompressed) payload and header for
// id (spec.md §4.1). The header is always read from the file; the
// payload comes from the page cache when it holds id. quick-mode
// skips the CRC check but never skips decompression.
func (p *pager) readPage(id pageID) ([]byte, header, error) {
	if err := p.validateID(id); err != nil {
		return nil, header{}, err
	}

	h, err := p.readHeader(id)
	if err != nil {
		return nil, header{}, err
	}

	if cached, ok := p.cache.get(id); ok {
		return cached, h, nil
	}

	offset := int64(id)*int64(p.cfg.PageSize) + PageHeaderSize
	raw, err := p.readAt(offset, int(h.Length))
	if err != nil {
		return nil, header{}, err
	}

	if !p.quickMode.Load() {
		if p.cfg.Hasher.Sum32(raw) != h.CRC {
			return nil, header{}, fmt.Errorf("%w: page %d crc mismatch", ErrInvalidData, id)
		}
	}

	payload, err := p.cfg.Codec.Decompress(raw)
	if err != nil {
		return nil, header{}, fmt.Errorf("%w: page %d: %v", ErrInvalidData, id, err)
	}

	p.cache.put(id, payload)
	return payload, h, nil
}

// writePage compresses payload, computes its CRC, and persists the
// header and payload to id (spec.md §4.1). The write is flushed
// before returning, and the page's cache entry is replaced with the
// uncompressed payload.
func (p *pager) writePage(id pageID, payload []byte, version uint32, flags uint8, prev, next pageID) error {
	if err := p.validateID(id); err != nil {
		return err
	}

	compressed := p.cfg.Codec.Compress(payload)
	if len(compressed) > p.cfg.payloadCap() {
		return fmt.Errorf("%w: compressed payload %d bytes exceeds page capacity %d", ErrInvalidInput, len(compressed), p.cfg.payloadCap())
	}

	h := header{
		CRC:     p.cfg.Hasher.Sum32(compressed),
		Version: version,
		Prev:    prev,
		Next:    next,
		Flags:   flags,
		Length:  uint32(len(compressed)),
	}

	base := int64(id) * int64(p.cfg.PageSize)
	if err := p.writeAt(base, h.encode()); err != nil {
		return err
	}
	if err := p.writeAt(base+PageHeaderSize, compressed); err != nil {
		return err
	}
	if err := p.flush(); err != nil {
		return err
	}

	p.cache.invalidate(id)
	p.cache.put(id, payload)
	return nil
}

func (p *pager) setQuickMode(enabled bool) { p.quickMode.Store(enabled) }

func (p *pager) cacheStats() CacheStats { return p.cache.stats() }

// resetCacheStats zeroes the hit/miss counters. Used once, right after
// recovery's page scan, so its reads don't leak into the first stats
// a caller observes after Open (spec.md §8).
func (p *pager) resetCacheStats() { p.cache.resetStats() }

func (p *pager) payloadCap() int { return p.cfg.payloadCap() }

// fsyncDir fsyncs the directory entry for a freshly created database
// file, so the file's existence survives a crash immediately after
// open_db instead of only its contents (teacher's createFileSync in
// pkg/storage/kv.go).
func fsyncDir(file string) error {
	dir, err := os.Open(filepath.Dir(file))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// pageIO is the read/write surface the free list, document chain,
// index, and trie depend on. A bare *pager satisfies it directly
// (autocommit); a *txnView satisfies it by buffering writes until
// commit (spec.md §4.6).
type pageIO interface {
	readPage(id pageID) ([]byte, header, error)
	writePage(id pageID, payload []byte, version uint32, flags uint8, prev, next pageID) error
	payloadCap() int
}

// pageStore adds growth to pageIO; only the allocator needs it, since
// growing the file is never deferred (see RollbackTransaction in
// engine.go).
type pageStore interface {
	pageIO
	grow(n int) (pageID, error)
}
