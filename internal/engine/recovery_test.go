package engine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoverFreshFileStartsEmpty(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	sb, err := recover(pgr, cfg, testLog())
	require.NoError(t, err)
	require.Equal(t, noPage, sb.IndexRoot.PageID)
	require.Equal(t, noPage, sb.TrieRoot.PageID)
	require.Equal(t, noPage, sb.FreeListRoot.PageID)
}

// A clean close/reopen must trust the existing superblock and hand
// back the exact roots it named, with every document still reachable
// through them.
func TestRecoverTrustsValidSuperblock(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	alloc := newAllocator(pgr, pgr, cfg)

	freeRoot := VersionedLink{PageID: noPage}
	head, freeRoot, err := writeChain(pgr, alloc, freeRoot, []byte("payload"))
	require.NoError(t, err)

	records := []DocRecord{{ID: idOf(1), Head: head, Version: 1, Paths: []string{"a/b"}}}
	indexRoot, freeRoot, err := saveIndex(pgr, alloc, VersionedLink{PageID: noPage}, freeRoot, records)
	require.NoError(t, err)

	tr := &trie{pgr: pgr, alloc: alloc}
	trieRoot, freeRoot, err := tr.insert(VersionedLink{PageID: noPage}, freeRoot, reverseScalars("a/b"), idOf(1))
	require.NoError(t, err)

	require.NoError(t, writeSuperblock(pgr, superblock{IndexRoot: indexRoot, TrieRoot: trieRoot, FreeListRoot: freeRoot}))

	sb, err := recover(pgr, cfg, testLog())
	require.NoError(t, err)
	require.Equal(t, indexRoot, sb.IndexRoot)
	require.Equal(t, trieRoot, sb.TrieRoot)

	got, err := loadIndex(pgr, sb.IndexRoot)
	require.NoError(t, err)
	require.Equal(t, records, got)

	found, ok, err := (&trie{pgr: pgr}).lookup(sb.TrieRoot, reverseScalars("a/b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, idOf(1), found)
}

// A corrupted magic makes the superblock untrustworthy. The trie is
// rediscovered from a full scan (it carries an explicit parent
// pointer to re-root on), but the index has no equivalent fallback:
// reconcileIndex only ever walks from the superblock's own root, so a
// lost superblock loses the index even though its pages are still
// physically present, and those index pages fall into the free-list
// rebuild as orphans instead.
func TestRecoverRescansTrieButLosesIndexOnCorruptSuperblock(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	alloc := newAllocator(pgr, pgr, cfg)

	freeRoot := VersionedLink{PageID: noPage}
	head, freeRoot, err := writeChain(pgr, alloc, freeRoot, []byte("payload"))
	require.NoError(t, err)

	records := []DocRecord{{ID: idOf(1), Head: head, Version: 1, Paths: []string{"a/b"}}}
	indexRoot, freeRoot, err := saveIndex(pgr, alloc, VersionedLink{PageID: noPage}, freeRoot, records)
	require.NoError(t, err)

	tr := &trie{pgr: pgr, alloc: alloc}
	trieRoot, freeRoot, err := tr.insert(VersionedLink{PageID: noPage}, freeRoot, reverseScalars("a/b"), idOf(1))
	require.NoError(t, err)

	require.NoError(t, writeSuperblock(pgr, superblock{IndexRoot: indexRoot, TrieRoot: trieRoot, FreeListRoot: freeRoot}))
	require.NoError(t, pgr.close())

	path := pgr.file.Name()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0x00}, 0) // stomp the first magic byte
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pgr2, err := openPager(path, cfg, testLog())
	require.NoError(t, err)
	defer pgr2.close()

	sb, err := recover(pgr2, cfg, testLog())
	require.NoError(t, err)
	require.Equal(t, noPage, sb.IndexRoot.PageID)
	require.Equal(t, trieRoot.PageID, sb.TrieRoot.PageID)

	found, ok, err := (&trie{pgr: pgr2}).lookup(sb.TrieRoot, reverseScalars("a/b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, idOf(1), found)
}

// Data pages reachable from the index at recovery time are preserved;
// pages that exist on disk but nothing reaches are swept into the
// free list (spec.md §4.7 orphan collection), so a post-recovery
// allocation reuses one instead of growing the file.
func TestRecoverReclaimsOrphanDataPage(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	alloc := newAllocator(pgr, pgr, cfg)

	freeRoot := VersionedLink{PageID: noPage}
	keepHead, freeRoot, err := writeChain(pgr, alloc, freeRoot, []byte("kept"))
	require.NoError(t, err)
	orphanHead, freeRoot, err := writeChain(pgr, alloc, freeRoot, []byte("orphaned"))
	require.NoError(t, err)

	records := []DocRecord{{ID: idOf(1), Head: keepHead, Version: 1, Paths: []string{"a"}}}
	indexRoot, freeRoot, err := saveIndex(pgr, alloc, VersionedLink{PageID: noPage}, freeRoot, records)
	require.NoError(t, err)

	require.NoError(t, writeSuperblock(pgr, superblock{IndexRoot: indexRoot, TrieRoot: VersionedLink{PageID: noPage}, FreeListRoot: freeRoot}))

	before := pgr.pageCount()
	sb, err := recover(pgr, cfg, testLog())
	require.NoError(t, err)
	require.NotEqual(t, noPage, sb.FreeListRoot.PageID)

	// The reachable document is untouched.
	got, err := readChain(pgr, keepHead)
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), got)

	alloc2 := newAllocator(pgr, pgr, cfg)
	id, _, err := alloc2.allocate(sb.FreeListRoot)
	require.NoError(t, err)
	require.Less(t, id, before)
	_ = orphanHead
}
