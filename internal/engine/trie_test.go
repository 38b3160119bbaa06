package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTrie(t *testing.T) (*trie, Config) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	alloc := newAllocator(pgr, pgr, cfg)
	return &trie{pgr: pgr, alloc: alloc}, cfg
}

func idOf(b byte) [16]byte {
	var id [16]byte
	id[0] = b
	return id
}

func TestTrieInsertLookupSinglePath(t *testing.T) {
	tr, _ := newTestTrie(t)
	freeRoot := VersionedLink{PageID: noPage}

	trieRoot, freeRoot, err := tr.insert(VersionedLink{PageID: noPage}, freeRoot, reverseScalars("a/b"), idOf(1))
	require.NoError(t, err)

	got, found, err := tr.lookup(trieRoot, reverseScalars("a/b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, idOf(1), got)

	_, found, err = tr.lookup(trieRoot, reverseScalars("a/c"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestTrieInsertSplitOnSharedSuffix(t *testing.T) {
	tr, _ := newTestTrie(t)
	trieRoot := VersionedLink{PageID: noPage}
	freeRoot := VersionedLink{PageID: noPage}

	var err error
	trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars("a/1"), idOf(1))
	require.NoError(t, err)
	trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars("a/2"), idOf(2))
	require.NoError(t, err)
	trieRoot, _, err = tr.insert(trieRoot, freeRoot, reverseScalars("b/1"), idOf(3))
	require.NoError(t, err)

	for path, want := range map[string][16]byte{"a/1": idOf(1), "a/2": idOf(2), "b/1": idOf(3)} {
		got, found, err := tr.lookup(trieRoot, reverseScalars(path))
		require.NoError(t, err)
		require.True(t, found, path)
		require.Equal(t, want, got, path)
	}
}

func TestTriePrefixSearchAndSecondFilter(t *testing.T) {
	tr, _ := newTestTrie(t)
	trieRoot := VersionedLink{PageID: noPage}
	freeRoot := VersionedLink{PageID: noPage}

	var err error
	for i, path := range []string{"a/1", "a/2", "b/1", "ab/3"} {
		trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars(path), idOf(byte(i+1)))
		require.NoError(t, err)
	}

	// A node's depth tracks a shared original-path *suffix* ("a/1" and
	// "b/1" both end in "/1" and land under the same edge), not a
	// shared prefix, so prefix enumerates the whole trie; the actual
	// prefix filter is the caller's job (engine.SearchPaths), exercised
	// here directly since trie.prefix alone overmatches by design.
	matches, err := tr.prefix(trieRoot, "a")
	require.NoError(t, err)
	require.Len(t, matches, 4)

	var paths []string
	for _, m := range matches {
		paths = append(paths, m.Path)
	}
	require.ElementsMatch(t, []string{"a/1", "a/2", "b/1", "ab/3"}, paths)

	var filtered []string
	for _, p := range paths {
		if strings.HasPrefix(p, "a") {
			filtered = append(filtered, p)
		}
	}
	require.ElementsMatch(t, []string{"a/1", "a/2", "ab/3"}, filtered)
}

func TestTriePrefixMatchesSpecScenario(t *testing.T) {
	tr, _ := newTestTrie(t)
	trieRoot := VersionedLink{PageID: noPage}
	freeRoot := VersionedLink{PageID: noPage}

	var err error
	for i, path := range []string{"a/1", "a/2", "b/1"} {
		trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars(path), idOf(byte(i+1)))
		require.NoError(t, err)
	}

	matches, err := tr.prefix(trieRoot, "a/")
	require.NoError(t, err)
	var paths []string
	for _, m := range matches {
		if len(m.Path) >= 2 && m.Path[:2] == "a/" {
			paths = append(paths, m.Path)
		}
	}
	require.ElementsMatch(t, []string{"a/1", "a/2"}, paths)

	all, err := tr.prefix(trieRoot, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestTrieDeleteRemovesLeafAndCleansUp(t *testing.T) {
	tr, _ := newTestTrie(t)
	trieRoot := VersionedLink{PageID: noPage}
	freeRoot := VersionedLink{PageID: noPage}

	var err error
	trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars("a/1"), idOf(1))
	require.NoError(t, err)
	trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars("a/2"), idOf(2))
	require.NoError(t, err)

	trieRoot, freeRoot, deleted, err := tr.delete(trieRoot, freeRoot, reverseScalars("a/1"))
	require.NoError(t, err)
	require.True(t, deleted)

	_, found, err := tr.lookup(trieRoot, reverseScalars("a/1"))
	require.NoError(t, err)
	require.False(t, found)

	got, found, err := tr.lookup(trieRoot, reverseScalars("a/2"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, idOf(2), got)

	trieRoot, _, deleted, err = tr.delete(trieRoot, freeRoot, reverseScalars("a/2"))
	require.NoError(t, err)
	require.True(t, deleted)
	require.Equal(t, noPage, trieRoot.PageID, "deleting the last document empties the trie")
}

func TestTrieDeleteMergesSingleChild(t *testing.T) {
	tr, _ := newTestTrie(t)
	trieRoot := VersionedLink{PageID: noPage}
	freeRoot := VersionedLink{PageID: noPage}

	var err error
	trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars("shared/only"), idOf(1))
	require.NoError(t, err)
	// Reversed, "shared/only" is a prefix of "nested/shared/only", so the
	// second key's leaf becomes the only child of the first key's node.
	trieRoot, freeRoot, err = tr.insert(trieRoot, freeRoot, reverseScalars("nested/shared/only"), idOf(2))
	require.NoError(t, err)

	trieRoot, _, deleted, err := tr.delete(trieRoot, freeRoot, reverseScalars("shared/only"))
	require.NoError(t, err)
	require.True(t, deleted)

	got, found, err := tr.lookup(trieRoot, reverseScalars("nested/shared/only"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, idOf(2), got)

	// The emptied node absorbed its single child: the root's only child
	// now carries the whole reversed key and has no children of its own.
	root, err := tr.load(trieRoot.PageID)
	require.NoError(t, err)
	require.Len(t, root.Kids, 1)
	merged, err := tr.load(root.Kids[0].Page)
	require.NoError(t, err)
	require.Equal(t, []rune(reverseScalars("nested/shared/only")), merged.Label)
	require.Empty(t, merged.Kids)
}

func TestReverseScalarsIsUnicodeSafe(t *testing.T) {
	s := "a/日本語/b"
	require.Equal(t, "b/語本日/a", reverseScalars(s))
	require.Equal(t, s, reverseScalars(reverseScalars(s)))
}
