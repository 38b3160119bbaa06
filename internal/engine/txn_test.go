package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxnViewReadsOwnUncommittedWrites(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	id, err := pgr.grow(1)
	require.NoError(t, err)
	require.NoError(t, pgr.writePage(id, []byte("original"), 1, FlagData, noPage, noPage))

	view := newTxnView(pgr)
	require.NoError(t, view.writePage(id, []byte("buffered"), 2, FlagData, noPage, noPage))

	// Reading through the view sees the buffered write; reading through
	// the real pager directly still sees the original (spec.md §4.6:
	// nothing reaches the file until commit).
	got, hdr, err := view.readPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("buffered"), got)
	require.Equal(t, uint32(2), hdr.Version)

	realGot, _, err := pgr.readPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), realGot)
}

func TestTxnViewReplayAppliesWritesInOrder(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	id, err := pgr.grow(1)
	require.NoError(t, err)

	view := newTxnView(pgr)
	require.NoError(t, view.writePage(id, []byte("first"), 1, FlagData, noPage, noPage))
	require.NoError(t, view.writePage(id, []byte("second"), 2, FlagData, noPage, noPage))

	require.NoError(t, view.replay())

	got, hdr, err := pgr.readPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
	require.Equal(t, uint32(2), hdr.Version)
}

func TestTxnViewUnbufferedReadFallsThroughToReal(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	id, err := pgr.grow(1)
	require.NoError(t, err)
	require.NoError(t, pgr.writePage(id, []byte("untouched"), 1, FlagData, noPage, noPage))

	view := newTxnView(pgr)
	got, _, err := view.readPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("untouched"), got)
}

func TestBeginTxnCarriesStartingRoots(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	startIndex := VersionedLink{PageID: 3, Version: 1}
	startTrie := VersionedLink{PageID: 4, Version: 1}
	startFree := VersionedLink{PageID: 5, Version: 1}

	txn := beginTxn(7, pgr, startIndex, startTrie, startFree)
	require.Equal(t, uint64(7), txn.id)
	require.Equal(t, startIndex, txn.indexRoot)
	require.Equal(t, startTrie, txn.trieRoot)
	require.Equal(t, startFree, txn.freeRoot)
}
