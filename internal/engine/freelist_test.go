package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeListPushPopRoundTrip(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	fl := freeList{pager: pgr, cfg: cfg}

	a, err := pgr.grow(1)
	require.NoError(t, err)
	b, err := pgr.grow(1)
	require.NoError(t, err)

	root := VersionedLink{PageID: noPage}
	root, err = fl.push(root, a)
	require.NoError(t, err)
	root, err = fl.push(root, b)
	require.NoError(t, err)

	id1, root, err := fl.pop(root)
	require.NoError(t, err)
	require.Equal(t, b, id1, "pop is LIFO")

	id2, root, err := fl.pop(root)
	require.NoError(t, err)
	require.Equal(t, a, id2)

	_, _, err = fl.pop(root)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFreeListDrainedNodeBecomesAllocation(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	fl := freeList{pager: pgr, cfg: cfg}

	a, err := pgr.grow(1)
	require.NoError(t, err)

	root := VersionedLink{PageID: noPage}
	root, err = fl.push(root, a)
	require.NoError(t, err)

	// a is now both the head node and the pool's only entry; draining
	// it must hand back a itself, not leak it.
	popped, root, err := fl.pop(root)
	require.NoError(t, err)
	require.Equal(t, a, popped)

	_, _, err = fl.pop(root)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAllocatorGrowsOnEmptyFreeList(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	alloc := newAllocator(pgr, pgr, cfg)

	root := VersionedLink{PageID: noPage}
	id, root, err := alloc.allocate(root)
	require.NoError(t, err)
	require.Equal(t, firstAllocatablePage, id)

	root, err = alloc.release(root, id)
	require.NoError(t, err)

	id2, _, err := alloc.allocate(root)
	require.NoError(t, err)
	require.Equal(t, id, id2, "a released page must be reused before growing again")
}

func TestAllocatorBatchGrowAfterRepeatedEmptyFreeList(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)
	alloc := newAllocator(pgr, pgr, cfg)

	root := VersionedLink{PageID: noPage}
	var lastID pageID
	for i := 0; i < MaxConsecutiveEmptyFreeList; i++ {
		id, newRoot, err := alloc.allocate(root)
		require.NoError(t, err)
		root = newRoot
		lastID = id
	}
	// Page 0 is reserved for the superblock, so allocation starts at
	// firstAllocatablePage. The first MaxConsecutiveEmptyFreeList-1
	// calls grow by a single page each; the call that brings the empty
	// streak to MaxConsecutiveEmptyFreeList triggers a batch grow
	// instead, whose first id continues the same sequence.
	require.Equal(t, firstAllocatablePage+pageID(MaxConsecutiveEmptyFreeList-1), lastID)
	require.Equal(t, int64(firstAllocatablePage)+int64(MaxConsecutiveEmptyFreeList-1+BatchGrowPages), pgr.pageCount())
}
