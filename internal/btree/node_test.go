package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/storage"
)

func newTestPage(t *testing.T, pageID uint32) *storage.Page {
	buf := make([]byte, storage.PageSize)
	p, err := storage.NewPage(buf, pageID)
	require.NoError(t, err)
	return p
}

func TestLeafInsertKeepsSortedOrder(t *testing.T) {
	leaf := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)

	require.True(t, leaf.Insert(5, heap.TID{PageID: 1, Slot: 0}))
	require.True(t, leaf.Insert(1, heap.TID{PageID: 1, Slot: 1}))
	require.True(t, leaf.Insert(3, heap.TID{PageID: 1, Slot: 2}))
	require.False(t, leaf.Insert(3, heap.TID{PageID: 9, Slot: 9}))

	require.Equal(t, 3, leaf.Size())
	require.Equal(t, Key(1), leaf.KeyAt(0))
	require.Equal(t, Key(3), leaf.KeyAt(1))
	require.Equal(t, Key(5), leaf.KeyAt(2))
}

func TestLeafLookupFindsExistingKey(t *testing.T) {
	leaf := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)
	leaf.Insert(10, heap.TID{PageID: 2, Slot: 3})

	rid, ok := leaf.Lookup(10)
	require.True(t, ok)
	require.Equal(t, heap.TID{PageID: 2, Slot: 3}, rid)

	_, ok = leaf.Lookup(99)
	require.False(t, ok)
}

func TestLeafExactlyAtMaxSizeDoesNotNeedSplit(t *testing.T) {
	leaf := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)
	for i := 0; i < leaf.MaxSize(); i++ {
		require.True(t, leaf.Insert(Key(i), heap.TID{PageID: 1, Slot: uint16(i)}))
	}
	require.Equal(t, leaf.MaxSize(), leaf.Size())
	require.LessOrEqual(t, leaf.Size(), leaf.MaxSize())
}

func TestLeafOneMoreThanMaxSizeOverflowsIntoReservedSlot(t *testing.T) {
	leaf := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)
	for i := 0; i < leaf.MaxSize(); i++ {
		leaf.Insert(Key(i), heap.TID{PageID: 1, Slot: uint16(i)})
	}
	require.True(t, leaf.Insert(Key(leaf.MaxSize()), heap.TID{PageID: 1, Slot: 99}))
	require.Greater(t, leaf.Size(), leaf.MaxSize())
}

func TestLeafMoveHalfToSplitsEvenlyAndPreservesOrder(t *testing.T) {
	left := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)
	right := InitLeaf(newTestPage(t, 2), storage.InvalidPageID)
	for i := 0; i < 9; i++ {
		left.Insert(Key(i), heap.TID{PageID: 1, Slot: uint16(i)})
	}

	left.MoveHalfTo(right)

	require.Equal(t, 4, left.Size())
	require.Equal(t, 5, right.Size())
	for i := 0; i < left.Size(); i++ {
		require.Equal(t, Key(i), left.KeyAt(i))
	}
	for i := 0; i < right.Size(); i++ {
		require.Equal(t, Key(4+i), right.KeyAt(i))
	}
}

func TestLeafMoveAllToEmptiesSource(t *testing.T) {
	src := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)
	dst := InitLeaf(newTestPage(t, 2), storage.InvalidPageID)
	dst.Insert(1, heap.TID{PageID: 2, Slot: 0})
	dst.Insert(2, heap.TID{PageID: 2, Slot: 1})
	src.Insert(5, heap.TID{PageID: 1, Slot: 0})

	src.MoveAllTo(dst)

	require.Equal(t, 0, src.Size())
	require.Equal(t, 3, dst.Size())
	require.Equal(t, []Key{1, 2, 5}, []Key{dst.KeyAt(0), dst.KeyAt(1), dst.KeyAt(2)})
}

func TestLeafMoveFirstAndLastToRedistribute(t *testing.T) {
	a := InitLeaf(newTestPage(t, 1), storage.InvalidPageID)
	b := InitLeaf(newTestPage(t, 2), storage.InvalidPageID)
	a.Insert(1, heap.TID{})
	a.Insert(2, heap.TID{})
	a.Insert(3, heap.TID{})
	b.Insert(10, heap.TID{})

	a.MoveLastTo(b)
	require.Equal(t, []Key{1, 2}, []Key{a.KeyAt(0), a.KeyAt(1)})
	require.Equal(t, []Key{3, 10}, []Key{b.KeyAt(0), b.KeyAt(1)})

	b.MoveFirstTo(a)
	require.Equal(t, []Key{1, 2, 3}, []Key{a.KeyAt(0), a.KeyAt(1), a.KeyAt(2)})
	require.Equal(t, []Key{10}, []Key{b.KeyAt(0)})
}

func TestInternalLookupRoutesByPlaceholderSemantics(t *testing.T) {
	in := InitInternal(newTestPage(t, 1), storage.InvalidPageID)
	in.SetFirstChild(100)
	in.InsertAfter(0, 10, 200)
	in.InsertAfter(1, 20, 300)

	require.Equal(t, uint32(100), in.Lookup(5))
	require.Equal(t, uint32(100), in.Lookup(9))
	require.Equal(t, uint32(200), in.Lookup(10))
	require.Equal(t, uint32(200), in.Lookup(19))
	require.Equal(t, uint32(300), in.Lookup(20))
	require.Equal(t, uint32(300), in.Lookup(1000))
}

func TestInternalMoveAllToAppliesSeparatorToPlaceholder(t *testing.T) {
	left := InitInternal(newTestPage(t, 1), storage.InvalidPageID)
	right := InitInternal(newTestPage(t, 2), storage.InvalidPageID)
	left.SetFirstChild(1)
	left.InsertAfter(0, 5, 2)
	right.SetFirstChild(3)
	right.InsertAfter(0, 15, 4)

	right.MoveAllTo(left, 10)

	require.Equal(t, 4, left.Size())
	require.Equal(t, uint32(1), left.ChildAt(0))
	require.Equal(t, Key(5), left.KeyAt(1))
	require.Equal(t, uint32(2), left.ChildAt(1))
	require.Equal(t, Key(10), left.KeyAt(2))
	require.Equal(t, uint32(3), left.ChildAt(2))
	require.Equal(t, Key(15), left.KeyAt(3))
	require.Equal(t, uint32(4), left.ChildAt(3))
	require.Equal(t, 0, right.Size())
}

func TestInternalIndexOfFindsChild(t *testing.T) {
	in := InitInternal(newTestPage(t, 1), storage.InvalidPageID)
	in.SetFirstChild(7)
	in.InsertAfter(0, 5, 8)

	require.Equal(t, 0, in.IndexOf(7))
	require.Equal(t, 1, in.IndexOf(8))
	require.Equal(t, -1, in.IndexOf(999))
}
