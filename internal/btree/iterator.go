package btree

import (
	"github.com/nova-db/novadb/internal/bufferpool"
	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/storage"
)

// Iterator is a forward cursor over a leaf's entries, crossing into the
// next leaf via the sibling link once the current one is exhausted. The
// original unpins its held leaf "on destruction"; Go has no destructors,
// so callers must call Close explicitly (deferring it is the idiomatic
// equivalent) once they stop iterating before reaching the end.
type Iterator struct {
	pool  *bufferpool.Manager
	frame *bufferpool.Frame
	leaf  Leaf
	idx   int
	done  bool
}

// Begin returns an iterator positioned at the first entry of the
// leftmost leaf.
func (t *Tree) Begin() (*Iterator, error) {
	t.rootMu.Lock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.Unlock()
		return &Iterator{done: true}, nil
	}
	pageID := t.rootPageID
	f, err := t.pool.FetchPage(pageID)
	if err != nil {
		t.rootMu.Unlock()
		return nil, err
	}
	f.Latch.RLock()
	t.rootMu.Unlock()

	for {
		n := node{page: f.Page}
		if n.IsLeaf() {
			it := &Iterator{pool: t.pool, frame: f, leaf: Leaf{n}, idx: 0}
			f.Latch.RUnlock()
			it.done = it.leaf.Size() == 0
			return it, nil
		}
		internal := Internal{n}
		childID := internal.ChildAt(0)
		cf, err := t.pool.FetchPage(childID)
		if err != nil {
			f.Latch.RUnlock()
			t.pool.UnpinPage(pageID, false)
			return nil, err
		}
		cf.Latch.RLock()
		f.Latch.RUnlock()
		t.pool.UnpinPage(pageID, false)
		f, pageID = cf, childID
	}
}

// BeginAt returns an iterator positioned at the first entry whose key is
// >= key.
func (t *Tree) BeginAt(key Key) (*Iterator, error) {
	t.rootMu.Lock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.Unlock()
		return &Iterator{done: true}, nil
	}
	pageID := t.rootPageID
	f, err := t.pool.FetchPage(pageID)
	if err != nil {
		t.rootMu.Unlock()
		return nil, err
	}
	f.Latch.RLock()
	t.rootMu.Unlock()

	for {
		n := node{page: f.Page}
		if n.IsLeaf() {
			leaf := Leaf{n}
			idx, _ := leaf.find(key)
			it := &Iterator{pool: t.pool, frame: f, leaf: leaf, idx: idx}
			f.Latch.RUnlock()
			if idx >= leaf.Size() {
				it.idx = leaf.Size() - 1
				if err := it.Next(); err != nil {
					it.Close()
					return nil, err
				}
			}
			return it, nil
		}
		internal := Internal{n}
		childID := internal.Lookup(key)
		cf, err := t.pool.FetchPage(childID)
		if err != nil {
			f.Latch.RUnlock()
			t.pool.UnpinPage(pageID, false)
			return nil, err
		}
		cf.Latch.RLock()
		f.Latch.RUnlock()
		t.pool.UnpinPage(pageID, false)
		f, pageID = cf, childID
	}
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool { return it.done }

// Entry returns the (key, rid) pair currently under the cursor.
func (it *Iterator) Entry() (Key, heap.TID) {
	e := it.leaf.EntryAt(it.idx)
	return e.Key, e.RID
}

// Next advances the cursor, crossing into the sibling leaf as needed and
// unpinning the leaf that was just exhausted.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.idx++
	if it.idx < it.leaf.Size() {
		return nil
	}

	nextID := it.leaf.NextLeaf()
	prevFrame, prevPageID := it.frame, it.leaf.PageID()
	if nextID == storage.InvalidPageID {
		it.done = true
		if prevFrame != nil {
			it.pool.UnpinPage(prevPageID, false)
		}
		it.frame = nil
		return nil
	}

	cf, err := it.pool.FetchPage(nextID)
	if err != nil {
		return err
	}
	cf.Latch.RLock()
	leaf := AsLeaf(cf.Page)
	cf.Latch.RUnlock()

	it.frame = cf
	it.leaf = leaf
	it.idx = 0
	if prevFrame != nil {
		it.pool.UnpinPage(prevPageID, false)
	}
	it.done = leaf.Size() == 0
	return nil
}

// Close releases the leaf this iterator still holds pinned. Safe to call
// on an already-exhausted or empty iterator.
func (it *Iterator) Close() {
	if it.frame == nil {
		return
	}
	it.pool.UnpinPage(it.leaf.PageID(), false)
	it.frame = nil
	it.done = true
}
