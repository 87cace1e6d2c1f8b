// Package btree implements a disk-backed B+tree whose nodes live in
// buffer-pool pages, using latch crabbing for concurrent traversal and
// mutation. Grounded on the teacher's B+tree package shape and the
// original_source index/b_plus_tree.cpp's algorithm sketch, filled in per
// spec.md §4.4 (the original's Insert/Remove bodies are largely stubs).
package btree

import (
	"sync"

	"github.com/nova-db/novadb/internal/bufferpool"
	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/storage"
)

// Tree is one named B+tree index. rootMu is the process-level mutex
// guarding rootPageID described in spec.md §4.4's crabbing protocol;
// rootPageID is also mirrored into the page-0 header record on every
// change.
type Tree struct {
	pool *bufferpool.Manager
	name string

	rootMu     sync.Mutex
	rootPageID uint32
}

// NewTree opens (or creates) the named index, recovering its root page
// id from the header page if one was already persisted.
func NewTree(pool *bufferpool.Manager, name string) (*Tree, error) {
	_, hp, err := FetchHeaderPage(pool)
	if err != nil {
		return nil, err
	}
	rootID, ok := hp.GetRootPageID(name)
	pool.UnpinPage(HeaderPageID, false)
	if !ok {
		rootID = storage.InvalidPageID
	}
	return &Tree{pool: pool, name: name, rootPageID: rootID}, nil
}

// IsEmpty reports whether the tree currently has no root.
func (t *Tree) IsEmpty() bool {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.rootPageID == storage.InvalidPageID
}

func (t *Tree) persistRoot(insertRecord bool) error {
	_, hp, err := FetchHeaderPage(t.pool)
	if err != nil {
		return err
	}
	if insertRecord {
		hp.InsertRecord(t.name, t.rootPageID)
	} else {
		hp.UpdateRecord(t.name, t.rootPageID)
	}
	t.pool.UnpinPage(HeaderPageID, true)
	return nil
}

// --- GetValue ---

// GetValue returns the rid associated with key, if present. Read
// traversal: lock the root mutex just long enough to fetch and
// read-latch the root, then crab down releasing each parent before
// latching the next child.
func (t *Tree) GetValue(key Key) (heap.TID, bool, error) {
	t.rootMu.Lock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.Unlock()
		return heap.TID{}, false, nil
	}
	pageID := t.rootPageID
	f, err := t.pool.FetchPage(pageID)
	if err != nil {
		t.rootMu.Unlock()
		return heap.TID{}, false, err
	}
	f.Latch.RLock()
	t.rootMu.Unlock()

	for {
		n := node{page: f.Page}
		if n.IsLeaf() {
			leaf := Leaf{n}
			rid, ok := leaf.Lookup(key)
			f.Latch.RUnlock()
			t.pool.UnpinPage(pageID, false)
			return rid, ok, nil
		}
		internal := Internal{n}
		childID := internal.Lookup(key)
		childFrame, err := t.pool.FetchPage(childID)
		if err != nil {
			f.Latch.RUnlock()
			t.pool.UnpinPage(pageID, false)
			return heap.TID{}, false, err
		}
		childFrame.Latch.RLock()
		f.Latch.RUnlock()
		t.pool.UnpinPage(pageID, false)
		f, pageID = childFrame, childID
	}
}

// --- Insert ---

// ancestor is one write-latched page still held along the crabbed path.
type ancestor struct {
	pageID uint32
	frame  *bufferpool.Frame
}

// Insert adds (key, rid). Returns false only for a duplicate key.
func (t *Tree) Insert(key Key, rid heap.TID) (bool, error) {
	t.rootMu.Lock()

	if t.rootPageID == storage.InvalidPageID {
		f, err := t.pool.NewPage()
		if err != nil {
			t.rootMu.Unlock()
			return false, err
		}
		leaf := InitLeaf(f.Page, storage.InvalidPageID)
		leaf.Insert(key, rid)
		t.pool.UnpinPage(f.PageID, true)
		t.rootPageID = f.PageID
		err = t.persistRoot(false)
		t.rootMu.Unlock()
		return true, err
	}

	path, rootMuHeld, err := t.descendForWrite(key, true)
	if err != nil {
		if rootMuHeld {
			t.rootMu.Unlock()
		}
		return false, err
	}

	leafAnc := path[len(path)-1]
	leaf := AsLeaf(leafAnc.frame.Page)

	if _, exists := leaf.Lookup(key); exists {
		t.releasePath(path, rootMuHeld)
		return false, nil
	}

	leaf.Insert(key, rid)
	leafAnc.frame.Dirty = true

	if leaf.Size() <= leaf.MaxSize() {
		t.releasePath(path, rootMuHeld)
		return true, nil
	}

	if err := t.splitLeafAndPropagate(path, rootMuHeld); err != nil {
		return false, err
	}
	return true, nil
}

// descendForWrite crabs from the root to the leaf that should contain
// key, write-latching every node on the way and releasing ancestors as
// soon as a "safe" (won't-split/won't-underflow, per forInsert) node is
// reached. Returns the still-held path (innermost last) and whether
// rootMu is still held.
func (t *Tree) descendForWrite(key Key, forInsert bool) ([]ancestor, bool, error) {
	pageID := t.rootPageID
	f, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, true, err
	}
	f.Latch.Lock()

	path := []ancestor{{pageID: pageID, frame: f}}
	rootMuHeld := true

	isSafe := func(n node) bool {
		if n.IsLeaf() {
			l := Leaf{n}
			if forInsert {
				return l.IsSafeForInsert()
			}
			return l.IsSafeForDelete()
		}
		in := Internal{n}
		if forInsert {
			return in.IsSafeForInsert()
		}
		return in.IsSafeForDelete()
	}

	for {
		n := node{page: f.Page}
		if isSafe(n) {
			t.releaseAncestorsExceptLast(path, rootMuHeld)
			path = path[len(path)-1:]
			rootMuHeld = false
		}
		if n.IsLeaf() {
			return path, rootMuHeld, nil
		}
		internal := Internal{n}
		childID := internal.Lookup(key)
		childFrame, err := t.pool.FetchPage(childID)
		if err != nil {
			return path, rootMuHeld, err
		}
		childFrame.Latch.Lock()
		path = append(path, ancestor{pageID: childID, frame: childFrame})
		f = childFrame
	}
}

// releaseAncestorsExceptLast unlatches and unpins every entry in path
// except the last, and releases rootMu if still held.
func (t *Tree) releaseAncestorsExceptLast(path []ancestor, rootMuHeld bool) {
	for _, a := range path[:len(path)-1] {
		a.frame.Latch.Unlock()
		t.pool.UnpinPage(a.pageID, false)
	}
	if rootMuHeld {
		t.rootMu.Unlock()
	}
}

// releasePath unlatches and unpins every entry in path (innermost last),
// marking each frame's dirty state as already set on Frame.Dirty, and
// releases rootMu if still held.
func (t *Tree) releasePath(path []ancestor, rootMuHeld bool) {
	for i := len(path) - 1; i >= 0; i-- {
		a := path[i]
		dirty := a.frame.Dirty
		a.frame.Latch.Unlock()
		t.pool.UnpinPage(a.pageID, dirty)
	}
	if rootMuHeld {
		t.rootMu.Unlock()
	}
}

// splitLeafAndPropagate splits the overflowed leaf at the end of path
// into a new right sibling, links the leaf list, and calls
// insertIntoParent to propagate the separator upward (recursively
// splitting internals, and growing a new root if the split reaches the
// top of the held path).
func (t *Tree) splitLeafAndPropagate(path []ancestor, rootMuHeld bool) error {
	leafAnc := path[len(path)-1]
	leaf := AsLeaf(leafAnc.frame.Page)

	siblingFrame, err := t.pool.NewPage()
	if err != nil {
		t.releasePath(path, rootMuHeld)
		return err
	}
	siblingFrame.Latch.Lock()
	sibling := InitLeaf(siblingFrame.Page, leaf.ParentPageID())
	leaf.MoveHalfTo(sibling)
	sibling.SetNextLeaf(leaf.NextLeaf())
	leaf.SetNextLeaf(siblingFrame.PageID)
	siblingFrame.Dirty = true

	separator := sibling.KeyAt(0)
	return t.insertIntoParent(path, siblingFrame.PageID, separator, siblingFrame, rootMuHeld)
}

// insertIntoParent installs (separator, newRightPageID) into the parent
// of path's last-but-one entry. If path only holds the single node that
// just split (it had no write-latched parent because the crab already
// released it — it was the root), a new internal root is created above
// both children. Otherwise the parent may itself overflow and split
// recursively, consuming entries of path as it walks upward.
func (t *Tree) insertIntoParent(path []ancestor, newRightPageID uint32, separator Key, newRightFrame *bufferpool.Frame, rootMuHeld bool) error {
	oldNodeAnc := path[len(path)-1]

	if len(path) == 1 {
		// oldNode was the root: grow a new internal root over both halves.
		rootFrame, err := t.pool.NewPage()
		if err != nil {
			oldNodeAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(oldNodeAnc.pageID, true)
			newRightFrame.Latch.Unlock()
			t.pool.UnpinPage(newRightFrame.PageID, false)
			// newRightFrame was allocated for this split attempt only;
			// roll it back rather than leaving an orphan page (spec's
			// partial-state-rollback rule for a failed split).
			_, _ = t.pool.DeletePage(newRightFrame.PageID)
			if rootMuHeld {
				t.rootMu.Unlock()
			}
			return err
		}
		root := InitInternal(rootFrame.Page, storage.InvalidPageID)
		root.SetFirstChild(oldNodeAnc.pageID)
		root.InsertAfter(0, separator, newRightPageID)
		t.pool.UnpinPage(rootFrame.PageID, true)

		node{page: oldNodeAnc.frame.Page}.SetParentPageID(rootFrame.PageID)
		node{page: newRightFrame.Page}.SetParentPageID(rootFrame.PageID)

		oldNodeAnc.frame.Latch.Unlock()
		t.pool.UnpinPage(oldNodeAnc.pageID, true)
		newRightFrame.Latch.Unlock()
		t.pool.UnpinPage(newRightFrame.PageID, true)

		t.rootPageID = rootFrame.PageID
		err = t.persistRoot(false)
		if rootMuHeld {
			t.rootMu.Unlock()
		}
		return err
	}

	parentAnc := path[len(path)-2]
	parent := AsInternal(parentAnc.frame.Page)
	idx := parent.IndexOf(oldNodeAnc.pageID)
	parent.InsertAfter(idx, separator, newRightPageID)
	parentAnc.frame.Dirty = true

	oldNodeAnc.frame.Latch.Unlock()
	t.pool.UnpinPage(oldNodeAnc.pageID, true)
	newRightFrame.Latch.Unlock()
	t.pool.UnpinPage(newRightFrame.PageID, true)

	remaining := path[:len(path)-1]

	if parent.Size() <= parent.MaxSize() {
		t.releasePath(remaining, rootMuHeld)
		return nil
	}

	return t.splitInternalAndPropagate(remaining, rootMuHeld)
}

// splitInternalAndPropagate splits an overflowed internal node at the
// end of path into a new right sibling and recurses into
// insertIntoParent.
func (t *Tree) splitInternalAndPropagate(path []ancestor, rootMuHeld bool) error {
	nodeAnc := path[len(path)-1]
	in := AsInternal(nodeAnc.frame.Page)

	siblingFrame, err := t.pool.NewPage()
	if err != nil {
		t.releasePath(path, rootMuHeld)
		return err
	}
	siblingFrame.Latch.Lock()
	sibling := InitInternal(siblingFrame.Page, in.ParentPageID())
	in.MoveHalfTo(sibling)
	siblingFrame.Dirty = true

	for i := 0; i < sibling.Size(); i++ {
		childID := sibling.ChildAt(i)
		cf, err := t.pool.FetchPage(childID)
		if err == nil {
			node{page: cf.Page}.SetParentPageID(siblingFrame.PageID)
			t.pool.UnpinPage(childID, true)
		}
	}

	separator := sibling.KeyAt(0)
	return t.insertIntoParent(path, siblingFrame.PageID, separator, siblingFrame, rootMuHeld)
}

// --- Remove ---

// Remove deletes key if present; absent keys are a silent no-op per
// spec.md §7.
func (t *Tree) Remove(key Key) error {
	t.rootMu.Lock()
	if t.rootPageID == storage.InvalidPageID {
		t.rootMu.Unlock()
		return nil
	}

	path, rootMuHeld, err := t.descendForWrite(key, false)
	if err != nil {
		if rootMuHeld {
			t.rootMu.Unlock()
		}
		return err
	}

	leafAnc := path[len(path)-1]
	leaf := AsLeaf(leafAnc.frame.Page)
	i, exists := leaf.find(key)
	if !exists {
		t.releasePath(path, rootMuHeld)
		return nil
	}
	leaf.RemoveAt(i)
	leafAnc.frame.Dirty = true

	if len(path) == 1 {
		if leaf.Size() == 0 {
			t.rootPageID = storage.InvalidPageID
			_ = t.persistRoot(false)
			leafAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(leafAnc.pageID, true)
			_, _ = t.pool.DeletePage(leafAnc.pageID)
			if rootMuHeld {
				t.rootMu.Unlock()
			}
			return nil
		}
		t.releasePath(path, rootMuHeld)
		return nil
	}

	if leaf.Size() >= leaf.MinSize() {
		t.releasePath(path, rootMuHeld)
		return nil
	}

	return t.coalesceOrRedistributeLeaf(path, rootMuHeld)
}

// coalesceOrRedistributeLeaf handles an underflowed leaf at the end of
// path: pick a sibling (right if not rightmost, else left), and either
// coalesce (delete one page) or redistribute one entry, per spec.md
// §4.4's Delete algorithm.
func (t *Tree) coalesceOrRedistributeLeaf(path []ancestor, rootMuHeld bool) error {
	nodeAnc := path[len(path)-1]
	leaf := AsLeaf(nodeAnc.frame.Page)
	parentAnc := path[len(path)-2]
	parent := AsInternal(parentAnc.frame.Page)

	idx := parent.IndexOf(nodeAnc.pageID)
	useRight := idx < parent.Size()-1

	var siblingID uint32
	if useRight {
		siblingID = parent.ChildAt(idx + 1)
	} else {
		siblingID = parent.ChildAt(idx - 1)
	}
	siblingFrame, err := t.pool.FetchPage(siblingID)
	if err != nil {
		t.releasePath(path, rootMuHeld)
		return err
	}
	siblingFrame.Latch.Lock()
	sibling := AsLeaf(siblingFrame.Page)

	if leaf.Size()+sibling.Size() <= leaf.MaxSize() {
		// coalesce: move the source (the non-rightmost-preferred
		// direction's node) into the destination, then drop the
		// separator and the vacated page from the parent.
		var removedIdx int
		if useRight {
			sibling.MoveAllTo(leaf)
			leaf.SetNextLeaf(sibling.NextLeaf())
			removedIdx = idx + 1
			t.pool.UnpinPage(siblingID, true)
			_, _ = t.pool.DeletePage(siblingID)
		} else {
			leaf.MoveAllTo(sibling)
			sibling.SetNextLeaf(leaf.NextLeaf())
			removedIdx = idx
			nodeAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(nodeAnc.pageID, true)
			_, _ = t.pool.DeletePage(nodeAnc.pageID)
			siblingFrame.Latch.Unlock()
			t.pool.UnpinPage(siblingID, true)
		}
		if useRight {
			nodeAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(nodeAnc.pageID, true)
		}
		parent.RemoveAt(removedIdx)
		parentAnc.frame.Dirty = true
		return t.afterChildRemoved(path[:len(path)-1], rootMuHeld)
	}

	// redistribute
	if useRight {
		sibling.MoveFirstTo(leaf)
		parent.setKeyAt(idx+1, sibling.KeyAt(0))
	} else {
		sibling.MoveLastTo(leaf)
		parent.setKeyAt(idx, leaf.KeyAt(0))
	}
	parentAnc.frame.Dirty = true
	siblingFrame.Latch.Unlock()
	t.pool.UnpinPage(siblingID, true)
	t.releasePath(path, rootMuHeld)
	return nil
}

// afterChildRemoved handles the parent after one of its children was
// coalesced away: recurse if the parent itself now underflows, or
// collapse the root if it is left with a single child.
func (t *Tree) afterChildRemoved(path []ancestor, rootMuHeld bool) error {
	parentAnc := path[len(path)-1]
	parent := AsInternal(parentAnc.frame.Page)

	if len(path) == 1 {
		if parent.Size() == 1 {
			onlyChild := parent.ChildAt(0)
			t.rootPageID = onlyChild
			_ = t.persistRoot(false)

			cf, err := t.pool.FetchPage(onlyChild)
			if err == nil {
				node{page: cf.Page}.SetParentPageID(storage.InvalidPageID)
				t.pool.UnpinPage(onlyChild, true)
			}
			parentAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(parentAnc.pageID, true)
			_, _ = t.pool.DeletePage(parentAnc.pageID)
			if rootMuHeld {
				t.rootMu.Unlock()
			}
			return nil
		}
		t.releasePath(path, rootMuHeld)
		return nil
	}

	if parent.Size() >= parent.MinSize() {
		t.releasePath(path, rootMuHeld)
		return nil
	}
	return t.coalesceOrRedistributeInternal(path, rootMuHeld)
}

// coalesceOrRedistributeInternal mirrors coalesceOrRedistributeLeaf for
// internal nodes, observing the placeholder-key rule from spec.md §4.4:
// before moving entries across a coalesce, the source's index-0
// placeholder is overwritten with the real parent separator.
func (t *Tree) coalesceOrRedistributeInternal(path []ancestor, rootMuHeld bool) error {
	nodeAnc := path[len(path)-1]
	in := AsInternal(nodeAnc.frame.Page)
	parentAnc := path[len(path)-2]
	parent := AsInternal(parentAnc.frame.Page)

	idx := parent.IndexOf(nodeAnc.pageID)
	useRight := idx < parent.Size()-1

	var siblingID uint32
	if useRight {
		siblingID = parent.ChildAt(idx + 1)
	} else {
		siblingID = parent.ChildAt(idx - 1)
	}
	siblingFrame, err := t.pool.FetchPage(siblingID)
	if err != nil {
		t.releasePath(path, rootMuHeld)
		return err
	}
	siblingFrame.Latch.Lock()
	sibling := AsInternal(siblingFrame.Page)

	if in.Size()+sibling.Size() <= in.MaxSize() {
		var removedIdx int
		if useRight {
			sep := parent.KeyAt(idx + 1)
			t.reparentChildren(sibling, nodeAnc.frame.PageID)
			sibling.MoveAllTo(in, sep)
			removedIdx = idx + 1
			siblingFrame.Latch.Unlock()
			t.pool.UnpinPage(siblingID, true)
			_, _ = t.pool.DeletePage(siblingID)
			nodeAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(nodeAnc.pageID, true)
		} else {
			sep := parent.KeyAt(idx)
			t.reparentChildren(in, siblingFrame.PageID)
			in.MoveAllTo(sibling, sep)
			removedIdx = idx
			nodeAnc.frame.Latch.Unlock()
			t.pool.UnpinPage(nodeAnc.pageID, true)
			_, _ = t.pool.DeletePage(nodeAnc.pageID)
			siblingFrame.Latch.Unlock()
			t.pool.UnpinPage(siblingID, true)
		}
		parent.RemoveAt(removedIdx)
		parentAnc.frame.Dirty = true
		return t.afterChildRemoved(path[:len(path)-1], rootMuHeld)
	}

	if useRight {
		sep := parent.KeyAt(idx + 1)
		movedChild := sibling.ChildAt(0)
		// sibling's entry 1 becomes its new leftmost child's separator once
		// entry 0 is removed; MoveFirstTo resets that slot to the 0
		// placeholder, so the real value must be captured first.
		newSiblingMinKey := sibling.KeyAt(1)
		sibling.MoveFirstTo(in, sep)
		t.reparentChild(movedChild, nodeAnc.pageID)
		parent.setKeyAt(idx+1, newSiblingMinKey)
	} else {
		movedChild := sibling.ChildAt(sibling.Size() - 1)
		// the key on sibling's last entry is the separator marking the
		// start of movedChild's subtree, which becomes in's new minimum;
		// MoveLastTo zeroes that slot once it lands in in, so capture it
		// first.
		newInMinKey := sibling.KeyAt(sibling.Size() - 1)
		sep := parent.KeyAt(idx)
		sibling.MoveLastTo(in, sep)
		t.reparentChild(movedChild, nodeAnc.pageID)
		parent.setKeyAt(idx, newInMinKey)
	}
	parentAnc.frame.Dirty = true
	siblingFrame.Latch.Unlock()
	t.pool.UnpinPage(siblingID, true)
	t.releasePath(path, rootMuHeld)
	return nil
}

func (t *Tree) reparentChildren(parent Internal, newParentID uint32) {
	for i := 0; i < parent.Size(); i++ {
		t.reparentChild(parent.ChildAt(i), newParentID)
	}
}

func (t *Tree) reparentChild(childID, newParentID uint32) {
	cf, err := t.pool.FetchPage(childID)
	if err != nil {
		return
	}
	node{page: cf.Page}.SetParentPageID(newParentID)
	t.pool.UnpinPage(childID, true)
}
