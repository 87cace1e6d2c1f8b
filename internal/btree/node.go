package btree

import (
	"github.com/nova-db/novadb/internal/alias/bx"
	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/storage"
)

// Header field offsets, relative to the page buffer (see capacity.go for
// headerOffset/entriesOffset).
const (
	offIsLeaf = headerOffset + 0
	offSize   = headerOffset + 2
	offMax    = headerOffset + 4
	offParent = headerOffset + 6
	offNext   = headerOffset + 10 // leaf-only: next leaf page id
)

// node wraps a storage.Page with the shared header every B+tree node
// carries, regardless of leaf/internal kind.
type node struct {
	page *storage.Page
}

func (n node) IsLeaf() bool {
	return n.page.Buf[offIsLeaf] != 0
}

func (n node) setIsLeaf(v bool) {
	if v {
		n.page.Buf[offIsLeaf] = 1
	} else {
		n.page.Buf[offIsLeaf] = 0
	}
}

func (n node) Size() int {
	return int(bx.U16At(n.page.Buf, offSize))
}

func (n node) setSize(v int) {
	bx.PutU16At(n.page.Buf, offSize, uint16(v))
}

func (n node) MaxSize() int {
	return int(bx.U16At(n.page.Buf, offMax))
}

func (n node) setMaxSize(v int) {
	bx.PutU16At(n.page.Buf, offMax, uint16(v))
}

func (n node) ParentPageID() uint32 {
	return bx.U32At(n.page.Buf, offParent)
}

func (n node) SetParentPageID(v uint32) {
	bx.PutU32At(n.page.Buf, offParent, v)
}

func (n node) PageID() uint32 { return n.page.PageID() }

// IsRoot reports whether this node has no parent.
func (n node) IsRoot() bool { return n.ParentPageID() == storage.InvalidPageID }

// MinSize is the minimum occupancy a non-root node must hold:
// ceil(max/2) entries. Below this the node is a coalesce/redistribute
// candidate (spec.md §4.4 Delete).
func (n node) MinSize() int {
	max := n.MaxSize()
	return (max + 1) / 2
}

// --- leaf node ---

// Leaf is a B+tree leaf: sorted (key, rid) entries plus a next-leaf link.
type Leaf struct {
	node
}

func AsLeaf(p *storage.Page) Leaf { return Leaf{node{page: p}} }

func (l Leaf) NextLeaf() uint32 {
	return bx.U32At(l.page.Buf, offNext)
}

func (l Leaf) SetNextLeaf(v uint32) {
	bx.PutU32At(l.page.Buf, offNext, v)
}

// InitLeaf initializes a fresh page as an empty leaf with the given
// parent (storage.InvalidPageID for a new root).
func InitLeaf(p *storage.Page, parent uint32) Leaf {
	l := Leaf{node{page: p}}
	l.setIsLeaf(true)
	l.setSize(0)
	l.setMaxSize(maxLeafSize)
	l.SetParentPageID(parent)
	l.SetNextLeaf(storage.InvalidPageID)
	return l
}

func (l Leaf) entryOffset(i int) int {
	return entriesOffset + i*leafEntrySize
}

func (l Leaf) EntryAt(i int) leafEntry {
	off := l.entryOffset(i)
	key := int64(bx.U64At(l.page.Buf, off))
	pid := bx.U32At(l.page.Buf, off+8)
	slot := bx.U16At(l.page.Buf, off+12)
	return leafEntry{Key: key, RID: heap.TID{PageID: pid, Slot: slot}}
}

func (l Leaf) setEntryAt(i int, e leafEntry) {
	off := l.entryOffset(i)
	bx.PutU64At(l.page.Buf, off, uint64(e.Key))
	bx.PutU32At(l.page.Buf, off+8, e.RID.PageID)
	bx.PutU16At(l.page.Buf, off+12, e.RID.Slot)
}

// KeyAt returns entry i's key.
func (l Leaf) KeyAt(i int) Key { return l.EntryAt(i).Key }

// find returns (index of key, true), or (insertion point, false) if absent,
// via binary search over the sorted entries.
func (l Leaf) find(key Key) (int, bool) {
	lo, hi := 0, l.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		k := l.KeyAt(mid)
		switch {
		case k == key:
			return mid, true
		case k < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// Lookup returns the RID for key, if present.
func (l Leaf) Lookup(key Key) (heap.TID, bool) {
	i, ok := l.find(key)
	if !ok {
		return heap.TID{}, false
	}
	return l.EntryAt(i).RID, true
}

// Insert inserts (key, rid) in sorted order. Returns false only if key
// already exists. The node may grow one entry past MaxSize() — up to
// physicalLeafCapacity, which InitLeaf's reserved slot (see capacity.go)
// guarantees always fits — leaving the split decision to the caller, who
// checks Size() > MaxSize() afterward.
func (l Leaf) Insert(key Key, rid heap.TID) bool {
	i, exists := l.find(key)
	if exists {
		return false
	}
	size := l.Size()
	if size >= physicalLeafCapacity {
		return false
	}
	for j := size; j > i; j-- {
		l.setEntryAt(j, l.EntryAt(j-1))
	}
	l.setEntryAt(i, leafEntry{Key: key, RID: rid})
	l.setSize(size + 1)
	return true
}

// RemoveAt deletes the entry at index i, shifting later entries left.
func (l Leaf) RemoveAt(i int) {
	size := l.Size()
	for j := i; j < size-1; j++ {
		l.setEntryAt(j, l.EntryAt(j+1))
	}
	l.setSize(size - 1)
}

// IsFull reports whether one more insert would overflow the leaf.
func (l Leaf) IsFull() bool { return l.Size() >= l.MaxSize() }

// IsSafeForInsert reports whether the leaf has room without splitting.
func (l Leaf) IsSafeForInsert() bool { return l.Size() < l.MaxSize() }

// IsSafeForDelete reports whether the leaf can lose one entry without
// underflowing below MinSize (root leaves are always "safe": they simply
// collapse the tree instead of coalescing).
func (l Leaf) IsSafeForDelete() bool {
	return l.IsRoot() || l.Size() > l.MinSize()
}

// MoveHalfTo moves the back half of l's entries into dst, used on split.
func (l Leaf) MoveHalfTo(dst Leaf) {
	size := l.Size()
	mid := size / 2
	for i := mid; i < size; i++ {
		dst.setEntryAt(i-mid, l.EntryAt(i))
	}
	dst.setSize(size - mid)
	l.setSize(mid)
}

// MoveAllTo appends all of l's entries onto the end of dst, used on
// coalesce when l is the source being emptied into dst.
func (l Leaf) MoveAllTo(dst Leaf) {
	base := dst.Size()
	for i := 0; i < l.Size(); i++ {
		dst.setEntryAt(base+i, l.EntryAt(i))
	}
	dst.setSize(base + l.Size())
	l.setSize(0)
}

// MoveFirstTo pops l's first entry onto the end of dst (redistribute:
// sibling is to the right of dst).
func (l Leaf) MoveFirstTo(dst Leaf) {
	e := l.EntryAt(0)
	l.RemoveAt(0)
	dst.setEntryAt(dst.Size(), e)
	dst.setSize(dst.Size() + 1)
}

// MoveLastTo pops l's last entry onto the front of dst (redistribute:
// sibling is to the left of dst).
func (l Leaf) MoveLastTo(dst Leaf) {
	last := l.Size() - 1
	e := l.EntryAt(last)
	l.RemoveAt(last)
	for j := dst.Size(); j > 0; j-- {
		dst.setEntryAt(j, dst.EntryAt(j-1))
	}
	dst.setEntryAt(0, e)
	dst.setSize(dst.Size() + 1)
}

// --- internal node ---

// Internal is a B+tree internal node: size+1 children routed by size
// keys, where index 0's key is an unused placeholder (spec.md §4.4).
type Internal struct {
	node
}

func AsInternal(p *storage.Page) Internal { return Internal{node{page: p}} }

// InitInternal initializes a fresh page as an empty internal node.
func InitInternal(p *storage.Page, parent uint32) Internal {
	n := Internal{node{page: p}}
	n.setIsLeaf(false)
	n.setSize(0)
	n.setMaxSize(maxInternalSize)
	n.SetParentPageID(parent)
	return n
}

func (n Internal) entryOffset(i int) int {
	return entriesOffset + i*internalEntrySize
}

func (n Internal) EntryAt(i int) internalEntry {
	off := n.entryOffset(i)
	key := int64(bx.U64At(n.page.Buf, off))
	child := bx.U32At(n.page.Buf, off+8)
	return internalEntry{Key: key, Child: child}
}

func (n Internal) setEntryAt(i int, e internalEntry) {
	off := n.entryOffset(i)
	bx.PutU64At(n.page.Buf, off, uint64(e.Key))
	bx.PutU32At(n.page.Buf, off+8, e.Child)
}

func (n Internal) KeyAt(i int) Key { return n.EntryAt(i).Key }

func (n Internal) ChildAt(i int) uint32 { return n.EntryAt(i).Child }

func (n Internal) setKeyAt(i int, k Key) {
	e := n.EntryAt(i)
	e.Key = k
	n.setEntryAt(i, e)
}

// SetFirstChild installs the lone child of a freshly created root/internal
// with no routing key yet (placeholder key at index 0).
func (n Internal) SetFirstChild(child uint32) {
	n.setEntryAt(0, internalEntry{Key: 0, Child: child})
	n.setSize(1)
}

// Lookup routes key to the child page id it belongs under: the largest
// index i such that key >= KeyAt(i), per the placeholder-at-0 semantics
// in spec.md §4.4.
func (n Internal) Lookup(key Key) uint32 {
	lo, hi := 1, n.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.KeyAt(mid) <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return n.ChildAt(lo - 1)
}

// IndexOf returns the index of childID among this node's children, or -1.
func (n Internal) IndexOf(childID uint32) int {
	for i := 0; i < n.Size(); i++ {
		if n.ChildAt(i) == childID {
			return i
		}
	}
	return -1
}

// InsertAfter inserts (key, child) immediately after the entry at index
// idx, shifting later entries right. Used to add a new sibling produced
// by a split; like Leaf.Insert, may grow one entry past MaxSize() into
// the reserved slot, leaving the split decision to the caller.
func (n Internal) InsertAfter(idx int, key Key, child uint32) bool {
	size := n.Size()
	if size >= physicalInternalCapacity {
		return false
	}
	for j := size; j > idx+1; j-- {
		n.setEntryAt(j, n.EntryAt(j-1))
	}
	n.setEntryAt(idx+1, internalEntry{Key: key, Child: child})
	n.setSize(size + 1)
	return true
}

// RemoveAt deletes the entry at index i, shifting later entries left.
func (n Internal) RemoveAt(i int) {
	size := n.Size()
	for j := i; j < size-1; j++ {
		n.setEntryAt(j, n.EntryAt(j+1))
	}
	n.setSize(size - 1)
}

func (n Internal) IsFull() bool { return n.Size() >= n.MaxSize() }

func (n Internal) IsSafeForInsert() bool { return n.Size() < n.MaxSize() }

func (n Internal) IsSafeForDelete() bool {
	return n.IsRoot() || n.Size() > n.MinSize()
}

// MoveHalfTo moves the back half of n's entries into dst, used on split.
// The placeholder semantics are preserved: dst's index 0 keeps whatever
// key accompanied the first moved entry; the split code passes that key up
// as the separator and leaves it in dst's slot 0, where it is not used for
// routing.
func (n Internal) MoveHalfTo(dst Internal) {
	size := n.Size()
	mid := size / 2
	for i := mid; i < size; i++ {
		dst.setEntryAt(i-mid, n.EntryAt(i))
	}
	dst.setSize(size - mid)
	n.setSize(mid)
}

// MoveAllTo appends all of n's entries onto the end of dst, used on
// coalesce. separatorKey replaces the source's placeholder key at index
// 0 before the move, per spec.md §4.4's internal-coalesce rule.
func (n Internal) MoveAllTo(dst Internal, separatorKey Key) {
	n.setKeyAt(0, separatorKey)
	base := dst.Size()
	for i := 0; i < n.Size(); i++ {
		dst.setEntryAt(base+i, n.EntryAt(i))
	}
	dst.setSize(base + n.Size())
	n.setSize(0)
}

// MoveFirstTo pops n's first entry onto the end of dst, giving the moved
// entry parentSeparator as its key in dst and zeroing n's new first-entry
// placeholder key (redistribute: sibling is to the right of dst).
func (n Internal) MoveFirstTo(dst Internal, parentSeparator Key) {
	e := n.EntryAt(0)
	e.Key = parentSeparator
	n.RemoveAt(0)
	n.setKeyAt(0, 0)
	dst.setEntryAt(dst.Size(), e)
	dst.setSize(dst.Size() + 1)
}

// MoveLastTo pops n's last entry onto the front of dst, using
// parentSeparator as dst's new placeholder-overwritten routing key for
// the entry that used to be dst's index 0 (redistribute: sibling is to
// the left of dst).
func (n Internal) MoveLastTo(dst Internal, parentSeparator Key) {
	last := n.Size() - 1
	moved := n.EntryAt(last)
	n.RemoveAt(last)

	dst.setKeyAt(0, parentSeparator)
	for j := dst.Size(); j > 0; j-- {
		dst.setEntryAt(j, dst.EntryAt(j-1))
	}
	moved.Key = 0
	dst.setEntryAt(0, moved)
	dst.setSize(dst.Size() + 1)
}
