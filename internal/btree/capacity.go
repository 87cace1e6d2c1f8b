package btree

import "github.com/nova-db/novadb/internal/storage"

// nodeHeaderSize is the fixed B+tree node header living just after
// storage.Page's own 16-byte common header (flags/pageid/lsn/lower/
// upper/special, of which the tree reads only the page id): isLeaf(1) + pad(1) +
// size(2) + maxSize(2) + parentPageID(4) + nextLeaf(4) = 14, rounded to
// 16 for clean entry alignment.
const nodeHeaderSize = 16

// headerOffset is where the B+tree header begins inside the page buffer,
// right after storage's common header.
const headerOffset = storage.HeaderSize

const entriesOffset = headerOffset + nodeHeaderSize

// leafEntrySize is key(8) + RID{PageID(4)+Slot(2)} = 14 bytes.
const leafEntrySize = 14

// internalEntrySize is key(8) + child page id(4) = 12 bytes.
const internalEntrySize = 12

// physicalLeafCapacity/physicalInternalCapacity are how many entries
// actually fit in the page buffer. maxLeafSize/maxInternalSize (the
// "logical" max a node is allowed to hold before a split is triggered)
// reserve one slot below that: Insert always writes the new entry first
// and lets the node temporarily overflow to physical capacity, so the
// caller can decide the split point by inspecting the now-oversized node
// rather than having to pre-compute where a (maxSize+1)-th entry would
// have landed. Derived once from storage.PageSize and the header size,
// per spec.md §4.4.
var (
	physicalLeafCapacity     = (storage.PageSize - entriesOffset) / leafEntrySize
	physicalInternalCapacity = (storage.PageSize - entriesOffset) / internalEntrySize

	maxLeafSize     = physicalLeafCapacity - 1
	maxInternalSize = physicalInternalCapacity - 1
)
