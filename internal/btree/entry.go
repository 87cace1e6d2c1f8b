package btree

import "github.com/nova-db/novadb/internal/heap"

// Key is the B+tree's key type. The spec's literal end-to-end scenarios
// all key on plain integers, so the tree is specialized to int64 rather
// than parameterized over a comparator — a generic GenericKey<N> byte
// array, as the original carries, has no counterpart worth reproducing
// once the key type is concrete.
type Key = int64

// leafEntry is one (key, rid) pair stored in a leaf node.
type leafEntry struct {
	Key Key
	RID heap.TID
}

// internalEntry is one (key, child page id) pair stored in an internal
// node. Index 0's Key is the placeholder described in spec.md §4.4 and is
// never consulted during routing.
type internalEntry struct {
	Key   Key
	Child uint32
}
