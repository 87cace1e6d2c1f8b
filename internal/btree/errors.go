package btree

import "errors"

var (
	ErrDuplicateKey  = errors.New("btree: key already exists")
	ErrOutOfMemory   = errors.New("btree: buffer pool has no free frame")
	ErrCorruptedNode = errors.New("btree: node header is corrupted")
)
