package storage

import "errors"

const (
	OneKB = 1 << 10
	OneMB = 1 << 20
	OneGB = 1 << 30

	// SegmentSize bounds how many pages live in one on-disk segment file
	// before a new one is opened (Base, Base.1, Base.2, ...).
	SegmentSize = 1 * OneGB

	// PageSize is the fixed unit of disk I/O and buffer-pool allocation.
	// Runtime-variable page sizes are explicitly out of scope.
	PageSize = 4096

	// HeaderSize is the fixed page-header prefix: flags(2) + pageID(4) +
	// lsn(4) + lower(2) + upper(2) + special(2).
	HeaderSize = 16

	// SlotSize is 3 * uint16: offset, length, flags.
	SlotSize = 6

	MaxPagePerSegment = SegmentSize / PageSize
)

const (
	FileMode0644 = 0o644
	FileMode0664 = 0o664
	FileMode0755 = 0o755
)

// InvalidPageID is the sentinel for "no page."
const InvalidPageID uint32 = 0xFFFFFFFF

// InvalidLSN is the sentinel for "no LSN assigned."
const InvalidLSN int64 = -1

var (
	ErrWriteExceedPageSize = errors.New("storage: write would exceed page size")
	ErrReadExceedPageSize  = errors.New("storage: read would exceed page size")
	ErrPageCorrupted       = errors.New("storage: page is corrupted")
	ErrInvalidOperation    = errors.New("storage: invalid operation")
)
