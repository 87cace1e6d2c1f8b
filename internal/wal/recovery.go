package wal

import (
	"log/slog"

	"github.com/nova-db/novadb/internal/bufferpool"
	"github.com/nova-db/novadb/internal/storage"
)

// Pool is the slice of bufferpool.Manager recovery needs to fetch, stamp,
// and allocate pages during redo.
type Pool interface {
	FetchPage(pid uint32) (*bufferpool.Frame, error)
	UnpinPage(pid uint32, isDirty bool) bool
	NewPage() (*bufferpool.Frame, error)
}

// PageAllocator is the subset of the disk manager recovery needs to decide
// whether a NEWPAGE record's page ever made it to disk.
type PageAllocator interface {
	CheckPageValid(pageID uint32) bool
}

// Recovery performs the REDO-only crash recovery scan described in
// spec.md: no UNDO phase exists. In-progress transactions are discovered
// via ActiveTxn but never rolled back here — recovery brings the buffer
// pool back to a consistent durable state and leaves any necessary abort
// bookkeeping to the transaction manager that runs after recovery.
type Recovery struct {
	pool Pool
	disk PageAllocator
	log  *slog.Logger

	// ActiveTxn maps txn id to the LSN of its most recent (non-COMMIT) log
	// record once the scan completes. A transaction present here never
	// reached COMMIT before the crash.
	ActiveTxn map[int64]int64
}

func NewRecovery(pool Pool, disk PageAllocator) *Recovery {
	return &Recovery{
		pool:      pool,
		disk:      disk,
		log:       slog.Default().With("component", "wal-recovery"),
		ActiveTxn: make(map[int64]int64),
	}
}

// Redo scans the entire log file sequentially and replays every record
// whose effect has not yet reached disk (record LSN > page's on-disk LSN),
// grounded on the original log_recovery.cpp single-pass Redo. Unlike the
// original, which streams a fixed-size buffer and re-reads on a record
// spanning a block boundary, this scan holds the whole log file in memory
// (ReadLog returns it in one call), so a short trailing record can only
// mean a crash mid-append — the scan simply stops there.
func (r *Recovery) Redo(disk Disk) error {
	data, err := disk.ReadLog()
	if err != nil {
		return err
	}

	off := 0
	for off < len(data) {
		rec, n, err := Deserialize(data[off:])
		if err != nil {
			if err == ErrShortRecord || err == ErrChecksumMismatch {
				// A torn tail write looks identical to a short read: stop
				// the scan rather than treating it as corruption earlier
				// in the file.
				break
			}
			return err
		}
		off += n

		if rec.Type == Commit {
			delete(r.ActiveTxn, rec.TxnID)
		} else {
			r.ActiveTxn[rec.TxnID] = rec.LSN
		}

		if err := r.replay(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recovery) replay(rec *Record) error {
	switch rec.Type {
	case Begin, Commit, Abort:
		return nil
	case Insert:
		return r.redoOnPage(rec.RID.PageID, rec.LSN, func(p *storage.Page) error {
			_, err := p.InsertTuple(rec.Tuple)
			return err
		})
	case Update:
		return r.redoOnPage(rec.RID.PageID, rec.LSN, func(p *storage.Page) error {
			return p.UpdateTuple(int(rec.RID.Slot), rec.NewTuple)
		})
	case MarkDelete:
		return r.redoOnPage(rec.RID.PageID, rec.LSN, func(p *storage.Page) error {
			return p.MarkDelete(int(rec.RID.Slot))
		})
	case ApplyDelete:
		return r.redoOnPage(rec.RID.PageID, rec.LSN, func(p *storage.Page) error {
			return p.ApplyDelete(int(rec.RID.Slot))
		})
	case RollbackDelete:
		return r.redoOnPage(rec.RID.PageID, rec.LSN, func(p *storage.Page) error {
			return p.RollbackDelete(int(rec.RID.Slot))
		})
	case NewPage:
		return r.redoNewPage(rec)
	default:
		return nil
	}
}

// redoOnPage fetches pageID, skips the redo if the page's on-disk LSN
// already covers this record, otherwise reapplies fn and stamps the LSN.
func (r *Recovery) redoOnPage(pageID uint32, lsn int64, fn func(*storage.Page) error) error {
	f, err := r.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	if lsn <= f.Page.LSN() {
		r.pool.UnpinPage(pageID, false)
		return nil
	}
	if err := fn(f.Page); err != nil {
		r.pool.UnpinPage(pageID, false)
		r.log.Warn("redo failed", "page", pageID, "lsn", lsn, "error", err)
		return nil
	}
	f.Page.SetLSN(lsn)
	r.pool.UnpinPage(pageID, true)
	return nil
}

// redoNewPage allocates a fresh page through the pool when CheckPageValid
// reports that rec.PageID was never allocated; the page gets the
// allocator's next id, which is not checked against rec.PageID. If the
// page was allocated, its on-disk LSN is already >= this record's by
// construction and nothing is done.
func (r *Recovery) redoNewPage(rec *Record) error {
	if r.disk.CheckPageValid(rec.PageID) {
		return nil
	}
	f, err := r.pool.NewPage()
	if err != nil {
		return err
	}
	r.pool.UnpinPage(f.PageID, true)
	return nil
}
