// Package heap provides the row-identity type and a table-page layer that
// wraps storage.Page with buffer-pool fetch/unpin semantics for normal
// operation.
package heap

import (
	"github.com/nova-db/novadb/internal/bufferpool"
)

// Pool is the slice of bufferpool.Manager the table layer drives.
type Pool interface {
	FetchPage(pid uint32) (*bufferpool.Frame, error)
	UnpinPage(pid uint32, isDirty bool) bool
	NewPage() (*bufferpool.Frame, error)
}

// Table is a thin RID-addressed wrapper over the buffer pool: every mutator
// fetches the owning page, applies the storage.Page primitive, stamps the
// page's LSN, marks it dirty, and unpins it. WAL redo does not go through
// Table: wal.Recovery calls the same storage.Page primitives directly on
// the page it fetched.
type Table struct {
	pool Pool
}

func NewTable(pool Pool) *Table {
	return &Table{pool: pool}
}

// InsertTuple inserts tup into pageID, stamping lsn, and returns the new RID.
func (t *Table) InsertTuple(pageID uint32, tup []byte, lsn int64) (TID, error) {
	f, err := t.pool.FetchPage(pageID)
	if err != nil {
		return TID{}, err
	}
	slot, err := f.Page.InsertTuple(tup)
	if err != nil {
		t.pool.UnpinPage(pageID, false)
		return TID{}, err
	}
	f.Page.SetLSN(lsn)
	t.pool.UnpinPage(pageID, true)
	return TID{PageID: pageID, Slot: uint16(slot)}, nil
}

// ReadTuple returns the tuple at rid without pinning it across the call.
func (t *Table) ReadTuple(rid TID) ([]byte, error) {
	f, err := t.pool.FetchPage(rid.PageID)
	if err != nil {
		return nil, err
	}
	defer t.pool.UnpinPage(rid.PageID, false)
	return f.Page.ReadTuple(int(rid.Slot))
}

// UpdateTuple replaces rid's tuple with newTuple, stamping lsn.
func (t *Table) UpdateTuple(rid TID, newTuple []byte, lsn int64) error {
	f, err := t.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	if err := f.Page.UpdateTuple(int(rid.Slot), newTuple); err != nil {
		t.pool.UnpinPage(rid.PageID, false)
		return err
	}
	f.Page.SetLSN(lsn)
	t.pool.UnpinPage(rid.PageID, true)
	return nil
}

// MarkDelete soft-deletes rid, stamping lsn.
func (t *Table) MarkDelete(rid TID, lsn int64) error {
	f, err := t.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	if err := f.Page.MarkDelete(int(rid.Slot)); err != nil {
		t.pool.UnpinPage(rid.PageID, false)
		return err
	}
	f.Page.SetLSN(lsn)
	t.pool.UnpinPage(rid.PageID, true)
	return nil
}

// ApplyDelete permanently removes rid's marked-deleted slot, stamping lsn.
func (t *Table) ApplyDelete(rid TID, lsn int64) error {
	f, err := t.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	if err := f.Page.ApplyDelete(int(rid.Slot)); err != nil {
		t.pool.UnpinPage(rid.PageID, false)
		return err
	}
	f.Page.SetLSN(lsn)
	t.pool.UnpinPage(rid.PageID, true)
	return nil
}

// RollbackDelete undoes a MarkDelete on rid, stamping lsn.
func (t *Table) RollbackDelete(rid TID, lsn int64) error {
	f, err := t.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	if err := f.Page.RollbackDelete(int(rid.Slot)); err != nil {
		t.pool.UnpinPage(rid.PageID, false)
		return err
	}
	f.Page.SetLSN(lsn)
	t.pool.UnpinPage(rid.PageID, true)
	return nil
}
