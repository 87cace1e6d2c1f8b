package wal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nova-db/novadb/internal/bufferpool"
	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/storage"
)

type recoveryDisk struct {
	mu    sync.Mutex
	pages map[uint32][]byte
	log   []byte
	next  uint32
}

func newRecoveryDisk() *recoveryDisk {
	return &recoveryDisk{pages: make(map[uint32][]byte)}
}

func (d *recoveryDisk) ReadPage(pageID uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.pages[pageID]; ok {
		copy(dst, b)
		return nil
	}
	for i := range dst {
		dst[i] = 0
	}
	return nil
}

func (d *recoveryDisk) WritePage(pageID uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, len(src))
	copy(buf, src)
	d.pages[pageID] = buf
	return nil
}

func (d *recoveryDisk) AllocatePage() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	return id, nil
}

func (d *recoveryDisk) DeallocatePage(pageID uint32) error { return nil }

func (d *recoveryDisk) CheckPageValid(pageID uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return pageID < d.next
}

func (d *recoveryDisk) WriteLog(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, data...)
	return nil
}

func (d *recoveryDisk) ReadLog() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.log))
	copy(out, d.log)
	return out, nil
}

func TestRedoReappliesInsertWhenPageLSNBehind(t *testing.T) {
	disk := newRecoveryDisk()
	pool := bufferpool.NewManager(4, disk, nil)

	f, err := pool.NewPage()
	require.NoError(t, err)
	pageID := f.PageID
	pool.UnpinPage(pageID, true)
	require.NoError(t, pool.FlushPage(pageID))

	rid := heap.TID{PageID: pageID, Slot: 0}
	rec := &Record{TxnID: 1, Type: Insert, RID: rid, Tuple: []byte("durable-miss")}
	rec.Size = rec.computedSize()
	rec.LSN = 5
	require.NoError(t, disk.WriteLog(rec.Serialize()))

	rec2 := &Record{TxnID: 1, Type: Commit, PrevLSN: 5}
	rec2.Size = rec2.computedSize()
	rec2.LSN = int64(rec2.Size) + 5
	require.NoError(t, disk.WriteLog(rec2.Serialize()))

	rv := NewRecovery(pool, disk)
	require.NoError(t, rv.Redo(disk))

	f2, err := pool.FetchPage(pageID)
	require.NoError(t, err)
	got, err := f2.Page.ReadTuple(0)
	require.NoError(t, err)
	require.Equal(t, []byte("durable-miss"), got)
	pool.UnpinPage(pageID, false)

	require.Empty(t, rv.ActiveTxn)
}

func TestRedoSkipsWhenPageLSNAlreadyCoversRecord(t *testing.T) {
	disk := newRecoveryDisk()
	pool := bufferpool.NewManager(4, disk, nil)

	f, err := pool.NewPage()
	require.NoError(t, err)
	pageID := f.PageID
	_, err = f.Page.InsertTuple([]byte("already-there"))
	require.NoError(t, err)
	f.Page.SetLSN(100)
	pool.UnpinPage(pageID, true)
	require.NoError(t, pool.FlushPage(pageID))

	rec := &Record{TxnID: 1, Type: Insert, RID: heap.TID{PageID: pageID, Slot: 0}, Tuple: []byte("stale")}
	rec.Size = rec.computedSize()
	rec.LSN = 1
	require.NoError(t, disk.WriteLog(rec.Serialize()))

	rv := NewRecovery(pool, disk)
	require.NoError(t, rv.Redo(disk))

	f2, err := pool.FetchPage(pageID)
	require.NoError(t, err)
	got, err := f2.Page.ReadTuple(0)
	require.NoError(t, err)
	require.Equal(t, []byte("already-there"), got)
	pool.UnpinPage(pageID, false)

	require.Equal(t, map[int64]int64{1: 1}, rv.ActiveTxn)
}

func TestRedoAllocatesMissingNewPage(t *testing.T) {
	disk := newRecoveryDisk()
	pool := bufferpool.NewManager(4, disk, nil)
	rv := NewRecovery(pool, disk)

	rec := &Record{Type: NewPage, PrevPageID: storage.InvalidPageID, PageID: 0}
	rec.Size = rec.computedSize()
	rec.LSN = 1
	require.NoError(t, disk.WriteLog(rec.Serialize()))

	require.True(t, disk.CheckPageValid(0) == false)
	require.NoError(t, rv.Redo(disk))
	require.True(t, disk.CheckPageValid(0))
}
