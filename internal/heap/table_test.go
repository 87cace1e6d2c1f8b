package heap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nova-db/novadb/internal/bufferpool"
)

type fakeDisk struct {
	mu    sync.Mutex
	pages map[uint32][]byte
	next  uint32
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{pages: make(map[uint32][]byte)}
}

func (d *fakeDisk) ReadPage(pageID uint32, dst []byte) error {
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

func (d *fakeDisk) WritePage(pageID uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, len(src))
	copy(buf, src)
	d.pages[pageID] = buf
	return nil
}

func (d *fakeDisk) AllocatePage() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	return id, nil
}

func (d *fakeDisk) DeallocatePage(pageID uint32) error { return nil }

func newTestPool(t *testing.T) *bufferpool.Manager {
	t.Helper()
	return bufferpool.NewManager(8, newFakeDisk(), nil)
}

func TestTableInsertReadRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	f, err := pool.NewPage()
	require.NoError(t, err)
	pageID := f.PageID
	pool.UnpinPage(pageID, false)

	table := NewTable(pool)
	rid, err := table.InsertTuple(pageID, []byte("hello"), 42)
	require.NoError(t, err)

	got, err := table.ReadTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestTableUpdateAndDeleteCycle(t *testing.T) {
	pool := newTestPool(t)
	f, err := pool.NewPage()
	require.NoError(t, err)
	pageID := f.PageID
	pool.UnpinPage(pageID, false)

	table := NewTable(pool)
	rid, err := table.InsertTuple(pageID, []byte("v1"), 1)
	require.NoError(t, err)

	require.NoError(t, table.UpdateTuple(rid, []byte("v2"), 2))
	got, err := table.ReadTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	require.NoError(t, table.MarkDelete(rid, 3))
	_, err = table.ReadTuple(rid)
	require.Error(t, err)

	require.NoError(t, table.RollbackDelete(rid, 4))
	got, err = table.ReadTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	require.NoError(t, table.MarkDelete(rid, 5))
	require.NoError(t, table.ApplyDelete(rid, 6))
	_, err = table.ReadTuple(rid)
	require.Error(t, err)
}
