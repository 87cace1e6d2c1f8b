package wal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nova-db/novadb/internal/heap"
)

// fakeDisk is an in-memory stand-in for storage.DiskManager's log half.
type fakeDisk struct {
	mu  sync.Mutex
	buf []byte
}

func (d *fakeDisk) WriteLog(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = append(d.buf, data...)
	return nil
}

func (d *fakeDisk) ReadLog() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	return out, nil
}

func insertRecord(txnID int64, rid heap.TID, tuple []byte) *Record {
	return &Record{
		TxnID: txnID,
		Type:  Insert,
		RID:   rid,
		Tuple: tuple,
	}
}

func TestNewManagerStartsWithNoPersistentLSN(t *testing.T) {
	m := NewManager(&fakeDisk{}, 0, 0)
	require.Equal(t, InvalidLSN, m.PersistentLSN())
}

func TestAppendLogRecordAssignsIncreasingLSNs(t *testing.T) {
	m := NewManager(&fakeDisk{}, 4096, time.Minute)
	r1 := insertRecord(1, heap.TID{PageID: 1, Slot: 0}, []byte("a"))
	r2 := insertRecord(1, heap.TID{PageID: 1, Slot: 1}, []byte("b"))

	lsn1 := m.AppendLogRecord(r1)
	lsn2 := m.AppendLogRecord(r2)

	require.Less(t, lsn1, lsn2)
	require.Equal(t, lsn1+int64(r1.Size), lsn2)
}

func TestFlushCycleAdvancesPersistentLSNAndWritesDisk(t *testing.T) {
	disk := &fakeDisk{}
	m := NewManager(disk, 4096, time.Hour)
	rec := insertRecord(1, heap.TID{PageID: 1, Slot: 0}, []byte("hello"))
	m.AppendLogRecord(rec)

	m.doFlushCycle()

	require.True(t, m.PersistentLSN() >= 0)
	got, err := disk.ReadLog()
	require.NoError(t, err)
	require.NotEmpty(t, got)

	parsed, n, err := Deserialize(got)
	require.NoError(t, err)
	require.Equal(t, int(rec.Size), n)
	require.Equal(t, Insert, parsed.Type)
	require.Equal(t, []byte("hello"), parsed.Tuple)
}

func TestAddPagePromiseFulfilledByFlushCycle(t *testing.T) {
	disk := &fakeDisk{}
	m := NewManager(disk, 4096, time.Hour)
	m.AppendLogRecord(insertRecord(1, heap.TID{PageID: 1, Slot: 0}, []byte("x")))

	promise := m.AddPagePromise(1)

	done := make(chan struct{})
	go func() {
		<-promise
		close(done)
	}()

	m.doFlushCycle()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("page promise never fulfilled")
	}
}

func TestAddCommitPromiseReceivesPersistentLSN(t *testing.T) {
	disk := &fakeDisk{}
	m := NewManager(disk, 4096, time.Hour)
	m.AppendLogRecord(insertRecord(1, heap.TID{PageID: 1, Slot: 0}, []byte("x")))

	p1 := m.AddCommitPromise()
	p2 := m.AddCommitPromise()

	m.doFlushCycle()

	lsn1 := <-p1
	lsn2 := <-p2
	require.Equal(t, lsn1, lsn2)
	require.Equal(t, m.PersistentLSN(), lsn1)
}

func TestDoFlushCycleIsNoopWhenBufferEmpty(t *testing.T) {
	disk := &fakeDisk{}
	m := NewManager(disk, 4096, time.Hour)
	m.doFlushCycle()
	require.Equal(t, InvalidLSN, m.PersistentLSN())
	got, err := disk.ReadLog()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStartStopLifecycle(t *testing.T) {
	disk := &fakeDisk{}
	m := NewManager(disk, 4096, 10*time.Millisecond)
	m.Start()
	m.AppendLogRecord(insertRecord(1, heap.TID{PageID: 1, Slot: 0}, []byte("timed")))

	require.Eventually(t, func() bool {
		got, _ := disk.ReadLog()
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)

	m.Stop()
}

func TestWakeFlushThreadTriggersFlushBeforeTimeout(t *testing.T) {
	disk := &fakeDisk{}
	m := NewManager(disk, 4096, time.Hour)
	m.Start()
	defer m.Stop()

	m.AppendLogRecord(insertRecord(1, heap.TID{PageID: 1, Slot: 0}, []byte("wake")))
	m.WakeFlushThread()

	require.Eventually(t, func() bool {
		got, _ := disk.ReadLog()
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)
}
