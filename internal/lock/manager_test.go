package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/txstate"
)

// fakeTxn is a minimal Txn implementation for lock manager unit tests.
type fakeTxn struct {
	id        int
	state     txstate.State
	ts        int64
	hasTS     bool
	shared    map[heap.TID]bool
	exclusive map[heap.TID]bool
}

func newFakeTxn(id int) *fakeTxn {
	return &fakeTxn{
		id:        id,
		state:     txstate.Growing,
		shared:    make(map[heap.TID]bool),
		exclusive: make(map[heap.TID]bool),
	}
}

func (t *fakeTxn) State() txstate.State          { return t.state }
func (t *fakeTxn) SetState(s txstate.State)      { t.state = s }
func (t *fakeTxn) Timestamp() (int64, bool)      { return t.ts, t.hasTS }
func (t *fakeTxn) SetTimestamp(ts int64)         { t.ts = ts; t.hasTS = true }
func (t *fakeTxn) ClearTimestamp()               { t.hasTS = false }
func (t *fakeTxn) HasSharedLock(r heap.TID) bool { return t.shared[r] }
func (t *fakeTxn) HasExclusiveLock(r heap.TID) bool {
	return t.exclusive[r]
}
func (t *fakeTxn) AddSharedLock(r heap.TID)    { t.shared[r] = true }
func (t *fakeTxn) AddExclusiveLock(r heap.TID) { t.exclusive[r] = true }
func (t *fakeTxn) RemoveSharedLock(r heap.TID) { delete(t.shared, r) }
func (t *fakeTxn) RemoveExclusiveLock(r heap.TID) {
	delete(t.exclusive, r)
}
func (t *fakeTxn) HasAnyLock() bool {
	return len(t.shared) > 0 || len(t.exclusive) > 0
}

func TestLockSharedUncontended(t *testing.T) {
	m := NewManager(false)
	txn := newFakeTxn(1)
	rid := heap.TID{PageID: 1, Slot: 0}

	require.True(t, m.LockShared(txn, rid))
	require.True(t, txn.HasSharedLock(rid))
}

func TestLockExclusiveThenSharedConflictDies(t *testing.T) {
	m := NewManager(false)
	holder := newFakeTxn(1)
	rid := heap.TID{PageID: 1, Slot: 0}
	require.True(t, m.LockExclusive(holder, rid))

	// younger requester facing an older exclusive holder must die
	younger := newFakeTxn(2)
	holder.SetTimestamp(100)
	younger.SetTimestamp(200)
	require.False(t, m.LockShared(younger, rid))
	require.Equal(t, txstate.Aborted, younger.State())
}

func TestLockSharedWaitsThenSucceedsAfterUnlock(t *testing.T) {
	m := NewManager(false)
	rid := heap.TID{PageID: 1, Slot: 0}

	holder := newFakeTxn(1)
	holder.SetTimestamp(100)
	require.True(t, m.LockExclusive(holder, rid))

	waiter := newFakeTxn(2)
	waiter.SetTimestamp(50) // older than holder -> waits, doesn't die

	done := make(chan bool, 1)
	go func() {
		done <- m.LockShared(waiter, rid)
	}()

	select {
	case <-done:
		t.Fatal("lock should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, m.Unlock(holder, rid))

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestLockUpgrade(t *testing.T) {
	m := NewManager(false)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)

	require.True(t, m.LockShared(txn, rid))
	require.True(t, m.LockUpgrade(txn, rid))
	require.False(t, txn.HasSharedLock(rid))
	require.True(t, txn.HasExclusiveLock(rid))
}

func TestUnlockMovesGrowingToShrinking(t *testing.T) {
	m := NewManager(false)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)

	require.True(t, m.LockShared(txn, rid))
	require.True(t, m.Unlock(txn, rid))
	require.Equal(t, txstate.Shrinking, txn.State())
}

func TestStrictTwoPhaseLockingAbortsNonTerminalUnlock(t *testing.T) {
	m := NewManager(true)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)

	require.True(t, m.LockShared(txn, rid))
	require.False(t, m.Unlock(txn, rid))
	require.Equal(t, txstate.Aborted, txn.State())
}

func TestStrictTwoPhaseLockingAllowsUnlockAfterCommit(t *testing.T) {
	m := NewManager(true)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)

	require.True(t, m.LockShared(txn, rid))
	txn.SetState(txstate.Committed)
	require.True(t, m.Unlock(txn, rid))
}

func TestLockSharedPanicsOnNonGrowingTxn(t *testing.T) {
	m := NewManager(false)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)
	txn.SetState(txstate.Shrinking)

	require.Panics(t, func() { m.LockShared(txn, rid) })
}

func TestLockExclusivePanicsOnNonGrowingTxn(t *testing.T) {
	m := NewManager(false)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)
	txn.SetState(txstate.Aborted)

	require.Panics(t, func() { m.LockExclusive(txn, rid) })
}

func TestLockUpgradePanicsOnNonGrowingTxn(t *testing.T) {
	m := NewManager(false)
	rid := heap.TID{PageID: 1, Slot: 0}
	txn := newFakeTxn(1)

	require.True(t, m.LockShared(txn, rid))
	txn.SetState(txstate.Shrinking)

	require.Panics(t, func() { m.LockUpgrade(txn, rid) })
}
