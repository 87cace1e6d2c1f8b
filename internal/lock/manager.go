// Package lock implements a per-record lock table with wait-die deadlock
// prevention, integrated with two-phase locking via the Txn interface.
package lock

import (
	"sync"
	"sync/atomic"

	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/txstate"
)

// Mode is the lock mode held or requested on a record.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Txn is the slice of a transaction the lock manager needs: phase
// assertions, the wait-die timestamp, and the two lock sets it mutates.
// Defined here rather than depending on package txn, which itself depends
// on this package to release locks on Commit/Abort.
type Txn interface {
	State() txstate.State
	SetState(txstate.State)

	Timestamp() (int64, bool)
	SetTimestamp(int64)
	ClearTimestamp()

	HasSharedLock(heap.TID) bool
	HasExclusiveLock(heap.TID) bool
	AddSharedLock(heap.TID)
	AddExclusiveLock(heap.TID)
	RemoveSharedLock(heap.TID)
	RemoveExclusiveLock(heap.TID)
	HasAnyLock() bool
}

type holder struct {
	txn  Txn
	mode Mode
}

type rowEntry struct {
	holders []holder
	cond    *sync.Cond
}

// Manager is the process-wide lock table. Strict enables strict two-phase
// locking: Unlock on a transaction that hasn't reached COMMITTED/ABORTED
// aborts it instead of releasing the lock.
type Manager struct {
	mu     sync.Mutex
	table  map[heap.TID]*rowEntry
	nextTS int64
	Strict bool
}

// NewManager builds an empty lock table.
func NewManager(strict bool) *Manager {
	return &Manager{
		table:  make(map[heap.TID]*rowEntry),
		Strict: strict,
	}
}

func (m *Manager) entryLocked(rid heap.TID) *rowEntry {
	e, ok := m.table[rid]
	if !ok {
		e = &rowEntry{}
		e.cond = sync.NewCond(&m.mu)
		m.table[rid] = e
	}
	return e
}

func (m *Manager) assignTimestampLocked(txn Txn) int64 {
	if ts, ok := txn.Timestamp(); ok {
		return ts
	}
	ts := atomic.AddInt64(&m.nextTS, 1)
	txn.SetTimestamp(ts)
	return ts
}

// diesAgainst reports whether a requester with timestamp reqTS must die
// (wait-die) rather than wait, given the current holders of e, excluding
// any holder entries belonging to self.
func diesAgainst(e *rowEntry, self Txn, reqTS int64) bool {
	for _, h := range e.holders {
		if h.txn == self {
			continue
		}
		heldTS, _ := h.txn.Timestamp()
		if reqTS > heldTS {
			return true
		}
	}
	return false
}

func hasExclusiveHolder(e *rowEntry) bool {
	for _, h := range e.holders {
		if h.mode == Exclusive {
			return true
		}
	}
	return false
}

func removeHolder(e *rowEntry, txn Txn) {
	for i, h := range e.holders {
		if h.txn == txn {
			e.holders = append(e.holders[:i], e.holders[i+1:]...)
			return
		}
	}
}

// LockShared acquires a shared lock on rid for txn, which must be GROWING.
// Returns false (and sets txn ABORTED) if wait-die chose to kill the
// request instead of waiting.
func (m *Manager) LockShared(txn Txn, rid heap.TID) bool {
	if txn.State() != txstate.Growing {
		panic("lock: acquire on non-growing transaction")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reqTS := m.assignTimestampLocked(txn)
	e := m.entryLocked(rid)

	for hasExclusiveHolder(e) {
		if diesAgainst(e, txn, reqTS) {
			txn.SetState(txstate.Aborted)
			return false
		}
		e.cond.Wait()
		e = m.entryLocked(rid)
	}

	e.holders = append(e.holders, holder{txn: txn, mode: Shared})
	txn.AddSharedLock(rid)
	return true
}

// LockExclusive acquires an exclusive lock on rid for txn, which must be
// GROWING.
func (m *Manager) LockExclusive(txn Txn, rid heap.TID) bool {
	if txn.State() != txstate.Growing {
		panic("lock: acquire on non-growing transaction")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reqTS := m.assignTimestampLocked(txn)
	e := m.entryLocked(rid)

	for len(e.holders) > 0 {
		if diesAgainst(e, txn, reqTS) {
			txn.SetState(txstate.Aborted)
			return false
		}
		e.cond.Wait()
		e = m.entryLocked(rid)
	}

	e.holders = append(e.holders, holder{txn: txn, mode: Exclusive})
	txn.AddExclusiveLock(rid)
	return true
}

// LockUpgrade upgrades txn's existing shared lock on rid to exclusive. txn
// must already hold the shared lock and be GROWING.
func (m *Manager) LockUpgrade(txn Txn, rid heap.TID) bool {
	if txn.State() != txstate.Growing {
		panic("lock: acquire on non-growing transaction")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reqTS := m.assignTimestampLocked(txn)
	e := m.entryLocked(rid)

	isSoleSelfShared := func() bool {
		return len(e.holders) == 1 && e.holders[0].txn == txn && e.holders[0].mode == Shared
	}

	for !isSoleSelfShared() {
		if diesAgainst(e, txn, reqTS) {
			txn.SetState(txstate.Aborted)
			return false
		}
		e.cond.Wait()
	}

	removeHolder(e, txn)
	txn.RemoveSharedLock(rid)
	e.holders = append(e.holders, holder{txn: txn, mode: Exclusive})
	txn.AddExclusiveLock(rid)
	return true
}

// Unlock releases txn's lock on rid. On the first unlock of a non-strict
// transaction, the transaction moves GROWING -> SHRINKING. Under strict
// two-phase locking, unlocking a transaction that hasn't reached
// COMMITTED/ABORTED aborts it instead of releasing.
func (m *Manager) Unlock(txn Txn, rid heap.TID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Strict {
		st := txn.State()
		if st != txstate.Committed && st != txstate.Aborted {
			txn.SetState(txstate.Aborted)
			return false
		}
	} else if txn.State() == txstate.Growing {
		txn.SetState(txstate.Shrinking)
	}

	txn.RemoveSharedLock(rid)
	txn.RemoveExclusiveLock(rid)

	e, ok := m.table[rid]
	if !ok {
		return true
	}
	removeHolder(e, txn)
	if len(e.holders) == 0 {
		delete(m.table, rid)
	}
	e.cond.Broadcast()

	if !txn.HasAnyLock() {
		txn.ClearTimestamp()
	}
	return true
}
