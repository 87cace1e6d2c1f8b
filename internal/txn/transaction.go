// Package txn implements the transaction object and manager that glue the
// lock manager and log manager together: begin/commit/abort, the write
// set used to roll an aborted transaction's table mutations back, and the
// lock sets released at the end of the transaction's life.
package txn

import (
	"sync"

	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/txstate"
)

// WType tags a write-set entry with the rollback/cleanup action Commit or
// Abort must take for it.
type WType int

const (
	WInsert WType = iota
	WUpdate
	WDelete
)

// WriteRecord is one entry in a transaction's write set: enough to roll
// the table mutation back on Abort, or to finish a pending delete on
// Commit (ApplyDelete is deferred to commit time so an abort can still
// RollbackDelete).
type WriteRecord struct {
	Type     WType
	RID      heap.TID
	OldTuple []byte // Update: the tuple being replaced.
}

// Transaction is one unit of work: a monotonic id, two-phase-locking
// state, the wait-die timestamp assigned on first lock acquisition, the
// previous LSN for the log chain, an ordered write set, and the two lock
// sets the lock manager maintains directly on this object.
type Transaction struct {
	mu sync.Mutex

	id    int64
	state txstate.State

	ts    int64
	hasTS bool

	prevLSN int64

	writeSet []WriteRecord

	sharedLocks    map[heap.TID]struct{}
	exclusiveLocks map[heap.TID]struct{}
}

func newTransaction(id int64) *Transaction {
	return &Transaction{
		id:             id,
		state:          txstate.Growing,
		prevLSN:        -1,
		sharedLocks:    make(map[heap.TID]struct{}),
		exclusiveLocks: make(map[heap.TID]struct{}),
	}
}

func (t *Transaction) ID() int64 { return t.id }

func (t *Transaction) State() txstate.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s txstate.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Transaction) Timestamp() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ts, t.hasTS
}

func (t *Transaction) SetTimestamp(ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ts = ts
	t.hasTS = true
}

func (t *Transaction) ClearTimestamp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasTS = false
}

func (t *Transaction) PrevLSN() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevLSN
}

func (t *Transaction) SetPrevLSN(lsn int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prevLSN = lsn
}

func (t *Transaction) HasSharedLock(rid heap.TID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedLocks[rid]
	return ok
}

func (t *Transaction) HasExclusiveLock(rid heap.TID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveLocks[rid]
	return ok
}

func (t *Transaction) AddSharedLock(rid heap.TID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[rid] = struct{}{}
}

func (t *Transaction) AddExclusiveLock(rid heap.TID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveLocks[rid] = struct{}{}
}

func (t *Transaction) RemoveSharedLock(rid heap.TID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, rid)
}

func (t *Transaction) RemoveExclusiveLock(rid heap.TID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.exclusiveLocks, rid)
}

func (t *Transaction) HasAnyLock() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sharedLocks) > 0 || len(t.exclusiveLocks) > 0
}

// LockedRIDs returns the union of rows held in either mode, for the
// manager to release at Commit/Abort.
func (t *Transaction) LockedRIDs() []heap.TID {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[heap.TID]struct{}, len(t.sharedLocks)+len(t.exclusiveLocks))
	for rid := range t.sharedLocks {
		seen[rid] = struct{}{}
	}
	for rid := range t.exclusiveLocks {
		seen[rid] = struct{}{}
	}
	out := make([]heap.TID, 0, len(seen))
	for rid := range seen {
		out = append(out, rid)
	}
	return out
}

// RecordInsert appends an insert to the write set, so Abort can undo it
// via ApplyDelete.
func (t *Transaction) RecordInsert(rid heap.TID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeSet = append(t.writeSet, WriteRecord{Type: WInsert, RID: rid})
}

// RecordUpdate appends an update to the write set, carrying the
// pre-update tuple so Abort can restore it.
func (t *Transaction) RecordUpdate(rid heap.TID, oldTuple []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeSet = append(t.writeSet, WriteRecord{Type: WUpdate, RID: rid, OldTuple: oldTuple})
}

// RecordDelete appends a mark-delete to the write set. The ApplyDelete is
// deferred: Commit finishes it, Abort rolls it back via RollbackDelete.
func (t *Transaction) RecordDelete(rid heap.TID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeSet = append(t.writeSet, WriteRecord{Type: WDelete, RID: rid})
}

// drainWriteSet empties and returns the write set in LIFO order, matching
// the teacher's pop-from-back replay so later operations on the same row
// unwind before earlier ones.
func (t *Transaction) drainWriteSet() []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WriteRecord, len(t.writeSet))
	for i, w := range t.writeSet {
		out[len(t.writeSet)-1-i] = w
	}
	t.writeSet = nil
	return out
}
