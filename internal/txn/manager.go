package txn

import (
	"sync/atomic"

	"github.com/nova-db/novadb/internal/heap"
	"github.com/nova-db/novadb/internal/lock"
	"github.com/nova-db/novadb/internal/txstate"
	"github.com/nova-db/novadb/internal/wal"
)

// LogManager is the slice of wal.Manager the transaction manager drives.
type LogManager interface {
	AppendLogRecord(rec *wal.Record) int64
	AddCommitPromise() <-chan int64
}

// Manager begins, commits, and aborts transactions: it owns the
// monotonic transaction id counter and coordinates the lock manager and
// log manager around each transaction's lifetime. Grounded on the
// original TransactionManager::Begin/Commit/Abort.
type Manager struct {
	nextID int64

	locks *lock.Manager
	log   LogManager
	table *heap.Table

	logEnabled bool
}

// NewManager builds a transaction manager. log may be nil to disable
// logging entirely (e.g. in tests exercising lock semantics only).
func NewManager(locks *lock.Manager, log LogManager, table *heap.Table) *Manager {
	return &Manager{
		locks:      locks,
		log:        log,
		table:      table,
		logEnabled: log != nil,
	}
}

// Begin creates a fresh GROWING transaction and, if logging is enabled,
// appends its BEGIN record.
func (m *Manager) Begin() *Transaction {
	id := atomic.AddInt64(&m.nextID, 1)
	t := newTransaction(id)

	if m.logEnabled {
		rec := &wal.Record{TxnID: id, Type: wal.Begin, PrevLSN: wal.InvalidLSN}
		lsn := m.log.AppendLogRecord(rec)
		t.SetPrevLSN(lsn)
	}
	return t
}

// Commit finishes any deferred deletes in the write set, appends the
// COMMIT record, blocks for group commit until that record is durable,
// then releases every lock the transaction holds.
func (m *Manager) Commit(t *Transaction) {
	t.SetState(txstate.Committed)

	for _, w := range t.drainWriteSet() {
		if w.Type == WDelete {
			_ = m.table.ApplyDelete(w.RID, t.PrevLSN())
		}
	}

	if m.logEnabled {
		rec := &wal.Record{TxnID: t.ID(), Type: wal.Commit, PrevLSN: t.PrevLSN()}
		commitLSN := m.log.AppendLogRecord(rec)
		t.SetPrevLSN(commitLSN)

		for {
			persistent := <-m.log.AddCommitPromise()
			if persistent >= commitLSN {
				break
			}
		}
	}

	m.releaseLocks(t)
}

// Abort rolls the write set back in reverse order, appends the ABORT
// record if logging is enabled, then releases every lock.
func (m *Manager) Abort(t *Transaction) {
	t.SetState(txstate.Aborted)

	for _, w := range t.drainWriteSet() {
		switch w.Type {
		case WDelete:
			_ = m.table.RollbackDelete(w.RID, t.PrevLSN())
		case WInsert:
			_ = m.table.MarkDelete(w.RID, t.PrevLSN())
			_ = m.table.ApplyDelete(w.RID, t.PrevLSN())
		case WUpdate:
			_ = m.table.UpdateTuple(w.RID, w.OldTuple, t.PrevLSN())
		}
	}

	if m.logEnabled {
		rec := &wal.Record{TxnID: t.ID(), Type: wal.Abort, PrevLSN: t.PrevLSN()}
		m.log.AppendLogRecord(rec)
	}

	m.releaseLocks(t)
}

func (m *Manager) releaseLocks(t *Transaction) {
	for _, rid := range t.LockedRIDs() {
		m.locks.Unlock(t, rid)
	}
}
