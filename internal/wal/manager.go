package wal

import (
	"log/slog"
	"sync"
	"time"
)

// Disk is the subset of storage.DiskManager the log manager drives.
type Disk interface {
	WriteLog(data []byte) error
	ReadLog() ([]byte, error)
}

// Manager is the write-ahead log: a double-buffered log with a dedicated
// flush worker goroutine, group-commit waiters, and buffer-pool eviction
// waiters. Grounded on the teacher's page-image WAL manager for the
// durable-append-plus-flush-worker shape, generalized to typed log
// records per spec.
type Manager struct {
	mu sync.Mutex

	disk Disk
	log  *slog.Logger

	logBuf   []byte
	flushBuf []byte
	written  int
	drained  int
	flushing bool

	nextLSN       int64
	persistentLSN int64

	bufSize int
	timeout time.Duration

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	pageWaiters   []chan struct{}
	commitWaiters []chan int64

	enabled bool
}

// NewManager builds a log manager with the given double-buffer size and
// unconditional-flush timeout. It does not start the flush worker; call
// Start to do so. AppendLogRecord works before Start too; the records stay
// in the buffer until a flush cycle runs.
func NewManager(disk Disk, bufSize int, timeout time.Duration) *Manager {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Manager{
		disk:          disk,
		log:           slog.Default().With("component", "wal"),
		logBuf:        make([]byte, bufSize),
		flushBuf:      make([]byte, bufSize),
		bufSize:       bufSize,
		timeout:       timeout,
		persistentLSN: InvalidLSN,
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start sets the enabled flag and launches the flush worker goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	go m.flushLoop()
}

// Stop clears the enabled flag and waits for the flush worker to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	close(m.stopCh)
	<-m.doneCh
}

// PersistentLSN returns the highest LSN known to be durable in the log file.
func (m *Manager) PersistentLSN() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistentLSN
}

// AddPagePromise registers an eviction waiter; the returned channel closes
// once the next flush cycle that has log bytes to write completes (a cycle
// over an empty buffer returns without touching waiters), after which the
// caller's page LSN
// (already captured in the log buffer by the time it calls this) is
// guaranteed durable.
func (m *Manager) AddPagePromise(pageID uint32) <-chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.pageWaiters = append(m.pageWaiters, ch)
	m.mu.Unlock()
	return ch
}

// AddCommitPromise registers a group-commit waiter; the returned channel
// receives the persistent LSN after the next flush cycle that has log bytes
// to write. Commit loops on this until persistent LSN >= the LSN of its
// COMMIT record.
func (m *Manager) AddCommitPromise() <-chan int64 {
	ch := make(chan int64, 1)
	m.mu.Lock()
	m.commitWaiters = append(m.commitWaiters, ch)
	m.mu.Unlock()
	return ch
}

// WakeFlushThread forces an out-of-band flush cycle, used by buffer-pool
// eviction when it needs a dirty victim's WAL durable before writeback.
func (m *Manager) WakeFlushThread() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// AppendLogRecord serializes rec into the log buffer, assigning its LSN,
// and returns that LSN. If the buffer lacks room it wakes the flush worker
// and waits briefly, retrying until space frees up.
func (m *Manager) AppendLogRecord(rec *Record) int64 {
	rec.Size = rec.computedSize()
	size := int(rec.Size)

	m.mu.Lock()
	for m.written+size > m.bufSize {
		m.mu.Unlock()
		m.WakeFlushThread()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
	}

	lsn := m.nextLSN
	rec.LSN = lsn
	buf := rec.Serialize()
	copy(m.logBuf[m.written:], buf)
	m.written += size
	m.nextLSN += int64(size)
	m.mu.Unlock()

	return lsn
}

func (m *Manager) flushLoop() {
	defer close(m.doneCh)
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
			m.doFlushCycle()
			timer.Reset(m.timeout)
		case <-timer.C:
			m.doFlushCycle()
			timer.Reset(m.timeout)
		}
	}
}

// doFlushCycle swaps the log/flush buffers if needed, writes the drained
// bytes to disk, advances persistent LSN, and fulfills every outstanding
// eviction and group-commit waiter in one pass.
func (m *Manager) doFlushCycle() {
	m.mu.Lock()
	if !m.flushing {
		if m.written == 0 {
			m.mu.Unlock()
			return
		}
		m.logBuf, m.flushBuf = m.flushBuf, m.logBuf
		m.drained = m.written
		m.written = 0
		m.flushing = true
	}
	toWrite := m.flushBuf[:m.drained]
	targetLSN := m.nextLSN
	m.mu.Unlock()

	if len(toWrite) > 0 {
		if err := m.disk.WriteLog(toWrite); err != nil {
			m.log.Error("wal flush failed", "error", err)
			return
		}
	}

	m.mu.Lock()
	m.flushing = false
	if targetLSN > m.persistentLSN {
		m.persistentLSN = targetLSN
	}
	pageWaiters := m.pageWaiters
	m.pageWaiters = nil
	commitWaiters := m.commitWaiters
	m.commitWaiters = nil
	persistent := m.persistentLSN
	m.mu.Unlock()

	for _, ch := range pageWaiters {
		close(ch)
	}
	for _, ch := range commitWaiters {
		ch <- persistent
	}
}
