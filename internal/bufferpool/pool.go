package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nova-db/novadb/internal/hash"
	"github.com/nova-db/novadb/internal/storage"
)

var (
	ErrNoFrameAvailable = errors.New("bufferpool: no frame available")
	ErrPageNotResident  = errors.New("bufferpool: page not resident")
	ErrPagePinned       = errors.New("bufferpool: page is pinned")
)

// LogManager is the slice of the write-ahead log manager the buffer pool
// needs to enforce WAL-before-evict: a dirty victim whose page LSN exceeds
// the log's persistent LSN cannot be written back until that LSN's record
// is durable. Declared here (rather than importing package wal directly)
// so the buffer pool depends only on the behavior it needs.
type LogManager interface {
	PersistentLSN() int64
	AddPagePromise(pageID uint32) <-chan struct{}
	WakeFlushThread()
}

// Disk is the subset of storage.DiskManager the buffer pool drives.
type Disk interface {
	ReadPage(pageID uint32, dst []byte) error
	WritePage(pageID uint32, src []byte) error
	AllocatePage() (uint32, error)
	DeallocatePage(pageID uint32) error
}

// Frame is one buffer-pool slot. Its Page field is swapped whenever the
// slot is reused for a different page id. Latch is the per-page
// reader-writer latch clients (the B+tree) acquire around reads/writes of
// Page's payload; the manager itself never touches it.
type Frame struct {
	ID       int
	PageID   uint32
	Page     *storage.Page
	PinCount int32
	Dirty    bool
	Latch    sync.RWMutex
}

// Manager owns a fixed array of frames, a free list, the page table
// (extendible hash), and the clock replacer. A single mutex serializes all
// metadata mutations; the raw page payload is left for clients (the
// B+tree) to latch.
type Manager struct {
	mu sync.Mutex

	frames    []*Frame
	freeList  []int
	pageTable *hash.ExtendibleHashTable[uint32, int] // pageID -> frame index
	replacer  *ClockReplacer
	dirty     map[uint32]bool

	disk Disk
	log  LogManager

	logEnabled bool
	log_       *slog.Logger
}

func pageIDHash(pid uint32) uint64 { return uint64(pid) }

// NewManager builds a buffer pool of poolSize frames over disk, optionally
// wired to a log manager for WAL-before-evict. log may be nil, in which
// case eviction never waits on durability (logging disabled).
func NewManager(poolSize int, disk Disk, log LogManager) *Manager {
	frames := make([]*Frame, poolSize)
	free := make([]int, poolSize)
	for i := range frames {
		frames[i] = &Frame{ID: i}
		free[i] = i
	}
	return &Manager{
		frames:    frames,
		freeList:  free,
		pageTable: hash.New[uint32, int](4, pageIDHash),
		replacer:  NewClockReplacer(poolSize),
		dirty:     make(map[uint32]bool),
		disk:      disk,
		log:       log,
		logEnabled: log != nil,
		log_:      slog.Default().With("component", "bufferpool"),
	}
}

// FetchPage pins pid, returning its frame. A resident page just has its pin
// count bumped; a miss evicts a victim (free list first, then replacer)
// and reads pid in from disk.
func (m *Manager) FetchPage(pid uint32) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fid, ok := m.pageTable.Find(pid); ok {
		f := m.frames[fid]
		if f.PinCount == 0 {
			m.replacer.Erase(fid)
		}
		f.PinCount++
		return f, nil
	}

	fid, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, storage.PageSize)
	if err := m.disk.ReadPage(pid, buf); err != nil {
		m.freeList = append(m.freeList, fid)
		return nil, fmt.Errorf("bufferpool: read page %d: %w", pid, err)
	}
	page, err := storage.WrapPage(buf)
	if err != nil {
		m.freeList = append(m.freeList, fid)
		return nil, err
	}

	f := m.frames[fid]
	f.PageID = pid
	f.Page = page
	f.PinCount = 1
	f.Dirty = false
	m.pageTable.Insert(pid, fid)
	return f, nil
}

// acquireFrameLocked selects a frame to reuse for a new page id, evicting
// and writing back a dirty victim if necessary. Caller holds m.mu.
func (m *Manager) acquireFrameLocked() (int, error) {
	if len(m.freeList) > 0 {
		fid := m.freeList[len(m.freeList)-1]
		m.freeList = m.freeList[:len(m.freeList)-1]
		return fid, nil
	}

	fid, ok := m.replacer.Victim()
	if !ok {
		return 0, ErrNoFrameAvailable
	}

	victim := m.frames[fid]
	if victim.Dirty {
		if err := m.waitForWALLocked(victim); err != nil {
			return 0, err
		}
		if err := m.disk.WritePage(victim.PageID, victim.Page.Buf); err != nil {
			return 0, fmt.Errorf("bufferpool: writeback page %d: %w", victim.PageID, err)
		}
		victim.Dirty = false
		delete(m.dirty, victim.PageID)
	}
	m.pageTable.Remove(victim.PageID)
	return fid, nil
}

// waitForWALLocked blocks until the victim's page LSN is durable, releasing
// m.mu across the wait so the flush worker (and other buffer-pool callers)
// are never blocked behind it — avoids the priority inversion the spec
// calls out. The victim is already out of the replacer at this point, so
// no other goroutine can select it as a victim while we wait.
func (m *Manager) waitForWALLocked(victim *Frame) error {
	if m.log == nil {
		return nil
	}
	if victim.Page.LSN() <= m.log.PersistentLSN() {
		return nil
	}
	promise := m.log.AddPagePromise(victim.PageID)
	m.log.WakeFlushThread()

	m.mu.Unlock()
	<-promise
	m.mu.Lock()
	return nil
}

// UnpinPage decrements pid's pin count. When it reaches zero the frame
// becomes eligible for eviction; isDirty is sticky across calls.
func (m *Manager) UnpinPage(pid uint32, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable.Find(pid)
	if !ok {
		return false
	}
	f := m.frames[fid]
	if f.PinCount <= 0 {
		return false
	}
	if isDirty {
		f.Dirty = true
	}
	f.PinCount--
	if f.PinCount == 0 {
		m.replacer.Insert(fid)
		if f.Dirty {
			m.dirty[pid] = true
		}
	}
	return true
}

// FlushPage writes pid's buffer to disk synchronously if it is resident
// and dirty, clearing the dirty flag on success.
func (m *Manager) FlushPage(pid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable.Find(pid)
	if !ok {
		return ErrPageNotResident
	}
	f := m.frames[fid]
	if !f.Dirty {
		return nil
	}
	if err := m.disk.WritePage(pid, f.Page.Buf); err != nil {
		return err
	}
	f.Dirty = false
	delete(m.dirty, pid)
	return nil
}

// NewPage allocates a fresh page id on disk, pins it in a frame, and
// returns it as an empty slotted page (header initialized by
// storage.NewPage, no tuples) that the caller may lay out further.
func (m *Manager) NewPage() (*Frame, error) {
	pid, err := m.disk.AllocatePage()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fid, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, storage.PageSize)
	page, err := storage.NewPage(buf, pid)
	if err != nil {
		m.freeList = append(m.freeList, fid)
		return nil, err
	}

	f := m.frames[fid]
	f.PageID = pid
	f.Page = page
	f.PinCount = 1
	f.Dirty = false
	m.pageTable.Insert(pid, fid)
	return f, nil
}

// DeletePage removes pid from the pool and deallocates it on disk, only if
// it is unpinned. Returns false without side effects if pid is pinned.
func (m *Manager) DeletePage(pid uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable.Find(pid)
	if !ok {
		if err := m.disk.DeallocatePage(pid); err != nil {
			return false, err
		}
		return true, nil
	}
	f := m.frames[fid]
	if f.PinCount > 0 {
		return false, nil
	}

	m.pageTable.Remove(pid)
	m.replacer.Erase(fid)
	delete(m.dirty, pid)
	f.Page = nil
	f.PageID = 0
	f.Dirty = false
	m.freeList = append(m.freeList, fid)

	if err := m.disk.DeallocatePage(pid); err != nil {
		return false, err
	}
	return true, nil
}
