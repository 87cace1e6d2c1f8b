package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nova-db/novadb/internal/alias/util"
)

var (
	// currently unused; if you later decide to distinguish between "zero page"
	// and "beyond EOF", you can return this from ReadPage.
	ErrPageNotFound = errors.New("storage_manager: page not found")

	// currently unused in this file; reserved for higher-level "append" logic.
	ErrPageFull = errors.New("storage_manager: write would exceed page data length")
)

type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	path := filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo))
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return nil, err
	}
	// RDWR | CREATE (no truncate)
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
}

// StorageManager maps a logical pageID -> (segment, offset).
type StorageManager struct{}

func NewStorageManager() *StorageManager {
	return &StorageManager{}
}

func (sm *StorageManager) pagesPerSegment() int {
	return SegmentSize / PageSize
}

func (sm *StorageManager) locate(pageID int32) (segNo int32, offset int32) {
	pps := sm.pagesPerSegment()
	segNo = pageID / int32(pps)
	pageInSeg := pageID % int32(pps)
	offset = pageInSeg * PageSize
	return segNo, offset
}

// ReadPage reads exactly one page (PageSize bytes) into dst.
// If the underlying file is smaller than the requested offset+PageSize,
// the remainder is zero-filled. This allows "sparse" pages that are
// lazily initialized by higher layers.
func (sm *StorageManager) ReadPage(fs FileSet, pageID int32, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.ReadAt(dst, int64(off))
	if err != nil && err != io.EOF {
		return err
	}
	// Zero-fill the rest of the page if we hit EOF early or a short read.
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WritePage writes exactly one page (PageSize bytes) from src to disk
// at the location computed from pageID.
func (sm *StorageManager) WritePage(fs FileSet, pageID int32, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.WriteAt(src, int64(off))
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

// LoadPage reads a page into memory and returns a Page wrapper.
// If the on-disk bytes are all zero, the page is treated as uninitialized
// and is initialized with the given pageID.
func (sm *StorageManager) LoadPage(fs FileSet, pageID uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fs, int32(pageID), buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.init(pageID)
	}
	return p, nil
}

// SavePage writes the in-memory Page back to disk.
func (sm *StorageManager) SavePage(fs FileSet, pageID uint32, p Page) error {
	if len(p.Buf) != PageSize {
		return fmt.Errorf("page buffer must be %d bytes", PageSize)
	}
	return sm.WritePage(fs, int32(pageID), p.Buf)
}

// CountPages computes total pages for a given FileSet by scanning all segments.
func (sm *StorageManager) CountPages(fs FileSet) (uint32, error) {
	var total uint32

	// We assume segments are named: Base, Base.1, Base.2, ...
	for segNo := int32(0); ; segNo++ {
		f, err := fs.OpenSegment(segNo)
		if err != nil {
			// Stop when the segment file does not exist
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}

		info, statErr := f.Stat()
		_ = f.Close()
		if statErr != nil {
			return 0, statErr
		}

		size := info.Size()
		if size <= 0 {
			continue
		}

		pages := uint32(size / int64(PageSize))
		total += pages
	}

	return total, nil
}

// DiskManager is the concrete external collaborator spec.md §6 treats as
// given: page I/O, page-id allocation, and a durable log file. It owns one
// data FileSet (pages) and one dedicated log file (append-only, fsync'd on
// every WriteLog).
//
// Page-id allocation is a monotonic counter persisted in a small counter
// file beside the data segments; DeallocatePage is a no-op free-list stub,
// which the spec explicitly permits.
type DiskManager struct {
	mu sync.Mutex
	fs FileSet
	sm *StorageManager

	counterPath string
	nextPageID  uint32

	logFile *os.File
	logPath string
}

// NewDiskManager opens (or creates) the data segments under dir/base and
// the log file dir/base.log, recovering the next-page-id counter from its
// counter file if one exists.
func NewDiskManager(dir, base string) (*DiskManager, error) {
	if err := os.MkdirAll(dir, FileMode0755); err != nil {
		return nil, err
	}
	fs := LocalFileSet{Dir: dir, Base: base}
	counterPath := filepath.Join(dir, base+".nextpage")
	logPath := filepath.Join(dir, base+".log")

	lf, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, FileMode0644)
	if err != nil {
		return nil, err
	}

	dm := &DiskManager{
		fs:          fs,
		sm:          NewStorageManager(),
		counterPath: counterPath,
		logFile:     lf,
		logPath:     logPath,
	}
	if err := dm.loadCounter(); err != nil {
		_ = lf.Close()
		return nil, err
	}
	return dm, nil
}

func (dm *DiskManager) loadCounter() error {
	b, err := os.ReadFile(dm.counterPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Page 0 is reserved for the B+tree header page (btree.HeaderPageID),
			// which is addressed directly rather than through AllocatePage, so a
			// fresh counter must start past it.
			dm.nextPageID = 1
			return nil
		}
		return err
	}
	if len(b) != 4 {
		return ErrPageCorrupted
	}
	dm.nextPageID = binary.LittleEndian.Uint32(b)
	return nil
}

func (dm *DiskManager) saveCounterLocked() error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, dm.nextPageID)
	return os.WriteFile(dm.counterPath, b, FileMode0644)
}

// AllocatePage returns a fresh page id and durably persists the bumped
// counter before returning it, so a crash never hands out the same id
// twice.
func (dm *DiskManager) AllocatePage() (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	id := dm.nextPageID
	dm.nextPageID++
	if err := dm.saveCounterLocked(); err != nil {
		dm.nextPageID--
		return 0, err
	}
	return id, nil
}

// DeallocatePage is a no-op: this disk manager never reclaims page ids or
// space for reuse. A real free-list would live here; the spec permits
// omitting it.
func (dm *DiskManager) DeallocatePage(pageID uint32) error {
	return nil
}

// CheckPageValid reports whether pageID has ever been allocated. Used by
// recovery before replaying a NEWPAGE record.
func (dm *DiskManager) CheckPageValid(pageID uint32) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return pageID < dm.nextPageID
}

// ReadPage reads exactly PageSize bytes for pageID into dst.
func (dm *DiskManager) ReadPage(pageID uint32, dst []byte) error {
	return dm.sm.ReadPage(dm.fs, int32(pageID), dst)
}

// WritePage writes exactly PageSize bytes for pageID from src.
func (dm *DiskManager) WritePage(pageID uint32, src []byte) error {
	return dm.sm.WritePage(dm.fs, int32(pageID), src)
}

// WriteLog appends a serialized log record to the durable log file and
// fsyncs before returning, so a caller that has been told WriteLog
// succeeded can rely on the record surviving a crash.
func (dm *DiskManager) WriteLog(data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, err := dm.logFile.Write(data); err != nil {
		return err
	}
	return dm.logFile.Sync()
}

// ReadLog reads the entire log file from the start, for recovery scans.
func (dm *DiskManager) ReadLog() ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return os.ReadFile(dm.logPath)
}

// Close flushes and closes the underlying log file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.logFile.Close()
}

// Drop closes the log file and removes every data segment, the counter
// file, and the log file, leaving nothing for this DiskManager's
// directory+base behind. Used by tests and by operators discarding a
// database rather than reopening it.
func (dm *DiskManager) Drop() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := dm.logFile.Close(); err != nil {
		return err
	}

	if _, lfs, ok := FsKeyOf(dm.fs); ok {
		if err := RemoveAllSegments(lfs); err != nil {
			return err
		}
	}

	if err := os.Remove(dm.counterPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(dm.logPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
