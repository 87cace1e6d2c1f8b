package btree

import (
	"github.com/nova-db/novadb/internal/alias/bx"
	"github.com/nova-db/novadb/internal/bufferpool"
	"github.com/nova-db/novadb/internal/storage"
)

// HeaderPageID is the well-known page holding the name -> root-page-id
// table, per spec.md §6 ("Page 0 is a header page").
const HeaderPageID uint32 = 0

const maxIndexNameLen = 32

// headerRecordSize is name(32, zero-padded) + pageID(4).
const headerRecordSize = maxIndexNameLen + 4

// headerCountOffset mirrors node.go's header layout so the header page
// can share the same common storage.Page prefix.
const headerCountOffset = storage.HeaderSize

const headerRecordsOffset = headerCountOffset + 4

// HeaderPage is the page-0 table of contents: index name -> root page id.
// Real buffer-pool I/O backs it, not a side file, per spec.md §4.4.
type HeaderPage struct {
	page *storage.Page
}

// InitHeaderPage zeroes a fresh page-0 into an empty record table.
func InitHeaderPage(p *storage.Page) HeaderPage {
	h := HeaderPage{page: p}
	h.setCount(0)
	return h
}

// WrapHeaderPage adapts an already-initialized page-0 buffer.
func WrapHeaderPage(p *storage.Page) HeaderPage { return HeaderPage{page: p} }

func (h HeaderPage) count() int {
	return int(bx.U32At(h.page.Buf, headerCountOffset))
}

func (h HeaderPage) setCount(n int) {
	bx.PutU32At(h.page.Buf, headerCountOffset, uint32(n))
}

func (h HeaderPage) recordOffset(i int) int {
	return headerRecordsOffset + i*headerRecordSize
}

func (h HeaderPage) nameAt(i int) string {
	off := h.recordOffset(i)
	raw := h.page.Buf[off : off+maxIndexNameLen]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

func (h HeaderPage) pageIDAt(i int) uint32 {
	off := h.recordOffset(i)
	return bx.U32At(h.page.Buf, off+maxIndexNameLen)
}

func (h HeaderPage) indexOf(name string) int {
	for i := 0; i < h.count(); i++ {
		if h.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// GetRootPageID returns the persisted root page id for name, if any.
func (h HeaderPage) GetRootPageID(name string) (uint32, bool) {
	i := h.indexOf(name)
	if i < 0 {
		return 0, false
	}
	return h.pageIDAt(i), true
}

// InsertRecord adds a brand-new (name, pageID) record.
func (h HeaderPage) InsertRecord(name string, pageID uint32) {
	if len(name) > maxIndexNameLen {
		name = name[:maxIndexNameLen]
	}
	i := h.count()
	off := h.recordOffset(i)
	for j := range h.page.Buf[off : off+maxIndexNameLen] {
		h.page.Buf[off+j] = 0
	}
	copy(h.page.Buf[off:], name)
	bx.PutU32At(h.page.Buf, off+maxIndexNameLen, pageID)
	h.setCount(i + 1)
}

// UpdateRecord rewrites name's root page id, inserting it if absent.
func (h HeaderPage) UpdateRecord(name string, pageID uint32) {
	i := h.indexOf(name)
	if i < 0 {
		h.InsertRecord(name, pageID)
		return
	}
	off := h.recordOffset(i)
	bx.PutU32At(h.page.Buf, off+maxIndexNameLen, pageID)
}

// FetchHeaderPage pins and wraps page 0, initializing it on first use.
func FetchHeaderPage(pool *bufferpool.Manager) (*bufferpool.Frame, HeaderPage, error) {
	f, err := pool.FetchPage(HeaderPageID)
	if err != nil {
		return nil, HeaderPage{}, err
	}
	if f.Page.IsUninitialized() {
		if _, err := storage.NewPage(f.Page.Buf, HeaderPageID); err != nil {
			pool.UnpinPage(HeaderPageID, false)
			return nil, HeaderPage{}, err
		}
		InitHeaderPage(f.Page)
	}
	return f, WrapHeaderPage(f.Page), nil
}
