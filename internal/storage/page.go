package storage

import (
	"encoding/binary"
	"errors"
)

// Header offsets. The header carries the page id and LSN so the buffer
// pool and log manager can stamp/inspect a page without a side table.
const (
	offFlags   = 0  // 2 bytes
	offPageID  = 2  // 4 bytes
	offLSN     = 6  // 4 bytes - int64 truncated; see SetLSN/LSN
	offLower   = 10 // 2 bytes
	offUpper   = 12 // 2 bytes
	offSpecial = 14 // 2 bytes
)

// Slot flags
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1 << 0
	SlotFlagMoved   uint16 = 1 << 1
)

var (
	ErrTupleTooLarge = errors.New("page: tuple too large for inline")
	ErrNoSpace       = errors.New("page: not enough free space")
	ErrBadSlot       = errors.New("page: invalid slot")
	ErrCorruption    = errors.New("page: corrupt slot or tuple bounds")
	ErrWrongSize     = errors.New("page: buffer size != PageSize")
	ErrNotDeleted    = errors.New("page: slot is not marked deleted")
)

type Slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// +------------------+ 0
// | Flags | PageID    |
// | LSN   | Lower     |
// | Upper | Special   |
// +------------------+ <-- pd_lower (slot directory grows down from here)
// |  Slot directory  |
// +------------------+
// |   Free space     |
// +------------------+ <-- pd_upper
// |  Tuple Data      |
// |  (grows down)    |
// +------------------+ <-- pd_special
// |  Special space   |
// +------------------+ PageSize
type Page struct {
	Buf []byte // fixed-size PageSize
}

func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	p.init(pageID)
	return p, nil
}

// WrapPage adapts an already-initialized buffer (e.g. read off disk) into
// a Page without touching its contents.
func WrapPage(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongSize
	}
	return &Page{Buf: buf}, nil
}

// ---- low-level header getters/setters ----
func (p *Page) flags() uint16 {
	return binary.LittleEndian.Uint16(p.Buf[offFlags:])
}

func (p *Page) setFlags(v uint16) {
	binary.LittleEndian.PutUint16(p.Buf[offFlags:], v)
}

func (p *Page) PageID() uint32 {
	return binary.LittleEndian.Uint32(p.Buf[offPageID:])
}

func (p *Page) setPageID(v uint32) {
	binary.LittleEndian.PutUint32(p.Buf[offPageID:], v)
}

// LSN returns the LSN of the last log record that modified this page, or
// InvalidLSN if the page has never been logged.
func (p *Page) LSN() int64 {
	return int64(int32(binary.LittleEndian.Uint32(p.Buf[offLSN:])))
}

// SetLSN stamps the page with the LSN of the record that just modified it.
// The buffer pool must not let a dirty page with LSN > flushed-LSN reach
// disk before the log manager flushes that record (WAL-before-evict).
func (p *Page) SetLSN(lsn int64) {
	binary.LittleEndian.PutUint32(p.Buf[offLSN:], uint32(lsn))
}

func (p *Page) lower() uint16 {
	return binary.LittleEndian.Uint16(p.Buf[offLower:])
}

func (p *Page) setLower(v uint16) {
	binary.LittleEndian.PutUint16(p.Buf[offLower:], v)
}

func (p *Page) upper() uint16 {
	return binary.LittleEndian.Uint16(p.Buf[offUpper:])
}

func (p *Page) setUpper(v uint16) {
	binary.LittleEndian.PutUint16(p.Buf[offUpper:], v)
}

func (p *Page) special() uint16 {
	return binary.LittleEndian.Uint16(p.Buf[offSpecial:])
}

func (p *Page) setSpecial(v uint16) {
	binary.LittleEndian.PutUint16(p.Buf[offSpecial:], v)
}

func (p *Page) markRedirect(oldIdx, newIdx int) error {
	return p.putSlot(oldIdx, Slot{
		Offset: uint16(newIdx),
		Length: 0,
		Flags:  SlotFlagMoved,
	})
}

func (p *Page) init(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	p.setFlags(0)
	p.setPageID(pageID)
	p.SetLSN(InvalidLSN)
	p.setLower(HeaderSize)
	p.setUpper(PageSize)
	p.setSpecial(PageSize)
}

// ---- public helpers ----
func (p *Page) FreeSpace() int {
	return int(p.upper() - p.lower())
}

func (p *Page) NumSlots() int {
	return int(p.lower()-HeaderSize) / SlotSize
}

func (p *Page) IsUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}

// ---- slots ----
func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

func (p *Page) getSlot(i int) (Slot, error) {
	if i < 0 || i >= p.NumSlots() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOff(i)
	if o+SlotSize > int(p.lower()) {
		return Slot{}, ErrCorruption
	}
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.Buf[o+0:]),
		Length: binary.LittleEndian.Uint16(p.Buf[o+2:]),
		Flags:  binary.LittleEndian.Uint16(p.Buf[o+4:]),
	}, nil
}

func (p *Page) putSlot(idx int, s Slot) error {
	if idx < 0 || idx > p.NumSlots() {
		return ErrBadSlot
	}
	off := p.slotOff(idx)

	if idx == p.NumSlots() && off+SlotSize > int(p.upper()) {
		return ErrNoSpace
	}
	if off+SlotSize > len(p.Buf) {
		return ErrCorruption
	}

	binary.LittleEndian.PutUint16(p.Buf[off+0:], s.Offset)
	binary.LittleEndian.PutUint16(p.Buf[off+2:], s.Length)
	binary.LittleEndian.PutUint16(p.Buf[off+4:], s.Flags)
	return nil
}

func (p *Page) appendSlot(off, length, flags uint16) (int, error) {
	i := p.NumSlots()
	if err := p.putSlot(i, Slot{Offset: off, Length: length, Flags: flags}); err != nil {
		return -1, err
	}
	p.setLower(p.lower() + SlotSize)
	return i, nil
}

// ---- tuples (payload) ----
func (p *Page) InsertTuple(tup []byte) (slot int, err error) {
	maxInline := PageSize - HeaderSize - SlotSize
	if len(tup) > maxInline {
		return -1, ErrTupleTooLarge
	}
	need := len(tup) + SlotSize
	if p.FreeSpace() < need {
		return -1, ErrNoSpace
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))
	return p.appendSlot(uint16(u), uint16(len(tup)), SlotFlagNormal)
}

func (p *Page) ReadTuple(slot int) ([]byte, error) {
	visited := 0
	for {
		s, err := p.getSlot(slot)
		if err != nil {
			return nil, err
		}

		switch s.Flags {
		case SlotFlagNormal:
			if s.Offset == 0 || s.Length == 0 {
				return nil, ErrCorruption
			}
			start, end := int(s.Offset), int(s.Offset)+int(s.Length)
			if start < 0 || start < int(p.upper()) || end > PageSize || start >= end {
				return nil, ErrCorruption
			}
			return p.Buf[start:end], nil

		case SlotFlagMoved:
			if s.Length != 0 || s.Offset == 0 {
				return nil, ErrCorruption
			}
			slot = int(s.Offset)
			visited++
			if visited > p.NumSlots() {
				return nil, ErrCorruption
			}

		case SlotFlagDeleted:
			return nil, ErrBadSlot

		default:
			return nil, ErrCorruption
		}
	}
}

func (p *Page) UpdateTuple(slot int, newTuple []byte) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags != SlotFlagNormal || s.Offset == 0 || s.Length == 0 {
		return ErrBadSlot
	}

	if len(newTuple) <= int(s.Length) {
		copy(p.Buf[int(s.Offset):], newTuple)
		return p.putSlot(slot, Slot{
			Offset: s.Offset,
			Length: uint16(len(newTuple)),
			Flags:  SlotFlagNormal,
		})
	}

	newSlot, err := p.InsertTuple(newTuple)
	if err != nil {
		return err
	}
	return p.markRedirect(slot, newSlot)
}

// MarkDelete soft-deletes a tuple: the slot is flagged deleted but the
// tuple bytes are left intact so an abort can RollbackDelete it. This is
// the WAL MARKDELETE operation's page-level effect.
func (p *Page) MarkDelete(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags == SlotFlagDeleted {
		return ErrBadSlot
	}
	s.Flags |= SlotFlagDeleted
	return p.putSlot(slot, s)
}

// RollbackDelete undoes a prior MarkDelete, restoring the slot to normal.
// This is the WAL ROLLBACKDELETE operation's page-level effect, used on
// transaction abort.
func (p *Page) RollbackDelete(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags&SlotFlagDeleted == 0 {
		return ErrNotDeleted
	}
	s.Flags &^= SlotFlagDeleted
	return p.putSlot(slot, s)
}

// ApplyDelete permanently removes a previously marked-deleted tuple's
// slot contents. This is the WAL APPLYDELETE operation's page-level
// effect, applied only after the owning transaction commits.
func (p *Page) ApplyDelete(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags&SlotFlagDeleted == 0 {
		return ErrNotDeleted
	}
	return p.putSlot(slot, Slot{Offset: 0, Length: 0, Flags: SlotFlagDeleted})
}

// IsDeleted reports whether the slot is currently marked deleted
// (soft-deleted or hard-deleted; ReadTuple returns ErrBadSlot for both, so
// it does not tell them apart).
func (p *Page) IsDeleted(slot int) (bool, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return false, err
	}
	return s.Flags&SlotFlagDeleted != 0, nil
}
