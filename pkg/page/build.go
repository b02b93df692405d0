// pkg/page/build.go
package page

import (
	"errors"
	"fmt"

	"grove/pkg/item"
)

var (
	// ErrPageFull is returned when an append does not fit in the page.
	ErrPageFull = errors.New("page is full")

	// ErrFixedSize is returned when a fixed-length append does not match
	// the page's record size.
	ErrFixedSize = errors.New("record does not match fixed length")
)

// Builder assembles a page image of a fixed size: header, then items or
// records, 4-byte aligned, with the checksum computed last. It is the
// encode path shared by reconciliation, bulk load, and tests.
type Builder struct {
	buf      []byte
	hdr      Header
	off      uint32 // next write position
	entries  uint32
	fixedLen uint32 // enforced on fixed-length appends, 0 until first
}

// NewBuilder starts a page image of size bytes.
func NewBuilder(kind Kind, level uint8, size uint32) *Builder {
	return &Builder{
		buf: make([]byte, size),
		hdr: Header{Kind: kind, Level: level},
		off: HeaderSize,
	}
}

// SetStartRecno sets the page's starting record number (column-store).
func (b *Builder) SetStartRecno(recno uint64) {
	b.hdr.StartRecno = recno
}

// SetLSN sets the page's log sequence number.
func (b *Builder) SetLSN(file, off uint32) {
	b.hdr.LSNFile = file
	b.hdr.LSNOff = off
}

// Entries returns the number of entries appended so far.
func (b *Builder) Entries() uint32 {
	return b.entries
}

// SpaceLeft returns the bytes still available in the page.
func (b *Builder) SpaceLeft() uint32 {
	return uint32(len(b.buf)) - b.off
}

func (b *Builder) reserve(n uint32) ([]byte, error) {
	if b.SpaceLeft() < n {
		return nil, fmt.Errorf("%w: need %d bytes, %d left", ErrPageFull, n, b.SpaceLeft())
	}
	s := b.buf[b.off : b.off+n]
	b.off += n
	return s, nil
}

// AppendItem appends a tagged item with an inline payload. Used for row
// pages and variable-length column pages.
func (b *Builder) AppendItem(t item.Type, payload []byte) error {
	cell, err := item.Pack(t, uint32(len(payload)))
	if err != nil {
		return err
	}
	s, err := b.reserve(item.SpaceNeeded(uint32(len(payload))))
	if err != nil {
		return err
	}
	item.PutCell(s, cell)
	copy(s[item.CellSize:], payload)
	b.entries++
	return nil
}

// AppendOff appends an off-page reference item.
func (b *Builder) AppendOff(o item.Off) error {
	var p [item.OffSize]byte
	item.PutOff(p[:], o)
	return b.AppendItem(item.TypeOff, p[:])
}

// AppendOffRecord appends a counted off-page reference item (row-store
// leaf duplicate trees).
func (b *Builder) AppendOffRecord(o item.OffRecord) error {
	var p [item.OffRecordSize]byte
	item.PutOffRecord(p[:], o)
	return b.AppendItem(item.TypeOffRecord, p[:])
}

// AppendOvfl appends an overflow item of the given type.
func (b *Builder) AppendOvfl(t item.Type, o item.Ovfl) error {
	var p [item.OvflSize]byte
	item.PutOvfl(p[:], o)
	return b.AppendItem(t, p[:])
}

// AppendColOffRecord appends a raw off-record structure for a
// column-store internal page. No item cell is written; the page type
// alone says how to read these.
func (b *Builder) AppendColOffRecord(o item.OffRecord) error {
	s, err := b.reserve(item.OffRecordSize)
	if err != nil {
		return err
	}
	item.PutOffRecord(s, o)
	b.entries++
	return nil
}

// AppendFixed appends one fixed-length record (col-fix pages). Every
// record must be the same length.
func (b *Builder) AppendFixed(rec []byte) error {
	if err := b.checkFixed(rec); err != nil {
		return err
	}
	s, err := b.reserve(uint32(len(rec)))
	if err != nil {
		return err
	}
	copy(s, rec)
	b.entries++
	return nil
}

// AppendRun appends one run of a run-length encoded page: a repeat
// count and the record shared by the whole run.
func (b *Builder) AppendRun(count uint16, rec []byte) error {
	if count == 0 {
		return fmt.Errorf("%w: empty run", ErrFixedSize)
	}
	if err := b.checkFixed(rec); err != nil {
		return err
	}
	s, err := b.reserve(rleCountSize + uint32(len(rec)))
	if err != nil {
		return err
	}
	s[0] = byte(count)
	s[1] = byte(count >> 8)
	copy(s[rleCountSize:], rec)
	b.entries++
	return nil
}

func (b *Builder) checkFixed(rec []byte) error {
	if b.fixedLen == 0 {
		if len(rec) == 0 {
			return fmt.Errorf("%w: empty record", ErrFixedSize)
		}
		b.fixedLen = uint32(len(rec))
		return nil
	}
	if uint32(len(rec)) != b.fixedLen {
		return fmt.Errorf("%w: got %d, want %d", ErrFixedSize, len(rec), b.fixedLen)
	}
	return nil
}

// SetOvflData fills an overflow page with its payload. The header's
// union field becomes the data length rather than an entry count.
func (b *Builder) SetOvflData(data []byte) error {
	if b.hdr.Kind != KindOvfl {
		return fmt.Errorf("%w: %s", ErrWrongKind, b.hdr.Kind)
	}
	s, err := b.reserve(uint32(len(data)))
	if err != nil {
		return err
	}
	copy(s, data)
	b.entries = uint32(len(data))
	return nil
}

// Finish writes the header and checksum and returns the completed page
// image. The builder must not be reused after Finish.
func (b *Builder) Finish() ([]byte, error) {
	b.hdr.Entries = b.entries
	if err := b.hdr.Put(b.buf); err != nil {
		return nil, err
	}
	if err := SetChecksum(b.buf); err != nil {
		return nil, err
	}
	return b.buf, nil
}
