// pkg/page/header.go
// Package page implements grove's on-disk page format and the in-memory
// page built from it: the 28-byte disk header, the sorted index over a
// page's items, the modification overlay, the page generations, and the
// per-subtree reference cell used by the cache lifecycle protocol.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"

	"grove/internal/checksum"
)

// Kind identifies a page's on-disk layout. The type field is the sole
// discriminator for how the entries/datalen union and the bytes after
// the header are interpreted; decoders never infer layout from content.
type Kind uint8

const (
	KindInvalid  Kind = 0  // invalid page
	KindColFix   Kind = 1  // column-store fixed-length leaf
	KindColInt   Kind = 2  // column-store internal
	KindColRLE   Kind = 3  // column-store run-length encoded leaf
	KindColVar   Kind = 4  // column-store variable-length leaf
	KindDupInt   Kind = 5  // duplicate tree internal
	KindDupLeaf  Kind = 6  // duplicate tree leaf
	KindOvfl     Kind = 7  // overflow data
	KindRowInt   Kind = 8  // row-store internal
	KindRowLeaf  Kind = 9  // row-store leaf
	KindFreeList Kind = 10 // free-list page
)

var kindNames = [...]string{
	"invalid", "col-fix", "col-int", "col-rle", "col-var",
	"dup-int", "dup-leaf", "ovfl", "row-int", "row-leaf", "free-list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("page-kind-%d", uint8(k))
}

// Valid reports whether k names a real page layout.
func (k Kind) Valid() bool {
	return k >= KindColFix && k <= KindFreeList
}

// Tree levels. Writing proceeds from the lower levels toward the root so
// a no-overwrite flush updates each parent once.
const (
	LevelNone uint8 = 0 // the page is not part of a tree
	LevelLeaf uint8 = 1 // leaf pages; each level above adds one
)

// HeaderSize is the size of the page disk header. Every page begins with
// one; items follow, 4-byte aligned.
const HeaderSize = 28

// Header field offsets.
const (
	offStartRecno = 0  // 8 bytes: column-store starting record number
	offLSNFile    = 8  // 4 bytes: LSN file number
	offLSNOff     = 12 // 4 bytes: LSN file offset
	offChecksum   = 16 // 4 bytes: page checksum
	offEntries    = 20 // 4 bytes: entry count / overflow data length
	offKind       = 24 // 1 byte: page type
	offLevel      = 25 // 1 byte: tree level
	// 26-27: unused padding, written as zeros
)

var (
	// ErrHeaderTooShort is returned when fewer than HeaderSize bytes are
	// available to decode.
	ErrHeaderTooShort = errors.New("page header data too short")

	// ErrBadKind is returned when the page type field is outside the
	// closed enumeration.
	ErrBadKind = errors.New("invalid page type")

	// ErrChecksum is returned when a page read from the store does not
	// match its stored checksum.
	ErrChecksum = errors.New("page checksum mismatch")
)

// Header is the decoded form of the page disk header.
type Header struct {
	StartRecno uint64 // first record number on the page (column-store)
	LSNFile    uint32 // log sequence number: file
	LSNOff     uint32 // log sequence number: offset
	Checksum   uint32 // checksum of the page as written
	Entries    uint32 // item count, or data length for overflow pages
	Kind       Kind   // page layout
	Level      uint8  // tree level, LevelLeaf at the bottom
}

// DataLen returns the overflow payload length. Only meaningful for
// KindOvfl pages, where the field is a byte count rather than an entry
// count.
func (h *Header) DataLen() uint32 {
	return h.Entries
}

// Put encodes the header into the first HeaderSize bytes of buf.
func (h *Header) Put(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrHeaderTooShort
	}
	binary.LittleEndian.PutUint64(buf[offStartRecno:], h.StartRecno)
	binary.LittleEndian.PutUint32(buf[offLSNFile:], h.LSNFile)
	binary.LittleEndian.PutUint32(buf[offLSNOff:], h.LSNOff)
	binary.LittleEndian.PutUint32(buf[offChecksum:], h.Checksum)
	binary.LittleEndian.PutUint32(buf[offEntries:], h.Entries)
	buf[offKind] = byte(h.Kind)
	buf[offLevel] = h.Level
	buf[offLevel+1] = 0
	buf[offLevel+2] = 0
	return nil
}

// DecodeHeader decodes the header at the front of a page image. The page
// type must be valid; nothing else is checked here.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooShort
	}
	h := Header{
		StartRecno: binary.LittleEndian.Uint64(buf[offStartRecno:]),
		LSNFile:    binary.LittleEndian.Uint32(buf[offLSNFile:]),
		LSNOff:     binary.LittleEndian.Uint32(buf[offLSNOff:]),
		Checksum:   binary.LittleEndian.Uint32(buf[offChecksum:]),
		Entries:    binary.LittleEndian.Uint32(buf[offEntries:]),
		Kind:       Kind(buf[offKind]),
		Level:      buf[offLevel],
	}
	if !h.Kind.Valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrBadKind, buf[offKind])
	}
	return h, nil
}

// pageSum computes the checksum of a page image with the checksum field
// treated as zero.
func pageSum(buf []byte) uint32 {
	var zero [4]byte
	sum := checksum.Sum(buf[:offChecksum])
	sum = checksum.Update(sum, zero[:])
	return checksum.Update(sum, buf[offEntries:])
}

// SetChecksum computes the checksum over the full page image and stores
// it in the header field. Call after the page contents are final.
func SetChecksum(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrHeaderTooShort
	}
	binary.LittleEndian.PutUint32(buf[offChecksum:], pageSum(buf))
	return nil
}

// VerifyChecksum checks a page image against its stored checksum. It is
// called on every page read from the durable store, never for pages
// already resident in memory.
func VerifyChecksum(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrHeaderTooShort
	}
	want := binary.LittleEndian.Uint32(buf[offChecksum:])
	if got := pageSum(buf); got != want {
		return fmt.Errorf("%w: computed %#x, stored %#x", ErrChecksum, got, want)
	}
	return nil
}
