// pkg/item/item.go
// Package item implements the tagged cell format used for every
// variable-length entry on a page.
//
// An item is a 4-byte cell followed by a variable-length payload. The
// bottom 24 bits of the cell hold the payload length (limiting on-page
// keys and values to 16MB), bits 24-27 hold the item type, and the top
// 4 bits are unused. Payloads are padded so the next cell starts on a
// 4-byte boundary; decoders rely on that alignment when walking pages.
package item

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies what follows an item cell.
type Type uint8

const (
	TypeKey         Type = 0  // key
	TypeKeyOvfl     Type = 1  // key: overflow
	TypeKeyDup      Type = 2  // key: duplicate internal tree
	TypeKeyDupOvfl  Type = 3  // key: duplicate internal tree overflow
	TypeData        Type = 4  // data
	TypeDataOvfl    Type = 5  // data: overflow
	TypeDataDup     Type = 6  // data: duplicate
	TypeDataDupOvfl Type = 7  // data: duplicate overflow
	TypeDel         Type = 8  // deleted place-holder
	TypeOff         Type = 9  // off-page reference
	TypeOffRecord   Type = 10 // off-page reference with record count
)

const (
	// CellSize is the encoded size of an item cell.
	CellSize = 4

	// MaxLen is the largest payload an item can carry.
	MaxLen = 16*1024*1024 - 1

	typeMask  = 0x0f000000
	lenMask   = 0x00ffffff
	typeShift = 24
)

var (
	// ErrTooLarge is returned when a payload exceeds MaxLen.
	ErrTooLarge = errors.New("item payload exceeds 16MB limit")

	// ErrBadType is returned when a decoded cell carries a type outside
	// the closed enumeration.
	ErrBadType = errors.New("unknown item type")
)

var typeNames = [...]string{
	"key", "key-ovfl", "key-dup", "key-dup-ovfl",
	"data", "data-ovfl", "data-dup", "data-dup-ovfl",
	"del", "off", "off-record",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("item-type-%d", uint8(t))
}

// Valid reports whether t is one of the 11 defined item types.
func (t Type) Valid() bool {
	return t <= TypeOffRecord
}

// Overflow reports whether the item's payload is an overflow pointer
// rather than inline bytes.
func (t Type) Overflow() bool {
	switch t {
	case TypeKeyOvfl, TypeKeyDupOvfl, TypeDataOvfl, TypeDataDupOvfl:
		return true
	}
	return false
}

// Pack encodes a type and payload length into a cell value.
func Pack(t Type, size uint32) (uint32, error) {
	if size > MaxLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return uint32(t)<<typeShift | size, nil
}

// CellType extracts the item type from a cell value.
func CellType(cell uint32) Type {
	return Type((cell & typeMask) >> typeShift)
}

// CellLen extracts the payload length from a cell value.
func CellLen(cell uint32) uint32 {
	return cell & lenMask
}

// SetLen replaces the length in a cell, preserving its type.
func SetLen(cell, size uint32) (uint32, error) {
	return Pack(CellType(cell), size)
}

// SetType replaces the type in a cell, preserving its length.
func SetType(cell uint32, t Type) uint32 {
	return uint32(t)<<typeShift | (cell & lenMask)
}

// PutCell writes a cell value at the start of b.
func PutCell(b []byte, cell uint32) {
	binary.LittleEndian.PutUint32(b, cell)
}

// GetCell reads a cell value from the start of b.
func GetCell(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// SpaceNeeded returns the bytes an item occupies on a page: the cell,
// the payload, and padding to the next 4-byte boundary.
func SpaceNeeded(size uint32) uint32 {
	return (CellSize + size + 3) &^ 3
}
