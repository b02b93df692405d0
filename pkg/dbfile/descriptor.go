// pkg/dbfile/descriptor.go
// Package dbfile implements the grove database file descriptor.
//
// The descriptor occupies the first 512 bytes of every file and records
// the page-size bounds, the root and free-list page locations, and the
// file-wide flags. All sizes in the descriptor are multiples of the
// file's allocation unit, and all addresses are allocation-unit counts.
package dbfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"grove/pkg/addr"
)

const (
	// DescSize is the size of the descriptor in bytes. The descriptor
	// is always written as a full 512-byte block.
	DescSize = 512

	// Magic identifies a grove database file ("GROV").
	Magic = 0x47524F56

	// MajorVersion and MinorVersion describe the file format this build
	// reads and writes. A major version mismatch is fatal.
	MajorVersion = 1
	MinorVersion = 0

	// PageSizeMax is the largest page the format supports. Enforced by
	// the software; the format itself could go to 4GB.
	PageSizeMax = 256 * 1024 * 1024
)

// Default page size bounds.
const (
	DefaultIntlMax = 2 * 1024
	DefaultIntlMin = 2 * 1024
	DefaultLeafMax = 1024 * 1024
	DefaultLeafMin = 32 * 1024
)

// Descriptor flags.
const (
	// FlagRLE marks a fixed-length column-store file as run-length
	// encoded.
	FlagRLE uint32 = 0x01

	flagsAll = FlagRLE
)

// Descriptor field offsets.
const (
	offMagic       = 0  // 4 bytes: magic number
	offMajorV      = 4  // 2 bytes: major version
	offMinorV      = 6  // 2 bytes: minor version
	offIntlMax     = 8  // 4 bytes: maximum internal page size
	offIntlMin     = 12 // 4 bytes: minimum internal page size
	offLeafMax     = 16 // 4 bytes: maximum leaf page size
	offLeafMin     = 20 // 4 bytes: minimum leaf page size
	offRecnoOffset = 24 // 8 bytes: starting record number offset
	offRootAddr    = 32 // 4 bytes: root page address
	offRootSize    = 36 // 4 bytes: root page length
	offRecords     = 40 // 8 bytes: total record count
	offFreeAddr    = 48 // 4 bytes: free-list page address
	offFreeSize    = 52 // 4 bytes: free-list page length
	offFlags       = 56 // 4 bytes: flags
	offFixedLen    = 60 // 1 byte: fixed-length record size
	// 61-511: unused, written as zeros
)

var (
	// ErrInvalidMagic is returned for files that are not grove databases.
	ErrInvalidMagic = errors.New("invalid magic number: not a grove database")

	// ErrVersionMismatch is returned when the file's major version does
	// not match this build.
	ErrVersionMismatch = errors.New("incompatible file format version")

	// ErrDescTooShort is returned when fewer than DescSize bytes are
	// available to decode.
	ErrDescTooShort = errors.New("descriptor data too short")

	// ErrInvalidPageSize is returned when a page-size bound is outside
	// [allocation unit, 256MB] or not an allocation-unit multiple.
	ErrInvalidPageSize = errors.New("invalid page size")

	// ErrInvalidFlags is returned when unknown flag bits are set.
	ErrInvalidFlags = errors.New("unknown descriptor flags")
)

// Descriptor is the decoded form of the 512-byte file descriptor.
type Descriptor struct {
	MajorV      uint16    // file format major version
	MinorV      uint16    // file format minor version
	IntlMax     uint32    // maximum internal page size
	IntlMin     uint32    // minimum internal page size
	LeafMax     uint32    // maximum leaf page size
	LeafMin     uint32    // minimum leaf page size
	RecnoOffset uint64    // starting record number offset
	RootAddr    addr.Addr // root page address
	RootSize    uint32    // root page length
	Records     uint64    // total records in the file
	FreeAddr    addr.Addr // free-list page address
	FreeSize    uint32    // free-list page length
	Flags       uint32    // FlagRLE
	FixedLen    uint8     // fixed-length record size (column-store)
}

// NewDescriptor returns a descriptor with default values for a new,
// empty file: default page-size bounds, no root, no free list.
func NewDescriptor() *Descriptor {
	return &Descriptor{
		MajorV:   MajorVersion,
		MinorV:   MinorVersion,
		IntlMax:  DefaultIntlMax,
		IntlMin:  DefaultIntlMin,
		LeafMax:  DefaultLeafMax,
		LeafMin:  DefaultLeafMin,
		RootAddr: addr.Invalid,
		FreeAddr: addr.Invalid,
	}
}

// RLE reports whether the file uses run-length encoding.
func (d *Descriptor) RLE() bool {
	return d.Flags&FlagRLE != 0
}

// Encode serializes the descriptor to a DescSize-byte slice.
func (d *Descriptor) Encode() []byte {
	data := make([]byte, DescSize)

	binary.LittleEndian.PutUint32(data[offMagic:], Magic)
	binary.LittleEndian.PutUint16(data[offMajorV:], d.MajorV)
	binary.LittleEndian.PutUint16(data[offMinorV:], d.MinorV)
	binary.LittleEndian.PutUint32(data[offIntlMax:], d.IntlMax)
	binary.LittleEndian.PutUint32(data[offIntlMin:], d.IntlMin)
	binary.LittleEndian.PutUint32(data[offLeafMax:], d.LeafMax)
	binary.LittleEndian.PutUint32(data[offLeafMin:], d.LeafMin)
	binary.LittleEndian.PutUint64(data[offRecnoOffset:], d.RecnoOffset)
	binary.LittleEndian.PutUint32(data[offRootAddr:], uint32(d.RootAddr))
	binary.LittleEndian.PutUint32(data[offRootSize:], d.RootSize)
	binary.LittleEndian.PutUint64(data[offRecords:], d.Records)
	binary.LittleEndian.PutUint32(data[offFreeAddr:], uint32(d.FreeAddr))
	binary.LittleEndian.PutUint32(data[offFreeSize:], d.FreeSize)
	binary.LittleEndian.PutUint32(data[offFlags:], d.Flags)
	data[offFixedLen] = d.FixedLen

	return data
}

// DecodeDescriptor deserializes a descriptor, rejecting files with the
// wrong magic number or an incompatible major version.
func DecodeDescriptor(data []byte) (*Descriptor, error) {
	if len(data) < DescSize {
		return nil, ErrDescTooShort
	}
	if binary.LittleEndian.Uint32(data[offMagic:]) != Magic {
		return nil, ErrInvalidMagic
	}

	d := &Descriptor{
		MajorV:      binary.LittleEndian.Uint16(data[offMajorV:]),
		MinorV:      binary.LittleEndian.Uint16(data[offMinorV:]),
		IntlMax:     binary.LittleEndian.Uint32(data[offIntlMax:]),
		IntlMin:     binary.LittleEndian.Uint32(data[offIntlMin:]),
		LeafMax:     binary.LittleEndian.Uint32(data[offLeafMax:]),
		LeafMin:     binary.LittleEndian.Uint32(data[offLeafMin:]),
		RecnoOffset: binary.LittleEndian.Uint64(data[offRecnoOffset:]),
		RootAddr:    addr.Addr(binary.LittleEndian.Uint32(data[offRootAddr:])),
		RootSize:    binary.LittleEndian.Uint32(data[offRootSize:]),
		Records:     binary.LittleEndian.Uint64(data[offRecords:]),
		FreeAddr:    addr.Addr(binary.LittleEndian.Uint32(data[offFreeAddr:])),
		FreeSize:    binary.LittleEndian.Uint32(data[offFreeSize:]),
		Flags:       binary.LittleEndian.Uint32(data[offFlags:]),
		FixedLen:    data[offFixedLen],
	}

	if d.MajorV != MajorVersion {
		return nil, fmt.Errorf("%w: file %d.%d, build %d.%d",
			ErrVersionMismatch, d.MajorV, d.MinorV, MajorVersion, MinorVersion)
	}
	return d, nil
}

// Validate checks the descriptor's size fields against the file's
// allocation unit.
func (d *Descriptor) Validate(allocSize uint32) error {
	if err := addr.CheckAllocSize(allocSize); err != nil {
		return err
	}
	if d.Flags&^flagsAll != 0 {
		return fmt.Errorf("%w: %#x", ErrInvalidFlags, d.Flags)
	}
	for _, size := range []uint32{d.IntlMax, d.IntlMin, d.LeafMax, d.LeafMin} {
		if size < allocSize || size > PageSizeMax || size%allocSize != 0 {
			return fmt.Errorf("%w: %d (allocation unit %d)", ErrInvalidPageSize, size, allocSize)
		}
	}
	if d.RootAddr != addr.Invalid && d.RootSize%allocSize != 0 {
		return fmt.Errorf("%w: root size %d", ErrInvalidPageSize, d.RootSize)
	}
	if d.FreeAddr != addr.Invalid && d.FreeSize%allocSize != 0 {
		return fmt.Errorf("%w: free-list size %d", ErrInvalidPageSize, d.FreeSize)
	}
	return nil
}
