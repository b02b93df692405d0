// pkg/addr/addr.go
// Package addr converts between file byte offsets and page addresses.
//
// The file is carved into fixed-size allocation units (512B minimum,
// 128MB maximum) and every on-disk location is stored as a 32-bit count
// of those units, called an "addr". Page sizes must be a multiple of the
// allocation unit so addresses stay exact. Two address values are
// reserved: Deleted and Invalid. They are part of the on-disk format and
// are never handed out by allocation.
package addr

import (
	"errors"
	"fmt"
)

// Addr is a page location expressed as a count of allocation units.
type Addr uint32

const (
	// Deleted marks a page that has been removed from the file.
	Deleted Addr = 1<<32 - 2

	// Invalid marks a reference that has no page at all.
	Invalid Addr = 1<<32 - 1
)

// Allocation unit bounds. The 128MB maximum is enforced by the software;
// the format itself could go as high as 4GB.
const (
	AllocSizeMin = 512
	AllocSizeMax = 128 * 1024 * 1024
)

var (
	// ErrAddrRange is returned when a header field that requires a
	// concrete page location holds a reserved address.
	ErrAddrRange = errors.New("page address out of range")

	// ErrMisaligned is returned when a byte offset is not a multiple of
	// the allocation unit.
	ErrMisaligned = errors.New("file offset not aligned to allocation unit")

	// ErrAllocSize is returned for allocation units outside [512B, 128MB]
	// or not a power of two.
	ErrAllocSize = errors.New("invalid allocation unit size")
)

// CheckAllocSize validates an allocation unit size.
func CheckAllocSize(allocSize uint32) error {
	if allocSize < AllocSizeMin || allocSize > AllocSizeMax {
		return fmt.Errorf("%w: %d", ErrAllocSize, allocSize)
	}
	if allocSize&(allocSize-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of two", ErrAllocSize, allocSize)
	}
	return nil
}

// Check validates an address decoded from a field that must name a real
// page location. Both reserved values fail.
func Check(a Addr) error {
	if a >= Deleted {
		return fmt.Errorf("%w: %#x", ErrAddrRange, uint32(a))
	}
	return nil
}

// ToOffset converts an address to a file byte offset.
func ToOffset(a Addr, allocSize uint32) int64 {
	return int64(a) * int64(allocSize)
}

// ToAddr converts a file byte offset to an address. The offset must be
// allocation-unit aligned.
func ToAddr(off int64, allocSize uint32) (Addr, error) {
	if off%int64(allocSize) != 0 {
		return Invalid, fmt.Errorf("%w: offset %d, unit %d", ErrMisaligned, off, allocSize)
	}
	a := off / int64(allocSize)
	if a >= int64(Deleted) {
		return Invalid, fmt.Errorf("%w: offset %d, unit %d", ErrAddrRange, off, allocSize)
	}
	return Addr(a), nil
}

// Align rounds a byte length up to a multiple of the allocation unit.
func Align(size, allocSize uint32) uint32 {
	return (size + allocSize - 1) &^ (allocSize - 1)
}

// Units returns the number of allocation units needed to hold size bytes.
func Units(size, allocSize uint32) uint32 {
	return Align(size, allocSize) / allocSize
}
