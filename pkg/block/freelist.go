// pkg/block/freelist.go
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"grove/pkg/addr"
)

// ErrFreeListData is returned when a free-list payload cannot be
// decoded.
var ErrFreeListData = errors.New("malformed free-list data")

// extent is one contiguous free region of the file.
type extent struct {
	addr addr.Addr
	size uint32 // bytes
}

// ExtentSize is the encoded size of one extent: address and length.
const ExtentSize = 8

// FreeList is an Allocator that reuses freed regions. Extents are kept
// sorted by address and adjacent extents are merged, so repeated
// free/alloc cycles do not fragment the list. Requests no extent can
// satisfy fall through to the tail allocator.
//
// The extent list is persisted in the body of a free-list page; the
// descriptor's free-list fields record where. Encode and Decode handle
// the body bytes, the caller wraps them in a page image.
type FreeList struct {
	mu        sync.Mutex
	allocSize uint32
	tail      Allocator
	extents   []extent
}

// NewFreeList returns an empty free list in front of a tail allocator.
func NewFreeList(tail Allocator, allocSize uint32) (*FreeList, error) {
	if err := addr.CheckAllocSize(allocSize); err != nil {
		return nil, err
	}
	if tail == nil {
		return nil, errors.New("free list needs a tail allocator")
	}
	return &FreeList{allocSize: allocSize, tail: tail}, nil
}

// Alloc returns a region of size bytes, reusing the first free extent
// large enough and splitting it when it is larger.
func (f *FreeList) Alloc(size uint32) (addr.Addr, error) {
	if size == 0 || size%f.allocSize != 0 {
		return addr.Invalid, fmt.Errorf("%w: %d", ErrBlockSize, size)
	}

	f.mu.Lock()
	for i := range f.extents {
		e := &f.extents[i]
		if e.size < size {
			continue
		}
		a := e.addr
		if e.size == size {
			f.extents = append(f.extents[:i], f.extents[i+1:]...)
		} else {
			e.addr += addr.Addr(size / f.allocSize)
			e.size -= size
		}
		f.mu.Unlock()
		return a, nil
	}
	f.mu.Unlock()

	return f.tail.Alloc(size)
}

// Free returns a region to the list, merging it with adjacent extents.
func (f *FreeList) Free(a addr.Addr, size uint32) {
	if size == 0 || size%f.allocSize != 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	i := sort.Search(len(f.extents), func(i int) bool {
		return f.extents[i].addr >= a
	})
	f.extents = append(f.extents, extent{})
	copy(f.extents[i+1:], f.extents[i:])
	f.extents[i] = extent{addr: a, size: size}

	// Merge with the following extent, then the preceding one.
	if i+1 < len(f.extents) && f.end(i) == f.extents[i+1].addr {
		f.extents[i].size += f.extents[i+1].size
		f.extents = append(f.extents[:i+1], f.extents[i+2:]...)
	}
	if i > 0 && f.end(i-1) == f.extents[i].addr {
		f.extents[i-1].size += f.extents[i].size
		f.extents = append(f.extents[:i], f.extents[i+1:]...)
	}
}

// end returns the address one past extent i.
func (f *FreeList) end(i int) addr.Addr {
	e := f.extents[i]
	return e.addr + addr.Addr(e.size/f.allocSize)
}

// FreeBytes returns the total bytes held by the list.
func (f *FreeList) FreeBytes() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n uint64
	for _, e := range f.extents {
		n += uint64(e.size)
	}
	return n
}

// Extents returns the number of free extents.
func (f *FreeList) Extents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.extents)
}

// Encode serializes the extent list: one {addr, size} pair per extent,
// in address order.
func (f *FreeList) Encode() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(f.extents)*ExtentSize)
	for i, e := range f.extents {
		binary.LittleEndian.PutUint32(buf[i*ExtentSize:], uint32(e.addr))
		binary.LittleEndian.PutUint32(buf[i*ExtentSize+4:], e.size)
	}
	return buf
}

// Decode replaces the extent list with count extents decoded from buf.
func (f *FreeList) Decode(buf []byte, count uint32) error {
	if uint32(len(buf)) < count*ExtentSize {
		return fmt.Errorf("%w: %d extents in %d bytes", ErrFreeListData, count, len(buf))
	}
	extents := make([]extent, count)
	for i := range extents {
		a := addr.Addr(binary.LittleEndian.Uint32(buf[i*ExtentSize:]))
		size := binary.LittleEndian.Uint32(buf[i*ExtentSize+4:])
		if err := addr.Check(a); err != nil {
			return fmt.Errorf("%w: extent %d: %v", ErrFreeListData, i, err)
		}
		if size == 0 || size%f.allocSize != 0 {
			return fmt.Errorf("%w: extent %d size %d", ErrFreeListData, i, size)
		}
		if i > 0 && a <= extents[i-1].addr {
			return fmt.Errorf("%w: extents out of order", ErrFreeListData)
		}
		extents[i] = extent{addr: a, size: size}
	}

	f.mu.Lock()
	f.extents = extents
	f.mu.Unlock()
	return nil
}
