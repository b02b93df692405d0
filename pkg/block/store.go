// pkg/block/store.go
// Package block provides the byte-addressable persistent store
// underneath the page code: reads and writes of whole blocks at
// allocation-unit-aligned offsets, plus the file-address allocator the
// page codecs treat as an opaque source of {addr, size} pairs.
package block

import (
	"errors"
	"fmt"
	"sync"

	"grove/pkg/addr"
)

var (
	// ErrBlockRange is returned for reads and writes past the end of the
	// store.
	ErrBlockRange = errors.New("block out of range")

	// ErrBlockSize is returned when a block length is not a multiple of
	// the allocation unit.
	ErrBlockSize = errors.New("block size not an allocation-unit multiple")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("block store is closed")
)

// Store is a byte-addressable persistent store of fixed-size blocks.
// Addresses are allocation-unit counts; every block starts on an
// allocation-unit boundary and is a whole number of units long.
type Store interface {
	// ReadBlock returns a copy of the size bytes at address a.
	ReadBlock(a addr.Addr, size uint32) ([]byte, error)

	// WriteBlock writes data at address a, growing the store if needed.
	WriteBlock(a addr.Addr, data []byte) error

	// Size returns the store's current size in bytes.
	Size() int64

	// Sync flushes pending writes to the durable device.
	Sync() error

	// Close releases the store.
	Close() error
}

// Allocator hands out file addresses for new blocks. The page code never
// looks inside it; a free-list implementation can replace EndAllocator
// without the callers noticing.
type Allocator interface {
	// Alloc returns the address of an unused region of size bytes. The
	// size must be an allocation-unit multiple.
	Alloc(size uint32) (addr.Addr, error)

	// Free returns a region to the allocator.
	Free(a addr.Addr, size uint32)
}

// EndAllocator allocates from the end of a store and never reuses freed
// space. It is the bootstrap allocator; freed regions are remembered
// only as a count.
type EndAllocator struct {
	mu        sync.Mutex
	allocSize uint32
	next      addr.Addr
	freed     uint64 // bytes returned via Free, not yet reusable
}

// NewEndAllocator returns an allocator that starts handing out addresses
// at the current end of the store.
func NewEndAllocator(s Store, allocSize uint32) (*EndAllocator, error) {
	if err := addr.CheckAllocSize(allocSize); err != nil {
		return nil, err
	}
	a, err := addr.ToAddr(s.Size(), allocSize)
	if err != nil {
		return nil, err
	}
	return &EndAllocator{allocSize: allocSize, next: a}, nil
}

// Alloc returns the next region of size bytes.
func (e *EndAllocator) Alloc(size uint32) (addr.Addr, error) {
	if size == 0 || size%e.allocSize != 0 {
		return addr.Invalid, fmt.Errorf("%w: %d", ErrBlockSize, size)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.next
	next := addr.Addr(uint64(a) + uint64(size/e.allocSize))
	if next >= addr.Deleted {
		return addr.Invalid, fmt.Errorf("%w: file full", addr.ErrAddrRange)
	}
	e.next = next
	return a, nil
}

// Free records the region as unused. EndAllocator does not reuse space;
// the real free list takes over once a file has one.
func (e *EndAllocator) Free(a addr.Addr, size uint32) {
	e.mu.Lock()
	e.freed += uint64(size)
	e.mu.Unlock()
}

// MemStore is an in-memory Store used by tests and :memory: files.
type MemStore struct {
	mu        sync.RWMutex
	allocSize uint32
	data      []byte
	closed    bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore(allocSize uint32) (*MemStore, error) {
	if err := addr.CheckAllocSize(allocSize); err != nil {
		return nil, err
	}
	return &MemStore{allocSize: allocSize}, nil
}

// ReadBlock returns a copy of the block at a.
func (m *MemStore) ReadBlock(a addr.Addr, size uint32) ([]byte, error) {
	if err := checkBlock(a, size, m.allocSize); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	off := addr.ToOffset(a, m.allocSize)
	if off+int64(size) > int64(len(m.data)) {
		return nil, fmt.Errorf("%w: addr %#x size %d", ErrBlockRange, uint32(a), size)
	}
	buf := make([]byte, size)
	copy(buf, m.data[off:])
	return buf, nil
}

// WriteBlock writes data at a, growing the store as needed.
func (m *MemStore) WriteBlock(a addr.Addr, data []byte) error {
	if err := checkBlock(a, uint32(len(data)), m.allocSize); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	off := addr.ToOffset(a, m.allocSize)
	if end := off + int64(len(data)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], data)
	return nil
}

// Size returns the store's size in bytes.
func (m *MemStore) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// Sync is a no-op for memory stores.
func (m *MemStore) Sync() error { return nil }

// Close releases the store.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.closed = true
	return nil
}

func checkBlock(a addr.Addr, size uint32, allocSize uint32) error {
	if err := addr.Check(a); err != nil {
		return err
	}
	if size == 0 || size%allocSize != 0 {
		return fmt.Errorf("%w: %d", ErrBlockSize, size)
	}
	return nil
}
