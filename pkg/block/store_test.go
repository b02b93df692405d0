// pkg/block/store_test.go
package block

import (
	"bytes"
	"errors"
	"testing"

	"grove/pkg/addr"
)

func TestMemStore_ReadWrite(t *testing.T) {
	s, err := NewMemStore(512)
	if err != nil {
		t.Fatal(err)
	}

	blk := bytes.Repeat([]byte{0xAB}, 512)
	if err := s.WriteBlock(3, blk); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if got := s.Size(); got != 4*512 {
		t.Errorf("Size() = %d, want %d", got, 4*512)
	}

	got, err := s.ReadBlock(3, 512)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, blk) {
		t.Error("ReadBlock returned different bytes")
	}

	// Reads are copies: mutating the result must not touch the store.
	got[0] = 0xCD
	again, err := s.ReadBlock(3, 512)
	if err != nil {
		t.Fatal(err)
	}
	if again[0] != 0xAB {
		t.Error("ReadBlock result aliases store memory")
	}

	// The gap before the written block reads back as zeros.
	zero, err := s.ReadBlock(0, 512)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range zero {
		if b != 0 {
			t.Error("unwritten block is not zero-filled")
			break
		}
	}
}

func TestMemStore_Errors(t *testing.T) {
	s, err := NewMemStore(512)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.ReadBlock(10, 512); !errors.Is(err, ErrBlockRange) {
		t.Errorf("ReadBlock past end error = %v, want ErrBlockRange", err)
	}
	if err := s.WriteBlock(0, make([]byte, 100)); !errors.Is(err, ErrBlockSize) {
		t.Errorf("WriteBlock(100 bytes) error = %v, want ErrBlockSize", err)
	}
	if _, err := s.ReadBlock(addr.Invalid, 512); !errors.Is(err, addr.ErrAddrRange) {
		t.Errorf("ReadBlock(invalid) error = %v, want ErrAddrRange", err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadBlock(0, 512); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("ReadBlock after close error = %v, want ErrStoreClosed", err)
	}
	if err := s.WriteBlock(0, make([]byte, 512)); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("WriteBlock after close error = %v, want ErrStoreClosed", err)
	}
}

func TestEndAllocator(t *testing.T) {
	s, err := NewMemStore(512)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate an existing descriptor block.
	if err := s.WriteBlock(0, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}

	alloc, err := NewEndAllocator(s, 512)
	if err != nil {
		t.Fatal(err)
	}

	a1, err := alloc.Alloc(1024)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a1 != 1 {
		t.Errorf("first Alloc = %d, want 1 (past the descriptor)", a1)
	}
	a2, err := alloc.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}
	if a2 != 3 {
		t.Errorf("second Alloc = %d, want 3", a2)
	}

	// Freed space is not reused by the end allocator.
	alloc.Free(a1, 1024)
	a3, err := alloc.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}
	if a3 != 4 {
		t.Errorf("Alloc after Free = %d, want 4", a3)
	}

	if _, err := alloc.Alloc(100); !errors.Is(err, ErrBlockSize) {
		t.Errorf("Alloc(100) error = %v, want ErrBlockSize", err)
	}
	if _, err := alloc.Alloc(0); !errors.Is(err, ErrBlockSize) {
		t.Errorf("Alloc(0) error = %v, want ErrBlockSize", err)
	}
}

func TestFileStore(t *testing.T) {
	path := t.TempDir() + "/grove.db"
	s, err := OpenFile(path, Options{AllocSize: 512})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	blk := bytes.Repeat([]byte{0x5A}, 1024)
	if err := s.WriteBlock(2, blk); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := s.ReadBlock(2, 1024)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, blk) {
		t.Error("ReadBlock returned different bytes")
	}
	if s.Size() < 4*512 {
		t.Errorf("Size() = %d after writing through addr 2+1024", s.Size())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Data survives a reopen.
	s2, err := OpenFile(path, Options{AllocSize: 512})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err = s2.ReadBlock(2, 1024)
	if err != nil {
		t.Fatalf("ReadBlock after reopen: %v", err)
	}
	if !bytes.Equal(got, blk) {
		t.Error("block did not survive reopen")
	}
}

func TestFileStore_Lock(t *testing.T) {
	path := t.TempDir() + "/grove.db"
	s, err := OpenFile(path, Options{AllocSize: 512, Lock: true})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	if _, err := OpenFile(path, Options{AllocSize: 512, Lock: true}); !errors.Is(err, ErrFileLocked) {
		t.Errorf("second locked open error = %v, want ErrFileLocked", err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s2, err := OpenFile(path, Options{AllocSize: 512, Lock: true})
	if err != nil {
		t.Fatalf("open after unlock: %v", err)
	}
	s2.Close()
}
