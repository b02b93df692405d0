// pkg/block/freelist_test.go
package block

import (
	"errors"
	"testing"
)

func newFreeList(t *testing.T) *FreeList {
	t.Helper()
	s, err := NewMemStore(512)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteBlock(0, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}
	tail, err := NewEndAllocator(s, 512)
	if err != nil {
		t.Fatal(err)
	}
	f, err := NewFreeList(tail, 512)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFreeList_Reuse(t *testing.T) {
	f := newFreeList(t)

	a1, err := f.Alloc(1024)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := f.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}

	// A freed region satisfies the next fitting request.
	f.Free(a1, 1024)
	if f.FreeBytes() != 1024 {
		t.Errorf("FreeBytes() = %d, want 1024", f.FreeBytes())
	}
	a3, err := f.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}
	if a3 != a1 {
		t.Errorf("Alloc after Free = %d, want reused %d", a3, a1)
	}
	if f.FreeBytes() != 512 {
		t.Errorf("FreeBytes() after split = %d, want 512", f.FreeBytes())
	}

	// The remainder of the split extent goes next.
	a4, err := f.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}
	if a4 != a1+1 {
		t.Errorf("Alloc = %d, want split remainder %d", a4, a1+1)
	}
	if f.Extents() != 0 {
		t.Errorf("Extents() = %d, want 0", f.Extents())
	}
	_ = a2
}

func TestFreeList_Coalesce(t *testing.T) {
	f := newFreeList(t)

	a, err := f.Alloc(3 * 512)
	if err != nil {
		t.Fatal(err)
	}

	// Free the three units out of order; they must merge into one
	// extent.
	f.Free(a+2, 512)
	f.Free(a, 512)
	if f.Extents() != 2 {
		t.Fatalf("Extents() = %d before middle free, want 2", f.Extents())
	}
	f.Free(a+1, 512)
	if f.Extents() != 1 {
		t.Errorf("Extents() = %d after coalescing, want 1", f.Extents())
	}
	if f.FreeBytes() != 3*512 {
		t.Errorf("FreeBytes() = %d, want %d", f.FreeBytes(), 3*512)
	}

	// The merged extent satisfies a request no fragment could.
	got, err := f.Alloc(3 * 512)
	if err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Errorf("Alloc = %d, want %d", got, a)
	}
}

func TestFreeList_FallsThrough(t *testing.T) {
	f := newFreeList(t)

	a1, err := f.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}
	f.Free(a1, 512)

	// Nothing free is big enough; the tail allocator extends the file.
	a2, err := f.Alloc(1024)
	if err != nil {
		t.Fatal(err)
	}
	if a2 == a1 {
		t.Error("oversized request reused a too-small extent")
	}
	if f.FreeBytes() != 512 {
		t.Errorf("FreeBytes() = %d, want 512 untouched", f.FreeBytes())
	}

	if _, err := f.Alloc(100); !errors.Is(err, ErrBlockSize) {
		t.Errorf("Alloc(100) error = %v, want ErrBlockSize", err)
	}
}

func TestFreeList_EncodeDecode(t *testing.T) {
	f := newFreeList(t)
	a, err := f.Alloc(4 * 512)
	if err != nil {
		t.Fatal(err)
	}
	f.Free(a, 512)
	f.Free(a+2, 2*512)

	buf := f.Encode()
	if len(buf) != 2*ExtentSize {
		t.Fatalf("Encode() = %d bytes, want %d", len(buf), 2*ExtentSize)
	}

	g := newFreeList(t)
	if err := g.Decode(buf, 2); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.FreeBytes() != f.FreeBytes() || g.Extents() != f.Extents() {
		t.Errorf("decoded list: %d bytes in %d extents, want %d in %d",
			g.FreeBytes(), g.Extents(), f.FreeBytes(), f.Extents())
	}

	// Truncated and out-of-order payloads are rejected.
	if err := g.Decode(buf[:7], 1); !errors.Is(err, ErrFreeListData) {
		t.Errorf("Decode(short) error = %v, want ErrFreeListData", err)
	}
	swapped := append(append([]byte{}, buf[ExtentSize:]...), buf[:ExtentSize]...)
	if err := g.Decode(swapped, 2); !errors.Is(err, ErrFreeListData) {
		t.Errorf("Decode(out of order) error = %v, want ErrFreeListData", err)
	}
	bad := append([]byte{}, buf...)
	copy(bad[0:4], []byte{0xFF, 0xFF, 0xFF, 0xFF}) // reserved address
	if err := g.Decode(bad, 2); !errors.Is(err, ErrFreeListData) {
		t.Errorf("Decode(reserved addr) error = %v, want ErrFreeListData", err)
	}
}
