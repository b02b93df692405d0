// pkg/page/page_test.go
package page

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"grove/pkg/addr"
	"grove/pkg/item"
)

// buildRowLeaf assembles a row-store leaf image from key/value pairs.
func buildRowLeaf(t *testing.T, pairs [][2]string) []byte {
	t.Helper()
	b := NewBuilder(KindRowLeaf, LevelLeaf, 4096)
	for _, kv := range pairs {
		if err := b.AppendItem(item.TypeKey, []byte(kv[0])); err != nil {
			t.Fatal(err)
		}
		if err := b.AppendItem(item.TypeData, []byte(kv[1])); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestRowLeaf_Assemble(t *testing.T) {
	pairs := [][2]string{
		{"apple", "red"},
		{"banana", "yellow"},
		{"cherry", "dark red"},
	}
	p, err := New(1, buildRowLeaf(t, pairs), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if p.Kind() != KindRowLeaf || p.Level() != LevelLeaf {
		t.Errorf("kind/level = %v/%d", p.Kind(), p.Level())
	}
	if p.Entries() != 3 {
		t.Fatalf("Entries() = %d, want 3", p.Entries())
	}
	if p.Records() != 3 {
		t.Errorf("Records() = %d, want 3", p.Records())
	}

	var prev []byte
	for i, kv := range pairs {
		key, err := p.Key(i)
		if err != nil {
			t.Fatalf("Key(%d): %v", i, err)
		}
		if string(key) != kv[0] {
			t.Errorf("Key(%d) = %q, want %q", i, key, kv[0])
		}
		if prev != nil && bytes.Compare(prev, key) >= 0 {
			t.Errorf("keys out of order: %q before %q", prev, key)
		}
		prev = key

		v, err := p.Value(i)
		if err != nil {
			t.Fatalf("Value(%d): %v", i, err)
		}
		if string(v) != kv[1] {
			t.Errorf("Value(%d) = %q, want %q", i, v, kv[1])
		}
	}

	if _, err := p.Key(3); !errors.Is(err, ErrSlotRange) {
		t.Errorf("Key(3) error = %v, want ErrSlotRange", err)
	}
	if _, err := p.Key(-1); !errors.Is(err, ErrSlotRange) {
		t.Errorf("Key(-1) error = %v, want ErrSlotRange", err)
	}
}

// Build a leaf with three sorted pairs, bring it into memory, delete the
// middle entry through the overlay, and read everything back.
func TestRowLeaf_DeleteOverlay(t *testing.T) {
	pairs := [][2]string{
		{"apple", "red"},
		{"banana", "yellow"},
		{"cherry", "dark red"},
	}
	p, err := New(1, buildRowLeaf(t, pairs), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gen := p.WriteGen()
	if err := p.Apply(gen, func(p *Page) error { return p.Delete(1) }); err != nil {
		t.Fatalf("Apply(Delete): %v", err)
	}

	for i, kv := range pairs {
		v, deleted, err := p.ReadEntry(i)
		if err != nil {
			t.Fatalf("ReadEntry(%d): %v", i, err)
		}
		if wantDel := i == 1; deleted != wantDel {
			t.Errorf("ReadEntry(%d) deleted = %v, want %v", i, deleted, wantDel)
		}
		if i != 1 && string(v) != kv[1] {
			t.Errorf("ReadEntry(%d) = %q, want %q", i, v, kv[1])
		}
	}

	// The on-page image is untouched; only the overlay records the delete.
	if v, _ := p.Value(1); string(v) != "yellow" {
		t.Errorf("Value(1) after delete = %q, want %q", v, "yellow")
	}
	if !p.Modified() {
		t.Error("Modified() = false after a delete")
	}
}

func TestRowLeaf_DuplicateKeys(t *testing.T) {
	b := NewBuilder(KindRowLeaf, LevelLeaf, 4096)
	if err := b.AppendItem(item.TypeKey, []byte("color")); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"red", "green", "blue"} {
		if err := b.AppendItem(item.TypeDataDup, []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.AppendItem(item.TypeKey, []byte("shape")); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendItem(item.TypeData, []byte("round")); err != nil {
		t.Fatal(err)
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Entries() != 4 {
		t.Fatalf("Entries() = %d, want 4", p.Entries())
	}

	// Slots 0-2 share "color": identity, not just equal bytes.
	for slot, want := range []bool{false, true, true, false} {
		if got := p.IsDuplicateKey(slot); got != want {
			t.Errorf("IsDuplicateKey(%d) = %v, want %v", slot, got, want)
		}
	}
	for slot, want := range []string{"color", "color", "color", "shape"} {
		key, err := p.Key(slot)
		if err != nil {
			t.Fatalf("Key(%d): %v", slot, err)
		}
		if string(key) != want {
			t.Errorf("Key(%d) = %q, want %q", slot, key, want)
		}
	}
}

func TestRowLeaf_OffPageDuplicates(t *testing.T) {
	b := NewBuilder(KindRowLeaf, LevelLeaf, 4096)
	if err := b.AppendItem(item.TypeKey, []byte("big")); err != nil {
		t.Fatal(err)
	}
	ref := item.OffRecord{Addr: 9, Size: 4096, Records: 1000}
	if err := b.AppendOffRecord(ref); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendItem(item.TypeKey, []byte("small")); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendItem(item.TypeData, []byte("v")); err != nil {
		t.Fatal(err)
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Records() != 1001 {
		t.Errorf("Records() = %d, want 1001", p.Records())
	}

	got, err := p.OffRecord(0)
	if err != nil {
		t.Fatalf("OffRecord(0): %v", err)
	}
	if got != ref {
		t.Errorf("OffRecord(0) = %+v, want %+v", got, ref)
	}
	r := p.Ref(0)
	if r == nil {
		t.Fatal("Ref(0) = nil for off-page duplicate slot")
	}
	if r.Addr() != 9 || r.State() != RefDisk {
		t.Errorf("Ref(0) addr=%d state=%v, want 9/on-disk", r.Addr(), r.State())
	}
	if p.Ref(1) != nil {
		t.Error("Ref(1) != nil for an inline slot")
	}
	if _, err := p.OffRecord(1); !errors.Is(err, ErrWrongKind) {
		t.Errorf("OffRecord(1) error = %v, want ErrWrongKind", err)
	}
}

func TestRowInternal_Assemble(t *testing.T) {
	b := NewBuilder(KindRowInt, LevelLeaf+1, 4096)
	subs := []item.Off{{Addr: 3, Size: 512}, {Addr: 7, Size: 1024}}
	for i, o := range subs {
		if err := b.AppendItem(item.TypeKey, []byte(fmt.Sprintf("key%d", i))); err != nil {
			t.Fatal(err)
		}
		if err := b.AppendOff(o); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Entries() != 2 {
		t.Fatalf("Entries() = %d, want 2", p.Entries())
	}
	for i, want := range subs {
		got, err := p.Off(i)
		if err != nil {
			t.Fatalf("Off(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("Off(%d) = %+v, want %+v", i, got, want)
		}
		r := p.Ref(i)
		if r == nil || r.Addr() != want.Addr || r.Size() != want.Size {
			t.Errorf("Ref(%d) = %+v", i, r)
		}
	}
}

func TestRowInternal_BadSequence(t *testing.T) {
	// Two keys in a row.
	b := NewBuilder(KindRowInt, LevelLeaf+1, 512)
	b.AppendItem(item.TypeKey, []byte("a"))
	b.AppendItem(item.TypeKey, []byte("b"))
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(1, buf, Config{}); !errors.Is(err, ErrItemSequence) {
		t.Errorf("New(key,key) error = %v, want ErrItemSequence", err)
	}

	// Data item with no key on a leaf.
	b = NewBuilder(KindRowLeaf, LevelLeaf, 512)
	b.AppendItem(item.TypeData, []byte("orphan"))
	buf, err = b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(1, buf, Config{}); !errors.Is(err, ErrItemSequence) {
		t.Errorf("New(orphan data) error = %v, want ErrItemSequence", err)
	}
}

func TestDupLeaf_Assemble(t *testing.T) {
	b := NewBuilder(KindDupLeaf, LevelLeaf, 512)
	vals := []string{"one", "two", "three"}
	for _, v := range vals {
		if err := b.AppendItem(item.TypeDataDup, []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Records() != 3 {
		t.Errorf("Records() = %d, want 3", p.Records())
	}
	for i, want := range vals {
		v, err := p.Value(i)
		if err != nil {
			t.Fatalf("Value(%d): %v", i, err)
		}
		if string(v) != want {
			t.Errorf("Value(%d) = %q, want %q", i, v, want)
		}
	}
}

func TestColInternal_Assemble(t *testing.T) {
	b := NewBuilder(KindColInt, LevelLeaf+1, 512)
	b.SetStartRecno(1)
	subs := []item.OffRecord{
		{Addr: 2, Size: 512, Records: 100},
		{Addr: 5, Size: 1024, Records: 250},
	}
	for _, o := range subs {
		if err := b.AppendColOffRecord(o); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Records() != 350 {
		t.Errorf("Records() = %d, want 350", p.Records())
	}
	if p.Header().StartRecno != 1 {
		t.Errorf("StartRecno = %d, want 1", p.Header().StartRecno)
	}
	for i, want := range subs {
		got, err := p.OffRecord(i)
		if err != nil {
			t.Fatalf("OffRecord(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("OffRecord(%d) = %+v, want %+v", i, got, want)
		}
		if r := p.Ref(i); r == nil || r.Addr() != want.Addr {
			t.Errorf("Ref(%d) = %+v", i, r)
		}
	}
}

func TestColFixed_Assemble(t *testing.T) {
	b := NewBuilder(KindColFix, LevelLeaf, 512)
	b.SetStartRecno(10)
	recs := []string{"aaaa", "bbbb", "cccc"}
	for _, r := range recs {
		if err := b.AppendFixed([]byte(r)); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{FixedLen: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Records() != 3 {
		t.Errorf("Records() = %d, want 3", p.Records())
	}
	for i, want := range recs {
		v, err := p.ColData(i)
		if err != nil {
			t.Fatalf("ColData(%d): %v", i, err)
		}
		if string(v) != want {
			t.Errorf("ColData(%d) = %q, want %q", i, v, want)
		}
	}

	// Without a record size the page cannot be assembled.
	if _, err := New(1, buf, Config{}); !errors.Is(err, ErrFixedLen) {
		t.Errorf("New without fixed length error = %v, want ErrFixedLen", err)
	}
}

func TestColFixed_DeleteFlag(t *testing.T) {
	rec := []byte{0x01, 0x02}
	if FixIsDeleted(rec) {
		t.Error("FixIsDeleted(live record) = true")
	}
	FixDelete(rec)
	if !FixIsDeleted(rec) {
		t.Error("FixIsDeleted(deleted record) = false")
	}
	if rec[0] != FixDeleteByte {
		t.Errorf("deleted record first byte = %#x", rec[0])
	}
}

func TestColVar_Assemble(t *testing.T) {
	b := NewBuilder(KindColVar, LevelLeaf, 512)
	b.SetStartRecno(1)
	if err := b.AppendItem(item.TypeData, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendItem(item.TypeDel, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendItem(item.TypeData, []byte("third")); err != nil {
		t.Fatal(err)
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Records() != 3 {
		t.Errorf("Records() = %d, want 3 (deleted place-holders keep numbering)", p.Records())
	}

	v, deleted, err := p.ReadEntry(0)
	if err != nil || deleted || string(v) != "first" {
		t.Errorf("ReadEntry(0) = %q, %v, %v", v, deleted, err)
	}
	_, deleted, err = p.ReadEntry(1)
	if err != nil || !deleted {
		t.Errorf("ReadEntry(1) deleted = %v, err = %v, want deleted", deleted, err)
	}
	v, deleted, err = p.ReadEntry(2)
	if err != nil || deleted || string(v) != "third" {
		t.Errorf("ReadEntry(2) = %q, %v, %v", v, deleted, err)
	}
}

type fakeOvfl map[addr.Addr][]byte

func (f fakeOvfl) ReadOverflow(o item.Ovfl) ([]byte, error) {
	b, ok := f[o.Addr]
	if !ok {
		return nil, fmt.Errorf("no overflow page at %#x", uint32(o.Addr))
	}
	return b, nil
}

func TestRowLeaf_OverflowValue(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 1000)
	store := fakeOvfl{addr.Addr(50): big}

	b := NewBuilder(KindRowLeaf, LevelLeaf, 512)
	if err := b.AppendItem(item.TypeKey, []byte("huge")); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendOvfl(item.TypeDataOvfl, item.Ovfl{Addr: 50, Size: 1024}); err != nil {
		t.Fatal(err)
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(1, buf, Config{Overflow: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, err := p.Value(0)
	if err != nil {
		t.Fatalf("Value(0): %v", err)
	}
	if !bytes.Equal(v, big) {
		t.Errorf("Value(0) = %d bytes, want %d", len(v), len(big))
	}

	// Without an overflow store the read fails cleanly.
	p2, err := New(1, buf, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p2.Value(0); !errors.Is(err, ErrNoOverflow) {
		t.Errorf("Value without store error = %v, want ErrNoOverflow", err)
	}
}

func TestWrongKind(t *testing.T) {
	p, err := New(1, buildRowLeaf(t, [][2]string{{"k", "v"}}), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Off(0); !errors.Is(err, ErrWrongKind) {
		t.Errorf("Off on row-leaf error = %v, want ErrWrongKind", err)
	}
	if _, err := p.ColData(0); !errors.Is(err, ErrWrongKind) {
		t.Errorf("ColData on row-leaf error = %v, want ErrWrongKind", err)
	}
	if _, err := p.RLECount(0); !errors.Is(err, ErrWrongKind) {
		t.Errorf("RLECount on row-leaf error = %v, want ErrWrongKind", err)
	}
}

func TestColPages_OversizedEntryCount(t *testing.T) {
	// Entry counts whose byte product wraps a 32-bit multiply. A
	// checksum-valid image with a hostile count must fail assembly, not
	// read past the payload.
	tests := []struct {
		name string
		kind Kind
		cfg  Config
	}{
		{"col-int", KindColInt, Config{}},
		{"col-fix", KindColFix, Config{FixedLen: 16}},
		{"col-rle", KindColRLE, Config{FixedLen: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 512)
			hdr := Header{Kind: tt.kind, Level: LevelLeaf, Entries: 0x10000001}
			if err := hdr.Put(buf); err != nil {
				t.Fatal(err)
			}
			if err := SetChecksum(buf); err != nil {
				t.Fatal(err)
			}
			if _, err := New(1, buf, tt.cfg); !errors.Is(err, ErrPageTooSmall) {
				t.Errorf("New error = %v, want ErrPageTooSmall", err)
			}
		})
	}
}
