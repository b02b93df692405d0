// pkg/page/header_test.go
package page

import (
	"errors"
	"testing"

	"grove/pkg/item"
)

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{
		StartRecno: 1 << 40,
		LSNFile:    3,
		LSNOff:     4096,
		Checksum:   0xCAFEBABE,
		Entries:    17,
		Kind:       KindRowLeaf,
		Level:      LevelLeaf,
	}
	buf := make([]byte, HeaderSize)
	if err := h.Put(buf); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Errorf("DecodeHeader = %+v, want %+v", got, h)
	}
}

func TestHeader_BadKind(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[offKind] = 11
	if _, err := DecodeHeader(buf); !errors.Is(err, ErrBadKind) {
		t.Errorf("DecodeHeader error = %v, want ErrBadKind", err)
	}
	buf[offKind] = 0 // KindInvalid is not acceptable either
	if _, err := DecodeHeader(buf); !errors.Is(err, ErrBadKind) {
		t.Errorf("DecodeHeader(invalid kind) error = %v, want ErrBadKind", err)
	}
}

func TestHeader_Short(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); !errors.Is(err, ErrHeaderTooShort) {
		t.Errorf("DecodeHeader error = %v, want ErrHeaderTooShort", err)
	}
	h := Header{Kind: KindRowLeaf}
	if err := h.Put(make([]byte, HeaderSize-1)); !errors.Is(err, ErrHeaderTooShort) {
		t.Errorf("Put error = %v, want ErrHeaderTooShort", err)
	}
}

func TestChecksum(t *testing.T) {
	b := NewBuilder(KindRowLeaf, LevelLeaf, 512)
	if err := b.AppendItem(item.TypeKey, []byte("key")); err != nil {
		t.Fatal(err)
	}
	buf, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if err := VerifyChecksum(buf); err != nil {
		t.Errorf("VerifyChecksum on fresh image: %v", err)
	}

	// Flipping any payload byte must be detected.
	buf[HeaderSize+5] ^= 0x01
	if err := VerifyChecksum(buf); !errors.Is(err, ErrChecksum) {
		t.Errorf("VerifyChecksum(corrupt payload) = %v, want ErrChecksum", err)
	}
	buf[HeaderSize+5] ^= 0x01

	// So must a corrupted checksum field itself.
	buf[offChecksum] ^= 0x01
	if err := VerifyChecksum(buf); !errors.Is(err, ErrChecksum) {
		t.Errorf("VerifyChecksum(corrupt field) = %v, want ErrChecksum", err)
	}
	buf[offChecksum] ^= 0x01

	// And a corrupted header byte before the checksum field.
	buf[offLSNFile] ^= 0x01
	if err := VerifyChecksum(buf); !errors.Is(err, ErrChecksum) {
		t.Errorf("VerifyChecksum(corrupt header) = %v, want ErrChecksum", err)
	}
}

func TestKindString(t *testing.T) {
	if got := KindRowLeaf.String(); got != "row-leaf" {
		t.Errorf("KindRowLeaf.String() = %q", got)
	}
	if got := Kind(42).String(); got != "page-kind-42" {
		t.Errorf("Kind(42).String() = %q", got)
	}
}
