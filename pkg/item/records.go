// pkg/item/records.go
package item

import (
	"encoding/binary"

	"grove/pkg/addr"
)

// Off is a reference from a row-store internal page to a subtree with no
// record count.
type Off struct {
	Addr addr.Addr // subtree root page address
	Size uint32    // subtree root page length
}

// OffRecord is a reference to a subtree with a total record count, used
// on column-store internal pages and for row-store off-page duplicate
// trees. The leading two fields match Off so generic code can read the
// address and size without knowing which variant it holds.
type OffRecord struct {
	Addr    addr.Addr
	Size    uint32
	Records uint64 // subtree record count
}

// Ovfl references a page holding an oversized key or value payload.
type Ovfl struct {
	Addr addr.Addr // overflow page address
	Size uint32    // overflow page length
}

// Encoded sizes.
const (
	OffSize       = 8
	OffRecordSize = 16
	OvflSize      = 8
)

// PutOff writes o into the first OffSize bytes of b.
func PutOff(b []byte, o Off) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(o.Addr))
	binary.LittleEndian.PutUint32(b[4:8], o.Size)
}

// GetOff reads an Off from the first OffSize bytes of b.
func GetOff(b []byte) Off {
	return Off{
		Addr: addr.Addr(binary.LittleEndian.Uint32(b[0:4])),
		Size: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// PutOffRecord writes o into the first OffRecordSize bytes of b. The
// record count is stored as two 32-bit words, low word first, so the
// structure has no alignment padding on disk.
func PutOffRecord(b []byte, o OffRecord) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(o.Addr))
	binary.LittleEndian.PutUint32(b[4:8], o.Size)
	binary.LittleEndian.PutUint32(b[8:12], uint32(o.Records))
	binary.LittleEndian.PutUint32(b[12:16], uint32(o.Records>>32))
}

// GetOffRecord reads an OffRecord from the first OffRecordSize bytes of
// b, reassembling the record count from its two words.
func GetOffRecord(b []byte) OffRecord {
	lo := binary.LittleEndian.Uint32(b[8:12])
	hi := binary.LittleEndian.Uint32(b[12:16])
	return OffRecord{
		Addr:    addr.Addr(binary.LittleEndian.Uint32(b[0:4])),
		Size:    binary.LittleEndian.Uint32(b[4:8]),
		Records: uint64(hi)<<32 | uint64(lo),
	}
}

// PutOvfl writes o into the first OvflSize bytes of b.
func PutOvfl(b []byte, o Ovfl) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(o.Addr))
	binary.LittleEndian.PutUint32(b[4:8], o.Size)
}

// GetOvfl reads an Ovfl from the first OvflSize bytes of b.
func GetOvfl(b []byte) Ovfl {
	return Ovfl{
		Addr: addr.Addr(binary.LittleEndian.Uint32(b[0:4])),
		Size: binary.LittleEndian.Uint32(b[4:8]),
	}
}
