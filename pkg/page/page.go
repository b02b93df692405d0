// pkg/page/page.go
package page

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"grove/pkg/addr"
	"grove/pkg/item"
)

var (
	// ErrSlotRange is returned for index slots outside the page.
	ErrSlotRange = errors.New("entry slot out of range")

	// ErrWrongKind is returned when an accessor is used on a page layout
	// that does not support it.
	ErrWrongKind = errors.New("operation not supported for page type")

	// ErrNoOverflow is returned when an overflow payload is needed but
	// no overflow reader is configured.
	ErrNoOverflow = errors.New("no overflow reader configured")
)

// RowEntry describes one key/data pair on a row-store page. The key
// points at the on-page key bytes until the key is processed; after
// processing it points at the decoded buffer. Adjacent entries for
// duplicate keys share a single key slice.
type RowEntry struct {
	key     []byte
	data    uint32 // byte offset of the paired data/off-page cell
	ovflKey bool   // key payload is an overflow pointer
	encKey  bool   // key payload is encoded with the key codec
}

// ColEntry describes one slot on a column-store page: a byte offset into
// the page image. For variable-length pages it is an item cell; for
// fixed-length pages it is raw record bytes; for run-length encoded
// pages it is a 2-byte repeat count followed by record bytes.
type ColEntry struct {
	data uint32
}

// Page is the in-memory form of a file page. The page image and the
// index built over it are immutable once assembled; all logical
// mutation goes through the modification overlay, which is what keeps
// readers lock-free.
type Page struct {
	addr addr.Addr // original file address
	size uint32    // size in bytes
	data []byte    // raw page image, header first

	hdr Header

	// Subtree record count, maintained for column-store files.
	records uint64

	// Links to the parent page and the reference slot that found this
	// page. Set when the page is installed in the tree.
	parent    *Page
	parentRef *Ref

	fixedLen uint32 // record size for col-fix/col-rle pages

	codec KeyCodec      // optional key codec, used at first key access
	ovfl  OverflowStore // optional overflow page reader

	rows []RowEntry
	cols []ColEntry

	// decoded[i] is set once rows[i].key holds usable key bytes. The
	// flag is published after the key slice is written, so readers that
	// observe it set may use the key without locking.
	decoded []atomic.Bool
	keyMu   sync.Mutex

	// refs[i] is the subtree reference for index slot i, nil where the
	// slot has none. Internal pages have one per slot; row-store leaf
	// pages have one per slot that references an off-page duplicate
	// tree.
	refs []*Ref

	// Modification overlay and RLE expansion index, allocated on first
	// modification. See overlay.go.
	repl   atomic.Pointer[replIndex]
	rleexp atomic.Pointer[rleExpIndex]

	// Page generations. See gen.go.
	readGen  atomic.Uint64
	writeGen atomic.Uint64
	diskGen  uint64
}

// Addr returns the page's original file address.
func (p *Page) Addr() addr.Addr { return p.addr }

// Size returns the page's size in bytes.
func (p *Page) Size() uint32 { return p.size }

// Data returns the raw page image.
func (p *Page) Data() []byte { return p.data }

// Header returns the decoded disk header.
func (p *Page) Header() Header { return p.hdr }

// Kind returns the page layout.
func (p *Page) Kind() Kind { return p.hdr.Kind }

// Level returns the page's tree level.
func (p *Page) Level() uint8 { return p.hdr.Level }

// Entries returns the number of index entries.
func (p *Page) Entries() int {
	if p.rows != nil {
		return len(p.rows)
	}
	return len(p.cols)
}

// Records returns the subtree record count (column-store files).
func (p *Page) Records() uint64 { return p.records }

// SetRecords updates the subtree record count.
func (p *Page) SetRecords(n uint64) { p.records = n }

// Parent returns the parent page, nil for the root.
func (p *Page) Parent() *Page { return p.parent }

// ParentRef returns the reference slot in the parent that names this
// page.
func (p *Page) ParentRef() *Ref { return p.parentRef }

// SetParent links the page to its parent and the parent's reference
// slot.
func (p *Page) SetParent(parent *Page, ref *Ref) {
	p.parent = parent
	p.parentRef = ref
}

// Ref returns the subtree reference for an index slot, or nil if the
// slot has none.
func (p *Page) Ref(slot int) *Ref {
	if slot < 0 || slot >= len(p.refs) {
		return nil
	}
	return p.refs[slot]
}

// payload returns the item/record stream that follows the header.
func (p *Page) payload() []byte {
	return p.data[HeaderSize:]
}

// dataItem returns the decoded data item for a row-store slot.
func (p *Page) dataItem(slot int) (item.Entry, error) {
	if slot < 0 || slot >= len(p.rows) {
		return item.Entry{}, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.rows))
	}
	off := p.rows[slot].data
	cell := item.GetCell(p.data[off:])
	n := item.CellLen(cell)
	return item.Entry{
		Type: item.CellType(cell),
		Off:  off - HeaderSize,
		Data: p.data[off+item.CellSize : off+item.CellSize+n],
	}, nil
}

// Value returns the on-page value bytes for a slot, resolving overflow
// values through the overflow store. It does not consult the overlay;
// see ReadEntry for overlay-aware reads.
func (p *Page) Value(slot int) ([]byte, error) {
	switch p.hdr.Kind {
	case KindRowLeaf, KindDupLeaf:
		e, err := p.dataItem(slot)
		if err != nil {
			return nil, err
		}
		if e.Type.Overflow() {
			return p.readOverflow(item.GetOvfl(e.Data))
		}
		return e.Data, nil

	case KindColVar:
		e, err := p.colItem(slot)
		if err != nil {
			return nil, err
		}
		if e.Type == item.TypeDel {
			return nil, nil
		}
		if e.Type.Overflow() {
			return p.readOverflow(item.GetOvfl(e.Data))
		}
		return e.Data, nil

	case KindColFix:
		b, err := p.ColData(slot)
		if err != nil {
			return nil, err
		}
		return b, nil

	case KindColRLE:
		b, err := p.ColData(slot)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
}

// Off returns the off-page reference stored in a row-internal or
// dup-internal slot.
func (p *Page) Off(slot int) (item.Off, error) {
	if p.hdr.Kind != KindRowInt && p.hdr.Kind != KindDupInt {
		return item.Off{}, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	e, err := p.dataItem(slot)
	if err != nil {
		return item.Off{}, err
	}
	return item.GetOff(e.Data), nil
}

// OffRecord returns the counted off-page reference stored in a
// column-internal slot or a row-leaf off-page duplicate slot.
func (p *Page) OffRecord(slot int) (item.OffRecord, error) {
	switch p.hdr.Kind {
	case KindColInt:
		// Column-internal pages carry raw off-record structures, not
		// tagged items.
		if slot < 0 || slot >= len(p.cols) {
			return item.OffRecord{}, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.cols))
		}
		off := p.cols[slot].data
		return item.GetOffRecord(p.data[off : off+item.OffRecordSize]), nil
	case KindRowLeaf:
		e, err := p.dataItem(slot)
		if err != nil {
			return item.OffRecord{}, err
		}
		if e.Type != item.TypeOffRecord {
			return item.OffRecord{}, fmt.Errorf("%w: slot %d holds %s", ErrWrongKind, slot, e.Type)
		}
		return item.GetOffRecord(e.Data), nil
	}
	return item.OffRecord{}, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
}

// ColItem returns the decoded item for a variable-length column slot.
func (p *Page) ColItem(slot int) (item.Entry, error) {
	if p.hdr.Kind != KindColVar {
		return item.Entry{}, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	return p.colItem(slot)
}

// colItem returns the decoded item for a variable-length column slot.
func (p *Page) colItem(slot int) (item.Entry, error) {
	if slot < 0 || slot >= len(p.cols) {
		return item.Entry{}, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.cols))
	}
	off := p.cols[slot].data
	cell := item.GetCell(p.data[off:])
	n := item.CellLen(cell)
	return item.Entry{
		Type: item.CellType(cell),
		Off:  off - HeaderSize,
		Data: p.data[off+item.CellSize : off+item.CellSize+n],
	}, nil
}

// ColData returns the raw record bytes for a fixed-length column slot.
// For run-length encoded pages it is the record bytes shared by the
// whole run.
func (p *Page) ColData(slot int) ([]byte, error) {
	if p.hdr.Kind != KindColFix && p.hdr.Kind != KindColRLE {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	if slot < 0 || slot >= len(p.cols) {
		return nil, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.cols))
	}
	off := p.cols[slot].data
	if p.hdr.Kind == KindColRLE {
		return p.data[off+rleCountSize : off+rleCountSize+p.fixedLen], nil
	}
	return p.data[off : off+p.fixedLen], nil
}

// rleCountSize is the repeat-count prefix on each run of a run-length
// encoded page.
const rleCountSize = 2

// RLECount returns the number of records in a run.
func (p *Page) RLECount(slot int) (uint64, error) {
	if p.hdr.Kind != KindColRLE {
		return 0, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	if slot < 0 || slot >= len(p.cols) {
		return 0, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.cols))
	}
	off := p.cols[slot].data
	return uint64(uint16(p.data[off]) | uint16(p.data[off+1])<<8), nil
}

// RLERecno returns the record number of the first record in a run,
// counting repeat totals from the start of the page.
func (p *Page) RLERecno(slot int) (uint64, error) {
	if p.hdr.Kind != KindColRLE {
		return 0, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	if slot < 0 || slot >= len(p.cols) {
		return 0, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.cols))
	}
	recno := p.hdr.StartRecno
	for i := 0; i < slot; i++ {
		n, err := p.RLECount(i)
		if err != nil {
			return 0, err
		}
		recno += n
	}
	return recno, nil
}

// IsDuplicateKey reports whether a row-store slot shares its key with
// the previous slot. The comparison is slice identity against the shared
// key bytes, not a byte comparison. Slots still awaiting key processing
// are compared under the decode lock, since a concurrent first access
// may be repointing them.
func (p *Page) IsDuplicateKey(slot int) bool {
	if slot <= 0 || slot >= len(p.rows) {
		return false
	}
	if p.decoded[slot].Load() && p.decoded[slot-1].Load() {
		return p.sharesKey(slot-1, slot)
	}
	p.keyMu.Lock()
	defer p.keyMu.Unlock()
	return p.sharesKey(slot-1, slot)
}

// Fixed-length column-store records carry their deleted flag in the top
// bit of the first data byte.
const FixDeleteByte = 0x80

// FixIsDeleted reports whether a fixed-length record is deleted.
func FixIsDeleted(b []byte) bool {
	return len(b) > 0 && b[0]&FixDeleteByte != 0
}

// FixDelete marks a fixed-length record buffer as deleted.
func FixDelete(b []byte) {
	b[0] = FixDeleteByte
}
