// pkg/page/index.go
package page

import (
	"errors"
	"fmt"
	"sync/atomic"

	"grove/pkg/addr"
	"grove/pkg/item"
)

var (
	// ErrItemSequence is returned when a page's items are not in the
	// order its type requires (a key item without its paired data item,
	// a data item with no preceding key, and so on).
	ErrItemSequence = errors.New("unexpected item order on page")

	// ErrFixedLen is returned when a fixed-length column page is
	// assembled without a record size.
	ErrFixedLen = errors.New("fixed-length page needs a record size")

	// ErrPageTooSmall is returned when a page image cannot hold the
	// entries its header declares.
	ErrPageTooSmall = errors.New("page image too small for declared entries")
)

// Config supplies the per-file context a page needs when it is brought
// into memory.
type Config struct {
	// FixedLen is the record size for fixed-length column-store files,
	// from the file descriptor.
	FixedLen uint8

	// KeyCodec, if set, encodes every key payload on row-store pages.
	// Keys are decoded lazily on first access.
	KeyCodec KeyCodec

	// Overflow resolves overflow pointers to their payload bytes.
	Overflow OverflowStore
}

// New builds the in-memory page for a raw page image. The image is
// retained, not copied; the index references bytes inside it. Checksum
// verification is the loader's job and happens before assembly.
func New(a addr.Addr, data []byte, cfg Config) (*Page, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	p := &Page{
		addr:     a,
		size:     uint32(len(data)),
		data:     data,
		hdr:      hdr,
		fixedLen: uint32(cfg.FixedLen),
		codec:    cfg.KeyCodec,
		ovfl:     cfg.Overflow,
	}

	switch hdr.Kind {
	case KindRowInt, KindDupInt:
		err = p.buildRowInternal()
	case KindRowLeaf:
		err = p.buildRowLeaf()
	case KindDupLeaf:
		err = p.buildDupLeaf()
	case KindColInt:
		err = p.buildColInternal()
	case KindColFix:
		err = p.buildColFixed(0)
	case KindColRLE:
		err = p.buildColFixed(rleCountSize)
	case KindColVar:
		err = p.buildColVar()
	case KindOvfl, KindFreeList:
		// No index: overflow pages are a string of bytes, free-list
		// pages belong to the allocator.
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// keyKind classifies an item type as the key half of a pairing.
func keyKind(t item.Type) bool {
	switch t {
	case item.TypeKey, item.TypeKeyOvfl, item.TypeKeyDup, item.TypeKeyDupOvfl:
		return true
	}
	return false
}

// addRow appends a row entry for the current key and marks whether the
// key bytes are directly usable or still need processing.
func (p *Page) addRow(key []byte, keyOvfl bool, dataOff uint32) {
	p.rows = append(p.rows, RowEntry{
		key:     key,
		data:    dataOff,
		ovflKey: keyOvfl,
		encKey:  p.codec != nil,
	})
}

// finishRows sizes the parallel arrays once the row index is complete.
func (p *Page) finishRows() {
	p.decoded = make([]atomic.Bool, len(p.rows))
	for i := range p.rows {
		if !p.rows[i].ovflKey && !p.rows[i].encKey {
			p.decoded[i].Store(true)
		}
	}
	if p.refs == nil {
		return
	}
	// refs was built alongside rows; pad to the final entry count.
	for len(p.refs) < len(p.rows) {
		p.refs = append(p.refs, nil)
	}
}

// buildRowInternal indexes a row-store or duplicate-tree internal page:
// key/off-page pairs, one entry and one subtree reference per pair.
func (p *Page) buildRowInternal() error {
	it := item.NewIter(p.payload(), p.hdr.Entries)
	p.refs = make([]*Ref, 0, p.hdr.Entries/2)

	var havekey bool
	var key []byte
	var keyOvfl bool
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		switch {
		case keyKind(e.Type):
			if havekey {
				return fmt.Errorf("%w: key item with no off-page item", ErrItemSequence)
			}
			key, keyOvfl, havekey = e.Data, e.Type.Overflow(), true

		case e.Type == item.TypeOff:
			if !havekey {
				return fmt.Errorf("%w: off-page item with no key", ErrItemSequence)
			}
			off := item.GetOff(e.Data)
			p.addRow(key, keyOvfl, HeaderSize+e.Off)
			p.refs = append(p.refs, NewRef(off.Addr, off.Size))
			havekey = false

		default:
			return fmt.Errorf("%w: %s on %s page", ErrItemSequence, e.Type, p.hdr.Kind)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if havekey {
		return fmt.Errorf("%w: trailing key item", ErrItemSequence)
	}
	p.finishRows()
	return nil
}

// buildRowLeaf indexes a row-store leaf page. Each key item is followed
// by a data item, an off-page duplicate reference, or a run of duplicate
// data items; duplicate runs produce adjacent entries sharing the key
// slice. Off-page duplicate references get a subtree reference slot.
func (p *Page) buildRowLeaf() error {
	it := item.NewIter(p.payload(), p.hdr.Entries)

	var havekey bool
	var key []byte
	var keyOvfl bool
	var records uint64
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		switch e.Type {
		case item.TypeKey, item.TypeKeyOvfl:
			key, keyOvfl, havekey = e.Data, e.Type.Overflow(), true

		case item.TypeData, item.TypeDataOvfl, item.TypeDataDup, item.TypeDataDupOvfl:
			if !havekey {
				return fmt.Errorf("%w: %s with no key", ErrItemSequence, e.Type)
			}
			p.addRow(key, keyOvfl, HeaderSize+e.Off)
			if p.refs != nil {
				p.refs = append(p.refs, nil)
			}
			records++

		case item.TypeOffRecord:
			if !havekey {
				return fmt.Errorf("%w: off-record with no key", ErrItemSequence)
			}
			off := item.GetOffRecord(e.Data)
			p.addRow(key, keyOvfl, HeaderSize+e.Off)
			if p.refs == nil {
				p.refs = make([]*Ref, len(p.rows)-1, p.hdr.Entries)
			}
			p.refs = append(p.refs, NewRef(off.Addr, off.Size))
			records += off.Records

		default:
			return fmt.Errorf("%w: %s on %s page", ErrItemSequence, e.Type, p.hdr.Kind)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	p.records = records
	p.finishRows()
	return nil
}

// buildDupLeaf indexes a duplicate-tree leaf page: duplicate data items
// only, no keys.
func (p *Page) buildDupLeaf() error {
	it := item.NewIter(p.payload(), p.hdr.Entries)
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		switch e.Type {
		case item.TypeDataDup, item.TypeDataDupOvfl:
			p.rows = append(p.rows, RowEntry{data: HeaderSize + e.Off})
		default:
			return fmt.Errorf("%w: %s on %s page", ErrItemSequence, e.Type, p.hdr.Kind)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	p.records = uint64(len(p.rows))
	p.decoded = make([]atomic.Bool, len(p.rows))
	for i := range p.decoded {
		p.decoded[i].Store(true)
	}
	return nil
}

// buildColInternal indexes a column-store internal page: raw off-record
// structures at a fixed stride, one entry and one subtree reference per
// structure.
func (p *Page) buildColInternal() error {
	n := p.hdr.Entries
	// 64-bit compare: a hostile entry count must not wrap the product.
	if uint64(len(p.payload())) < uint64(n)*item.OffRecordSize {
		return fmt.Errorf("%w: %d off-records", ErrPageTooSmall, n)
	}
	p.cols = make([]ColEntry, n)
	p.refs = make([]*Ref, n)
	var records uint64
	for i := uint32(0); i < n; i++ {
		off := HeaderSize + i*item.OffRecordSize
		p.cols[i] = ColEntry{data: off}
		rec := item.GetOffRecord(p.data[off : off+item.OffRecordSize])
		p.refs[i] = NewRef(rec.Addr, rec.Size)
		records += rec.Records
	}
	p.records = records
	return nil
}

// buildColFixed indexes a fixed-length column page: one entry per slot,
// where a slot is prefix bytes (the RLE repeat count, if any) plus the
// file's fixed record size.
func (p *Page) buildColFixed(prefix uint32) error {
	if p.fixedLen == 0 {
		return ErrFixedLen
	}
	n := p.hdr.Entries
	stride := prefix + p.fixedLen
	if uint64(len(p.payload())) < uint64(n)*uint64(stride) {
		return fmt.Errorf("%w: %d slots of %d bytes", ErrPageTooSmall, n, stride)
	}
	p.cols = make([]ColEntry, n)
	var records uint64
	for i := uint32(0); i < n; i++ {
		off := HeaderSize + i*stride
		p.cols[i] = ColEntry{data: off}
		if prefix == 0 {
			records++
		} else {
			records += uint64(uint16(p.data[off]) | uint16(p.data[off+1])<<8)
		}
	}
	p.records = records
	return nil
}

// buildColVar indexes a variable-length column leaf: one entry per data,
// overflow-data, or deleted item.
func (p *Page) buildColVar() error {
	it := item.NewIter(p.payload(), p.hdr.Entries)
	p.cols = make([]ColEntry, 0, p.hdr.Entries)
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		switch e.Type {
		case item.TypeData, item.TypeDataOvfl, item.TypeDel:
			p.cols = append(p.cols, ColEntry{data: HeaderSize + e.Off})
		default:
			return fmt.Errorf("%w: %s on %s page", ErrItemSequence, e.Type, p.hdr.Kind)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	p.records = uint64(len(p.cols))
	return nil
}
