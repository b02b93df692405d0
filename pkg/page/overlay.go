// pkg/page/overlay.go
package page

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"grove/pkg/item"
)

// DeletedSize marks a Repl as a delete. Items are capped well below 4GB,
// so the maximum length value doubles as the deleted sentinel without a
// separate flag. The value is part of the modification format.
const DeletedSize = math.MaxUint32

var (
	// ErrNoSuchRecord is returned when a record number does not fall
	// inside any run on a run-length encoded page.
	ErrNoSuchRecord = errors.New("record number not on page")

	// ErrReplTooLarge is returned when a replacement value's length
	// would collide with the deleted sentinel.
	ErrReplTooLarge = errors.New("replacement value too large")
)

// Repl is one update or delete for an index entry. Repls form a
// forward-linked list, most recent first; the newest entry is the
// entry's current value.
type Repl struct {
	data []byte
	size uint32
	next *Repl
}

// Deleted reports whether this Repl is a delete.
func (r *Repl) Deleted() bool { return r.size == DeletedSize }

// Data returns the replacement value, nil for a delete.
func (r *Repl) Data() []byte {
	if r.Deleted() {
		return nil
	}
	return r.data
}

// Next returns the next-older Repl, or nil.
func (r *Repl) Next() *Repl { return r.next }

// RLEExpand carries the updates for a single record inside a run on a
// run-length encoded page. A run's on-page slot stands for many
// identical records, so per-record modifications hang off expansion
// records keyed by absolute record number instead of the 1:1 overlay.
// Expansion records form a forward-linked list per slot, newest first.
type RLEExpand struct {
	recno uint64
	repl  atomic.Pointer[Repl]
	next  *RLEExpand
}

// Recno returns the absolute record number this expansion covers.
func (e *RLEExpand) Recno() uint64 { return e.recno }

// Repl returns the record's current update, newest first.
func (e *RLEExpand) Repl() *Repl { return e.repl.Load() }

// Next returns the next expansion record for the same slot, or nil.
func (e *RLEExpand) Next() *RLEExpand { return e.next }

// replIndex and rleExpIndex are the lazily-allocated per-entry overlay
// arrays. They are installed with an atomic pointer so lock-free readers
// either see no overlay or a fully-built one.
type replIndex []atomic.Pointer[Repl]
type rleExpIndex []atomic.Pointer[RLEExpand]

// replSlots returns the overlay array, allocating it on the first
// modification. Only the serializing applier allocates.
func (p *Page) replSlots() replIndex {
	if idx := p.repl.Load(); idx != nil {
		return *idx
	}
	idx := make(replIndex, p.Entries())
	p.repl.Store(&idx)
	return idx
}

// Repl returns the newest modification for an index slot, or nil if the
// slot is unmodified. Readers always observe the current head.
func (p *Page) Repl(slot int) *Repl {
	idx := p.repl.Load()
	if idx == nil || slot < 0 || slot >= len(*idx) {
		return nil
	}
	return (*idx)[slot].Load()
}

// Update pushes a replacement value for an index slot. Must be called
// only by the serializing applier, inside Apply.
func (p *Page) Update(slot int, data []byte) error {
	if slot < 0 || slot >= p.Entries() {
		return fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, p.Entries())
	}
	if uint64(len(data)) >= DeletedSize {
		return fmt.Errorf("%w: %d bytes", ErrReplTooLarge, len(data))
	}
	p.push(slot, &Repl{data: data, size: uint32(len(data))})
	return nil
}

// Delete pushes a delete for an index slot. Must be called only by the
// serializing applier, inside Apply.
func (p *Page) Delete(slot int) error {
	if slot < 0 || slot >= p.Entries() {
		return fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, p.Entries())
	}
	p.push(slot, &Repl{size: DeletedSize})
	return nil
}

func (p *Page) push(slot int, r *Repl) {
	head := &p.replSlots()[slot]
	r.next = head.Load()
	head.Store(r)
}

// ReadEntry reads an index slot through the overlay: the newest
// replacement if the slot has one, the on-page value otherwise. The
// second result reports a deleted slot.
func (p *Page) ReadEntry(slot int) ([]byte, bool, error) {
	if r := p.Repl(slot); r != nil {
		return r.Data(), r.Deleted(), nil
	}
	if p.hdr.Kind == KindColFix || p.hdr.Kind == KindColRLE {
		b, err := p.ColData(slot)
		if err != nil {
			return nil, false, err
		}
		return b, FixIsDeleted(b), nil
	}
	if p.hdr.Kind == KindColVar {
		e, err := p.colItem(slot)
		if err != nil {
			return nil, false, err
		}
		if e.Type == item.TypeDel {
			return nil, true, nil
		}
	}
	v, err := p.Value(slot)
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// rleSlots returns the expansion array, allocating it on the first
// modification. Only the serializing applier allocates.
func (p *Page) rleSlots() rleExpIndex {
	if idx := p.rleexp.Load(); idx != nil {
		return *idx
	}
	idx := make(rleExpIndex, p.Entries())
	p.rleexp.Store(&idx)
	return idx
}

// RLEExpandHead returns the newest expansion record for a slot, or nil.
func (p *Page) RLEExpandHead(slot int) *RLEExpand {
	idx := p.rleexp.Load()
	if idx == nil || slot < 0 || slot >= len(*idx) {
		return nil
	}
	return (*idx)[slot].Load()
}

// rleSlotFor finds the slot whose run covers an absolute record number.
func (p *Page) rleSlotFor(recno uint64) (int, error) {
	if p.hdr.Kind != KindColRLE {
		return 0, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	cur := p.hdr.StartRecno
	for slot := range p.cols {
		n, err := p.RLECount(slot)
		if err != nil {
			return 0, err
		}
		if recno >= cur && recno < cur+n {
			return slot, nil
		}
		cur += n
	}
	return 0, fmt.Errorf("%w: %d", ErrNoSuchRecord, recno)
}

// rleExpandFor returns the expansion record for a record number,
// creating and front-linking one if the record has no updates yet.
// Applier only.
func (p *Page) rleExpandFor(slot int, recno uint64) *RLEExpand {
	head := &p.rleSlots()[slot]
	for e := head.Load(); e != nil; e = e.next {
		if e.recno == recno {
			return e
		}
	}
	e := &RLEExpand{recno: recno, next: head.Load()}
	head.Store(e)
	return e
}

// RLEUpdate pushes a replacement value for a single record of a
// run-length encoded page. Must be called only by the serializing
// applier, inside Apply.
func (p *Page) RLEUpdate(recno uint64, data []byte) error {
	if uint64(len(data)) >= DeletedSize {
		return fmt.Errorf("%w: %d bytes", ErrReplTooLarge, len(data))
	}
	slot, err := p.rleSlotFor(recno)
	if err != nil {
		return err
	}
	e := p.rleExpandFor(slot, recno)
	r := &Repl{data: data, size: uint32(len(data)), next: e.repl.Load()}
	e.repl.Store(r)
	return nil
}

// RLEDelete pushes a delete for a single record of a run-length encoded
// page. Applier only, inside Apply.
func (p *Page) RLEDelete(recno uint64) error {
	slot, err := p.rleSlotFor(recno)
	if err != nil {
		return err
	}
	e := p.rleExpandFor(slot, recno)
	r := &Repl{size: DeletedSize, next: e.repl.Load()}
	e.repl.Store(r)
	return nil
}

// ReadRecord reads a single record of a run-length encoded page through
// the expansion overlay: the record's newest update if it has one, the
// run's shared on-page value otherwise.
func (p *Page) ReadRecord(recno uint64) ([]byte, bool, error) {
	slot, err := p.rleSlotFor(recno)
	if err != nil {
		return nil, false, err
	}
	for e := p.RLEExpandHead(slot); e != nil; e = e.next {
		if e.recno == recno {
			if r := e.Repl(); r != nil {
				return r.Data(), r.Deleted(), nil
			}
			break
		}
	}
	b, err := p.ColData(slot)
	if err != nil {
		return nil, false, err
	}
	return b, FixIsDeleted(b), nil
}
