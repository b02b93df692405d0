// pkg/page/key.go
package page

import (
	"fmt"

	"grove/pkg/item"
)

// KeyCodec encodes and decodes key and value payloads. Implementations
// (prefix compression, dictionary coding) are plugged in per file; the
// page code treats payloads as opaque otherwise.
type KeyCodec interface {
	Encode(raw []byte) ([]byte, error)
	Decode(enc []byte) ([]byte, error)
}

// OverflowStore resolves overflow pointers to their payload bytes.
type OverflowStore interface {
	ReadOverflow(o item.Ovfl) ([]byte, error)
}

func (p *Page) readOverflow(o item.Ovfl) ([]byte, error) {
	if p.ovfl == nil {
		return nil, fmt.Errorf("%w: overflow at addr %#x", ErrNoOverflow, uint32(o.Addr))
	}
	return p.ovfl.ReadOverflow(o)
}

// Key returns the key bytes for a row-store slot.
//
// Keys that need processing (overflow keys and codec-encoded keys) are
// decoded on first access: the index entry is repointed at the decoded
// buffer and an explicit decoded flag is published. Readers that observe
// the flag set use the key without taking a lock; the decode itself is
// serialized. Once a key has been processed the index no longer
// references the original on-page bytes; callers that need those must
// walk the item stream with WalkRows.
func (p *Page) Key(slot int) ([]byte, error) {
	if p.rows == nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	if slot < 0 || slot >= len(p.rows) {
		return nil, fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(p.rows))
	}
	if p.decoded[slot].Load() {
		return p.rows[slot].key, nil
	}

	p.keyMu.Lock()
	defer p.keyMu.Unlock()
	if p.decoded[slot].Load() {
		return p.rows[slot].key, nil
	}

	key := p.rows[slot].key
	if p.rows[slot].ovflKey {
		raw, err := p.readOverflow(item.GetOvfl(key))
		if err != nil {
			return nil, err
		}
		key = raw
	}
	if p.rows[slot].encKey {
		dec, err := p.codec.Decode(key)
		if err != nil {
			return nil, err
		}
		key = dec
	}

	// Repoint every adjacent duplicate of this key so slice-identity
	// duplicate detection keeps working on the decoded buffer.
	lo, hi := slot, slot
	for lo > 0 && p.sharesKey(lo-1, slot) {
		lo--
	}
	for hi+1 < len(p.rows) && p.sharesKey(hi+1, slot) {
		hi++
	}
	for i := lo; i <= hi; i++ {
		p.rows[i].key = key
		p.decoded[i].Store(true)
	}
	return key, nil
}

// sharesKey reports whether two row slots reference the same key bytes.
func (p *Page) sharesKey(i, j int) bool {
	a, b := p.rows[i].key, p.rows[j].key
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

// RowItem is one step of a lockstep walk over a row-store page: the
// index slot paired with the original on-page key item, regardless of
// whether the slot's key has since been processed.
type RowItem struct {
	Slot    int
	HasKey  bool       // false on keyless pages (duplicate-tree leaves)
	KeyItem item.Entry // original key item, valid when HasKey
	Value   item.Entry // the slot's data/off-page item
}

// WalkRows visits every index entry of a row-store page in on-page
// order, re-scanning the raw item stream in lockstep with the index.
// This is the only way to reach the original on-page key bytes after a
// key has been processed, which reconciliation, verification, and
// overflow-reference freeing all need. The walk stops early if fn
// returns a non-nil error, which is returned to the caller.
func (p *Page) WalkRows(fn func(RowItem) error) error {
	if p.rows == nil {
		return fmt.Errorf("%w: %s", ErrWrongKind, p.hdr.Kind)
	}
	it := item.NewIter(p.payload(), p.hdr.Entries)

	var cur item.Entry
	var haveKey bool
	slot := 0
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if keyKind(e.Type) {
			cur, haveKey = e, true
			continue
		}
		if slot >= len(p.rows) {
			return fmt.Errorf("%w: more items than index entries", ErrItemSequence)
		}
		ri := RowItem{Slot: slot, Value: e}
		if haveKey {
			ri.HasKey = true
			ri.KeyItem = cur
		}
		if err := fn(ri); err != nil {
			return err
		}
		slot++
	}
	if err := it.Err(); err != nil {
		return err
	}
	if slot != len(p.rows) {
		return fmt.Errorf("%w: %d items for %d index entries", ErrItemSequence, slot, len(p.rows))
	}
	return nil
}
