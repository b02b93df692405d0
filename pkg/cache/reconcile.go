// pkg/cache/reconcile.go
package cache

import (
	"bytes"
	"errors"
	"fmt"

	"grove/pkg/item"
	"grove/pkg/page"
)

// ErrNoAllocator is returned when a dirty page must be written back but
// the cache has no file-address allocator.
var ErrNoAllocator = errors.New("no allocator configured for write-back")

// WritePage persists a page: the in-memory index and overlay are merged
// back into a fresh page image, written to an unused file location (the
// engine never overwrites a page in place), and the reference is
// repointed. The old location is returned to the allocator and the disk
// generation catches up to the write generation.
func (c *Cache) WritePage(p *page.Page, ref *page.Ref) error {
	return c.reconcile(p, ref)
}

func (c *Cache) reconcile(p *page.Page, ref *page.Ref) error {
	if c.alloc == nil {
		return ErrNoAllocator
	}

	// The write generation the image will account for is captured
	// before the rebuild; changes applied after this point keep the
	// page dirty.
	gen := p.WriteGen()

	buf, err := rebuild(p)
	if err != nil {
		return err
	}
	if err := page.SetChecksum(buf); err != nil {
		return err
	}

	newAddr, err := c.alloc.Alloc(uint32(len(buf)))
	if err != nil {
		return err
	}
	if err := c.store.WriteBlock(newAddr, buf); err != nil {
		return err
	}

	oldAddr, oldSize := ref.Addr(), ref.Size()
	ref.SetAddr(newAddr, uint32(len(buf)))
	c.alloc.Free(oldAddr, oldSize)

	if p.WriteGen() == gen {
		p.MarkWritten()
	}
	return nil
}

// rebuild produces a new page image for p with the modification overlay
// folded in. The image keeps the page's size, level, starting record
// number, and LSN.
func rebuild(p *page.Page) ([]byte, error) {
	hdr := p.Header()
	b := page.NewBuilder(hdr.Kind, hdr.Level, p.Size())
	b.SetStartRecno(hdr.StartRecno)
	b.SetLSN(hdr.LSNFile, hdr.LSNOff)

	switch hdr.Kind {
	case page.KindRowInt, page.KindDupInt:
		return rebuildRowInternal(p, b)
	case page.KindRowLeaf, page.KindDupLeaf:
		return rebuildRowLeaf(p, b)
	case page.KindColInt:
		return rebuildColInternal(p, b)
	case page.KindColFix:
		return rebuildColFixed(p, b)
	case page.KindColRLE:
		return rebuildColRLE(p, b)
	case page.KindColVar:
		return rebuildColVar(p, b)
	}
	// Overflow and free-list pages have no overlay; their images are
	// written as they stand.
	return p.Data(), nil
}

// rebuildRowInternal writes each key with its subtree's current
// location; children reconciled earlier already updated the refs.
func rebuildRowInternal(p *page.Page, b *page.Builder) ([]byte, error) {
	err := p.WalkRows(func(ri page.RowItem) error {
		if err := b.AppendItem(ri.KeyItem.Type, ri.KeyItem.Data); err != nil {
			return err
		}
		ref := p.Ref(ri.Slot)
		if ref == nil {
			return fmt.Errorf("%w: internal slot %d has no subtree", page.ErrSlotRange, ri.Slot)
		}
		return b.AppendOff(item.Off{Addr: ref.Addr(), Size: ref.Size()})
	})
	if err != nil {
		return nil, err
	}
	return b.Finish()
}

// rebuildRowLeaf folds the overlay into a row-store or duplicate-tree
// leaf. Deleted entries are dropped; a key is written once per surviving
// group of duplicates.
func rebuildRowLeaf(p *page.Page, b *page.Builder) ([]byte, error) {
	keyWritten := false
	lastKeyOff := uint32(0)
	inGroup := false

	err := p.WalkRows(func(ri page.RowItem) error {
		if ri.HasKey && (!inGroup || ri.KeyItem.Off != lastKeyOff) {
			inGroup, lastKeyOff = true, ri.KeyItem.Off
			keyWritten = false
		}

		repl := p.Repl(ri.Slot)
		if repl != nil && repl.Deleted() {
			return nil
		}

		if ri.HasKey && !keyWritten {
			if err := b.AppendItem(ri.KeyItem.Type, ri.KeyItem.Data); err != nil {
				return err
			}
			keyWritten = true
		}

		if repl == nil {
			// Off-page duplicate trees may have moved since this page
			// was read; write their current location.
			if ri.Value.Type == item.TypeOffRecord {
				if ref := p.Ref(ri.Slot); ref != nil {
					rec := item.GetOffRecord(ri.Value.Data)
					rec.Addr, rec.Size = ref.Addr(), ref.Size()
					return b.AppendOffRecord(rec)
				}
			}
			return b.AppendItem(ri.Value.Type, ri.Value.Data)
		}
		t := ri.Value.Type
		switch t {
		case item.TypeDataOvfl:
			t = item.TypeData
		case item.TypeDataDupOvfl:
			t = item.TypeDataDup
		}
		return b.AppendItem(t, repl.Data())
	})
	if err != nil {
		return nil, err
	}
	return b.Finish()
}

func rebuildColInternal(p *page.Page, b *page.Builder) ([]byte, error) {
	for slot := 0; slot < p.Entries(); slot++ {
		rec, err := p.OffRecord(slot)
		if err != nil {
			return nil, err
		}
		ref := p.Ref(slot)
		if ref != nil {
			rec.Addr, rec.Size = ref.Addr(), ref.Size()
		}
		if err := b.AppendColOffRecord(rec); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

func rebuildColFixed(p *page.Page, b *page.Builder) ([]byte, error) {
	for slot := 0; slot < p.Entries(); slot++ {
		orig, err := p.ColData(slot)
		if err != nil {
			return nil, err
		}
		rec := orig
		if repl := p.Repl(slot); repl != nil {
			if repl.Deleted() {
				rec = make([]byte, len(orig))
				copy(rec, orig)
				page.FixDelete(rec)
			} else {
				rec = repl.Data()
				if len(rec) != len(orig) {
					return nil, fmt.Errorf("%w: got %d, want %d", page.ErrFixedSize, len(rec), len(orig))
				}
			}
		}
		if err := b.AppendFixed(rec); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// rebuildColRLE re-runs the run-length encoding: each run is expanded
// record by record through the expansion overlay and identical adjacent
// records are folded back into runs.
func rebuildColRLE(p *page.Page, b *page.Builder) ([]byte, error) {
	var runData []byte
	var runCount uint32

	flush := func() error {
		for runCount > 0 {
			n := runCount
			if n > 0xffff {
				n = 0xffff
			}
			if err := b.AppendRun(uint16(n), runData); err != nil {
				return err
			}
			runCount -= n
		}
		return nil
	}

	for slot := 0; slot < p.Entries(); slot++ {
		count, err := p.RLECount(slot)
		if err != nil {
			return nil, err
		}
		recno, err := p.RLERecno(slot)
		if err != nil {
			return nil, err
		}
		base, err := p.ColData(slot)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < count; i++ {
			rec, del, err := p.ReadRecord(recno + i)
			if err != nil {
				return nil, err
			}
			if len(rec) != 0 && len(rec) != len(base) {
				return nil, fmt.Errorf("%w: got %d, want %d", page.ErrFixedSize, len(rec), len(base))
			}
			// Deleted records keep their slot, with the delete byte
			// set, so the record numbering is preserved.
			if del {
				tomb := make([]byte, len(base))
				copy(tomb, rec)
				page.FixDelete(tomb)
				rec = tomb
			}
			if runData != nil && bytes.Equal(runData, rec) {
				runCount++
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
			runData, runCount = rec, 1
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return b.Finish()
}

func rebuildColVar(p *page.Page, b *page.Builder) ([]byte, error) {
	for slot := 0; slot < p.Entries(); slot++ {
		repl := p.Repl(slot)
		if repl == nil {
			e, err := p.ColItem(slot)
			if err != nil {
				return nil, err
			}
			if err := b.AppendItem(e.Type, e.Data); err != nil {
				return nil, err
			}
			continue
		}
		if repl.Deleted() {
			// A deleted place-holder keeps the record numbering intact.
			if err := b.AppendItem(item.TypeDel, nil); err != nil {
				return nil, err
			}
			continue
		}
		if err := b.AppendItem(item.TypeData, repl.Data()); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}
