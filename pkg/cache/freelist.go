// pkg/cache/freelist.go
package cache

import (
	"fmt"

	"grove/pkg/addr"
	"grove/pkg/block"
	"grove/pkg/page"
)

// SaveFreeList persists the allocator's free extents as a free-list
// page and returns its location, for the caller to record in the file
// descriptor. The page itself is allocated from the free list, so the
// snapshot is taken after that allocation settles.
func (c *Cache) SaveFreeList(f *block.FreeList) (addr.Addr, uint32, error) {
	// One allocation-unit page is enough until the list outgrows it;
	// size up front so the extent snapshot already reflects the page's
	// own allocation.
	size := c.allocSize
	for {
		body := f.Encode()
		if uint32(len(body))+page.HeaderSize <= size {
			a, err := f.Alloc(size)
			if err != nil {
				return addr.Invalid, 0, err
			}
			body = f.Encode()
			if uint32(len(body))+page.HeaderSize > size {
				// The allocation split an extent and grew the list;
				// give the page back and retry larger.
				f.Free(a, size)
				size *= 2
				continue
			}

			buf := make([]byte, size)
			hdr := page.Header{
				Kind:    page.KindFreeList,
				Entries: uint32(len(body)) / block.ExtentSize,
			}
			if err := hdr.Put(buf); err != nil {
				return addr.Invalid, 0, err
			}
			copy(buf[page.HeaderSize:], body)
			if err := page.SetChecksum(buf); err != nil {
				return addr.Invalid, 0, err
			}
			if err := c.store.WriteBlock(a, buf); err != nil {
				return addr.Invalid, 0, err
			}
			return a, size, nil
		}
		size *= 2
	}
}

// LoadFreeList reads a free-list page back into the allocator and
// returns the page's region to it, since the snapshot is now in memory.
func (c *Cache) LoadFreeList(f *block.FreeList, a addr.Addr, size uint32) error {
	if err := addr.Check(a); err != nil {
		return err
	}
	buf, err := c.store.ReadBlock(a, size)
	if err != nil {
		return err
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return fmt.Errorf("free list at addr %#x: %w", uint32(a), err)
	}
	hdr, err := page.DecodeHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Kind != page.KindFreeList {
		return fmt.Errorf("%w: %s at free-list addr %#x", page.ErrBadKind, hdr.Kind, uint32(a))
	}
	if err := f.Decode(buf[page.HeaderSize:], hdr.Entries); err != nil {
		return err
	}
	f.Free(a, size)
	return nil
}
