// pkg/item/iter.go
package item

import "errors"

// ErrTruncated is returned when an item stream ends before its declared
// entry count is exhausted.
var ErrTruncated = errors.New("item stream truncated")

// Entry is one decoded item in a stream.
type Entry struct {
	Type Type
	Off  uint32 // byte offset of the cell within the stream
	Data []byte // payload bytes, without alignment padding
}

// Iter walks a stream of items. The stream is the page payload that
// follows the disk header; entries is the header's entry count. Iter
// never copies payload bytes.
type Iter struct {
	buf     []byte
	entries uint32
	off     uint32
	count   uint32
	err     error
}

// NewIter returns an iterator over the first entries items in buf.
func NewIter(buf []byte, entries uint32) *Iter {
	return &Iter{buf: buf, entries: entries}
}

// Next returns the next item. It returns false when the stream is
// exhausted or malformed; check Err to tell the two apart.
func (it *Iter) Next() (Entry, bool) {
	if it.err != nil || it.count == it.entries {
		return Entry{}, false
	}
	if uint32(len(it.buf))-it.off < CellSize {
		it.err = ErrTruncated
		return Entry{}, false
	}
	cell := GetCell(it.buf[it.off:])
	t, n := CellType(cell), CellLen(cell)
	if !t.Valid() {
		it.err = ErrBadType
		return Entry{}, false
	}
	if uint32(len(it.buf))-it.off < CellSize+n {
		it.err = ErrTruncated
		return Entry{}, false
	}
	e := Entry{
		Type: t,
		Off:  it.off,
		Data: it.buf[it.off+CellSize : it.off+CellSize+n : it.off+CellSize+n],
	}
	it.off += SpaceNeeded(n)
	// Alignment padding after the last item may step past an unaligned
	// buffer's end; clamp so the length checks above stay in range.
	if it.off > uint32(len(it.buf)) {
		it.off = uint32(len(it.buf))
	}
	it.count++
	return e, true
}

// Err returns the first malformed-stream error encountered, if any.
func (it *Iter) Err() error {
	return it.err
}

// Reset rewinds the iterator to the start of the stream.
func (it *Iter) Reset() {
	it.off = 0
	it.count = 0
	it.err = nil
}
