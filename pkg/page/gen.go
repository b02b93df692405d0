// pkg/page/gen.go
package page

import (
	"errors"
	"math"
)

// PinnedReadGen is the out-of-band read generation that permanently pins
// a page in cache. The root page of each tree is pinned so the evictor
// never selects it.
const PinnedReadGen = math.MaxUint64

// ErrRestart is returned by Apply when the page changed between the
// search that scheduled a modification and the modification itself. The
// caller must re-search the page and resubmit; nothing was applied.
var ErrRestart = errors.New("page modified since search, restart operation")

// ReadGen returns the page's read generation, the LRU signal the evictor
// orders candidates by.
func (p *Page) ReadGen() uint64 {
	return p.readGen.Load()
}

// BumpReadGen notes a search visiting this page. Pinned pages stay
// pinned.
func (p *Page) BumpReadGen() {
	for {
		old := p.readGen.Load()
		if old == PinnedReadGen {
			return
		}
		if p.readGen.CompareAndSwap(old, old+1) {
			return
		}
	}
}

// Pin pins the page in cache permanently.
func (p *Page) Pin() {
	p.readGen.Store(PinnedReadGen)
}

// Pinned reports whether the page is pinned.
func (p *Page) Pinned() bool {
	return p.readGen.Load() == PinnedReadGen
}

// WriteGen returns the page's current write generation. A thread that
// searches the page intending to schedule a modification records this
// value and passes it to Apply.
func (p *Page) WriteGen() uint64 {
	return p.writeGen.Load()
}

// Apply runs one modification against the page under the optimistic
// generation check. All modifications to a page are serialized through a
// single logical applier; Apply assumes that contract rather than
// locking.
//
// If the recorded generation no longer matches the page's current write
// generation, the search that produced the modification is stale: Apply
// returns ErrRestart, fn does not run, and the write generation is
// unchanged. Otherwise fn runs and the write generation is bumped by
// exactly one, after fn's mutations, so a generation observed by a later
// search accounts for them.
func (p *Page) Apply(recorded uint64, fn func(*Page) error) error {
	if p.writeGen.Load() != recorded {
		return ErrRestart
	}
	if err := fn(p); err != nil {
		return err
	}
	p.writeGen.Add(1)
	return nil
}

// Modified reports whether the page has changes not yet written to disk:
// the disk generation trails the write generation.
func (p *Page) Modified() bool {
	return p.diskGen != p.writeGen.Load()
}

// MarkWritten records that the page image just persisted reflects the
// current write generation. Called only by the reconciliation step that
// writes the page back; the disk generation is touched nowhere else.
func (p *Page) MarkWritten() {
	p.diskGen = p.writeGen.Load()
}
