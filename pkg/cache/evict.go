// pkg/cache/evict.go
package cache

import (
	"errors"
	"sort"

	"grove/pkg/page"
)

// ErrNothingToEvict is returned when no resident page can be evicted:
// every candidate is pinned or has an active hazard reference.
var ErrNothingToEvict = errors.New("no evictable pages")

// Evict performs the evictor role once: pick the least-recently-read
// resident page and try to reclaim it, moving on to the next candidate
// when a hazard reference blocks one. Dirty pages are written back
// before their memory is reclaimed.
func (c *Cache) Evict() error {
	for _, ref := range c.candidates() {
		err := c.evictRef(ref)
		if errors.Is(err, errEvictConflict) {
			continue
		}
		return err
	}
	return ErrNothingToEvict
}

// candidates returns resident references ordered by read generation,
// coldest first, skipping pinned pages.
func (c *Cache) candidates() []*page.Ref {
	c.mu.Lock()
	refs := make([]*page.Ref, 0, len(c.resident))
	for ref := range c.resident {
		p := ref.Page()
		if p == nil || p.Pinned() {
			continue
		}
		refs = append(refs, ref)
	}
	c.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool {
		pi, pj := refs[i].Page(), refs[j].Page()
		if pi == nil || pj == nil {
			return pj != nil
		}
		return pi.ReadGen() < pj.ReadGen()
	})
	return refs
}

// evictRef runs the mark-then-scan sequence on one reference.
//
// The state moves to evict-pending first; the hazard scan happens after,
// through sequentially consistent atomics, so a reader that published
// its hazard reference before re-confirming the state is always seen by
// the scan. Finding a hazard reference aborts the attempt and restores
// the page, state-wise indistinguishable from one never targeted.
func (c *Cache) evictRef(ref *page.Ref) error {
	p := ref.Page()
	if p == nil {
		return errEvictConflict
	}
	if !ref.CasState(page.RefCache, page.RefEvict) {
		// Someone else is loading or evicting this reference.
		return errEvictConflict
	}

	if c.hazardHeld(p) {
		ref.SetState(page.RefCache)
		return errEvictConflict
	}

	if p.Modified() {
		if err := c.reconcile(p, ref); err != nil {
			ref.SetState(page.RefCache)
			return err
		}
	}

	// No reader can acquire the page while the state is evict-pending;
	// reclaim it and reset the reference to its zero state.
	ref.SetPage(nil)
	ref.SetState(page.RefDisk)

	c.mu.Lock()
	delete(c.resident, ref)
	c.mu.Unlock()
	c.used.Add(-int64(p.Size()))
	return nil
}
