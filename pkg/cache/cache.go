// pkg/cache/cache.go
// Package cache coordinates concurrent access to in-memory pages: a
// hazard-reference table for readers, a loader that brings pages in from
// the block store, and an evictor that reclaims them.
//
// Readers never block. A reader publishes a hazard reference before
// dereferencing a cached page and re-checks the reference state
// afterwards; the evictor marks a page, then scans the hazard table.
// The atomic state and hazard cells are the only synchronization between
// the two, which is what keeps the read path lock-free.
package cache

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"grove/pkg/addr"
	"grove/pkg/block"
	"grove/pkg/item"
	"grove/pkg/page"
)

const (
	defaultMaxSessions = 16
	defaultHazardDepth = 8
)

var (
	// ErrTooManySessions is returned when the session table is full.
	ErrTooManySessions = errors.New("too many concurrent sessions")

	// ErrNoHazardSlots is returned when a session already holds its
	// maximum number of pages.
	ErrNoHazardSlots = errors.New("session hazard slots exhausted")

	// ErrNotHeld is returned when releasing a page the session does not
	// hold.
	ErrNotHeld = errors.New("page not held by session")

	// errEvictConflict is the internal signal that an eviction candidate
	// has an active hazard reference. It never escapes the evictor.
	errEvictConflict = errors.New("hazard reference held, eviction aborted")
)

// Options configures a cache.
type Options struct {
	Store     block.Store     // backing block store (required)
	Alloc     block.Allocator // file-address allocator for write-back
	AllocSize uint32          // allocation unit size (default 512)

	// PageConfig is the per-file assembly context. The cache fills in
	// the overflow reader itself.
	PageConfig page.Config

	MaxSessions int // concurrent sessions (default 16)
	HazardDepth int // pages one session may hold at once (default 8)

	// MaxBytes caps resident page memory. Zero means unlimited. The cap
	// is advisory: loads make room by evicting cold pages first, but a
	// load never fails because every resident page is protected.
	MaxBytes int64
}

// Cache is the page cache for one file.
type Cache struct {
	store     block.Store
	alloc     block.Allocator
	allocSize uint32
	cfg       page.Config

	// loadMu serializes the loader role: one page read at a time.
	loadMu sync.Mutex

	// mu guards the resident set and session bookkeeping.
	mu       sync.Mutex
	resident map[*page.Ref]struct{}
	sessions []bool

	maxBytes int64
	used     atomic.Int64 // bytes of resident page images

	// hazards holds every session's hazard slots in one table so the
	// evictor can scan them all. Slot i*depth..(i+1)*depth-1 belongs to
	// session i.
	hazards []atomic.Pointer[page.Page]
	depth   int
}

// New creates a cache over a block store.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache: block store is required")
	}
	allocSize := opts.AllocSize
	if allocSize == 0 {
		allocSize = addr.AllocSizeMin
	}
	if err := addr.CheckAllocSize(allocSize); err != nil {
		return nil, err
	}
	maxSessions := opts.MaxSessions
	if maxSessions == 0 {
		maxSessions = defaultMaxSessions
	}
	depth := opts.HazardDepth
	if depth == 0 {
		depth = defaultHazardDepth
	}
	return &Cache{
		store:     opts.Store,
		alloc:     opts.Alloc,
		allocSize: allocSize,
		cfg:       opts.PageConfig,
		resident:  make(map[*page.Ref]struct{}),
		sessions:  make([]bool, maxSessions),
		hazards:   make([]atomic.Pointer[page.Page], maxSessions*depth),
		depth:     depth,
		maxBytes:  opts.MaxBytes,
	}, nil
}

// Session is one thread of control's handle on the cache. A session is
// not safe for concurrent use; each goroutine takes its own.
type Session struct {
	c    *Cache
	id   int
	base int
}

// NewSession allocates a session and its hazard slots.
func (c *Cache) NewSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.sessions {
		if !c.sessions[id] {
			c.sessions[id] = true
			return &Session{c: c, id: id, base: id * c.depth}, nil
		}
	}
	return nil, fmt.Errorf("%w: %d in use", ErrTooManySessions, len(c.sessions))
}

// Close releases the session. Any hazard references it still holds are
// dropped.
func (s *Session) Close() {
	for i := 0; i < s.c.depth; i++ {
		s.c.hazards[s.base+i].Store(nil)
	}
	s.c.mu.Lock()
	s.c.sessions[s.id] = false
	s.c.mu.Unlock()
}

// acquire publishes a hazard reference for p in one of the session's
// slots.
func (s *Session) acquire(p *page.Page) (int, error) {
	for i := 0; i < s.c.depth; i++ {
		slot := s.base + i
		if s.c.hazards[slot].Load() == nil {
			s.c.hazards[slot].Store(p)
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: depth %d", ErrNoHazardSlots, s.c.depth)
}

// Release drops the session's hazard reference for p. The page pointer
// must not be used afterwards.
func (s *Session) Release(p *page.Page) error {
	for i := 0; i < s.c.depth; i++ {
		slot := s.base + i
		if s.c.hazards[slot].Load() == p {
			s.c.hazards[slot].Store(nil)
			return nil
		}
	}
	return ErrNotHeld
}

// Page dereferences a subtree reference, establishing a hazard reference
// for the page. On success the page is valid until Release. The read
// generation is bumped, as every search that visits a page does.
//
// The protocol: read the state; if in cache, record a hazard reference
// for the target page and re-read the state. If it is still in cache the
// reference is valid; if it changed, drop the hazard reference and
// retry. Pages on disk are loaded first; a page mid-eviction is waited
// out with a bounded spin, since the evictor resolves it promptly either
// way.
func (s *Session) Page(ref *page.Ref) (*page.Page, error) {
	for {
		switch ref.State() {
		case page.RefCache:
			p := ref.Page()
			if p == nil {
				continue
			}
			slot, err := s.acquire(p)
			if err != nil {
				return nil, err
			}
			// The hazard store and this state re-read are both
			// sequentially consistent atomics; together they order
			// publish-hazard before confirm-state, which is what makes
			// the check race-free against the evictor's mark-then-scan.
			if ref.State() == page.RefCache && ref.Page() == p {
				p.BumpReadGen()
				return p, nil
			}
			s.c.hazards[slot].Store(nil)

		case page.RefDisk:
			if err := s.c.load(ref); err != nil {
				return nil, err
			}

		case page.RefEvict:
			runtime.Gosched()
		}
	}
}

// Child dereferences the subtree reference in a parent page's slot and
// links the loaded page to its parent.
func (s *Session) Child(parent *page.Page, slot int) (*page.Page, error) {
	ref := parent.Ref(slot)
	if ref == nil {
		return nil, fmt.Errorf("%w: slot %d has no subtree", page.ErrSlotRange, slot)
	}
	p, err := s.Page(ref)
	if err != nil {
		return nil, err
	}
	if p.Parent() == nil {
		p.SetParent(parent, ref)
	}
	return p, nil
}

// load performs the single-loader role: read the page image, verify its
// checksum, assemble it, install it, then publish the state change.
func (c *Cache) load(ref *page.Ref) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	// Another caller may have loaded it while we waited for the role.
	if ref.State() != page.RefDisk {
		return nil
	}
	if err := addr.Check(ref.Addr()); err != nil {
		return err
	}
	c.makeRoom(ref.Size())

	buf, err := c.store.ReadBlock(ref.Addr(), ref.Size())
	if err != nil {
		return err
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return fmt.Errorf("page at addr %#x: %w", uint32(ref.Addr()), err)
	}

	cfg := c.cfg
	cfg.Overflow = c
	p, err := page.New(ref.Addr(), buf, cfg)
	if err != nil {
		return err
	}

	ref.SetPage(p)
	// Content writes above must be visible before the state flips to
	// in-cache; the atomic state store publishes them.
	ref.SetState(page.RefCache)

	c.mu.Lock()
	c.resident[ref] = struct{}{}
	c.mu.Unlock()
	c.used.Add(int64(len(buf)))
	return nil
}

// ReadOverflow resolves an overflow pointer to its payload, verifying
// the overflow page on the way in. Implements page.OverflowStore.
func (c *Cache) ReadOverflow(o item.Ovfl) ([]byte, error) {
	if err := addr.Check(o.Addr); err != nil {
		return nil, err
	}
	buf, err := c.store.ReadBlock(o.Addr, o.Size)
	if err != nil {
		return nil, err
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return nil, fmt.Errorf("overflow at addr %#x: %w", uint32(o.Addr), err)
	}
	hdr, err := page.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.Kind != page.KindOvfl {
		return nil, fmt.Errorf("%w: %s at overflow addr %#x", page.ErrBadKind, hdr.Kind, uint32(o.Addr))
	}
	n := hdr.DataLen()
	if uint32(len(buf))-page.HeaderSize < n {
		return nil, fmt.Errorf("overflow at addr %#x: %w", uint32(o.Addr), page.ErrPageTooSmall)
	}
	return buf[page.HeaderSize : page.HeaderSize+n], nil
}

// Resident returns the number of pages currently in cache.
func (c *Cache) Resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resident)
}

// hazardHeld reports whether any session holds a hazard reference to p.
func (c *Cache) hazardHeld(p *page.Page) bool {
	for i := range c.hazards {
		if c.hazards[i].Load() == p {
			return true
		}
	}
	return false
}
