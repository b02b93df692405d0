// pkg/page/ref.go
package page

import (
	"sync/atomic"

	"grove/pkg/addr"
)

// RefState is the lifecycle state of a subtree reference. There may be
// many threads dereferencing a Ref concurrently: readers walking the
// tree, the loader bringing pages into cache, and the evictor reclaiming
// them. All synchronization between those roles goes through the state
// field.
type RefState uint32

const (
	// RefDisk means the child page is on disk and must be loaded before
	// use. It has the value 0 so a zero-initialized Ref is in the
	// correct default state.
	RefDisk RefState = 0

	// RefCache means the child page is loaded and the page pointer is
	// valid for reading.
	RefCache RefState = 1

	// RefEvict means the evictor has provisionally claimed the page and
	// is checking hazard references. The state reverts to RefCache or
	// RefDisk when the check completes.
	RefEvict RefState = 2
)

func (s RefState) String() string {
	switch s {
	case RefDisk:
		return "disk"
	case RefCache:
		return "cache"
	case RefEvict:
		return "evict"
	}
	return "unknown"
}

// Ref is a single subtree reference: the parent page holds exactly one
// per subtree edge. Its page pointer is authoritative only while the
// state is RefCache.
//
// Readers must follow the hazard protocol before dereferencing the page:
// read the state; if RefCache, load the page pointer, publish a hazard
// reference for it, then re-read the state and the pointer. If both are
// unchanged the reference is valid for as long as the hazard reference
// is held; otherwise release the hazard reference and retry. The atomic
// operations on the state and hazard cells provide the ordering the
// protocol needs against the evictor's mark-then-scan sequence.
type Ref struct {
	page  atomic.Pointer[Page]
	state atomic.Uint32

	// Where the child lives on disk, taken from the parent's off-page
	// item when the parent was assembled. Read-only after assembly.
	addr addr.Addr
	size uint32
}

// NewRef returns a reference to an on-disk page.
func NewRef(a addr.Addr, size uint32) *Ref {
	return &Ref{addr: a, size: size}
}

// Addr returns the child page's on-disk address.
func (r *Ref) Addr() addr.Addr { return r.addr }

// Size returns the child page's on-disk size in bytes.
func (r *Ref) Size() uint32 { return r.size }

// SetAddr records a new on-disk location after the child page is written
// to an unused location. Called only by the reconciliation step.
func (r *Ref) SetAddr(a addr.Addr, size uint32) {
	r.addr = a
	r.size = size
}

// State returns the current lifecycle state.
func (r *Ref) State() RefState {
	return RefState(r.state.Load())
}

// SetState publishes a new lifecycle state. On the load path the page
// pointer must be installed before the state becomes RefCache.
func (r *Ref) SetState(s RefState) {
	r.state.Store(uint32(s))
}

// CasState atomically moves the state from old to new, reporting whether
// the swap happened. The evictor uses it to claim a page.
func (r *Ref) CasState(old, new RefState) bool {
	return r.state.CompareAndSwap(uint32(old), uint32(new))
}

// Page returns the in-memory child page, or nil if none is installed.
func (r *Ref) Page() *Page {
	return r.page.Load()
}

// SetPage installs or clears the in-memory child page.
func (r *Ref) SetPage(p *Page) {
	r.page.Store(p)
}
