// pkg/cache/budget.go
package cache

// Used returns the bytes of page images currently resident.
func (c *Cache) Used() int64 {
	return c.used.Load()
}

// MaxBytes returns the configured memory cap, zero for unlimited.
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// OverBudget reports whether resident pages exceed the cap.
func (c *Cache) OverBudget() bool {
	return c.maxBytes > 0 && c.used.Load() > c.maxBytes
}

// makeRoom evicts cold pages until an incoming page of size bytes fits
// under the cap. Best effort: if everything evictable is gone and the
// cache is still over, the load proceeds anyway rather than failing a
// read for a full cache.
func (c *Cache) makeRoom(size uint32) {
	if c.maxBytes <= 0 {
		return
	}
	// Any eviction failure ends the attempt; write-back errors will
	// resurface on the operation that needs them.
	for c.used.Load()+int64(size) > c.maxBytes {
		if c.Evict() != nil {
			return
		}
	}
}
