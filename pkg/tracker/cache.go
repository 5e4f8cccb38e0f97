package tracker

import (
	"sync/atomic"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// LogItemCache is a bounded, wait-free most-recent-VLSN->record cache for
// hot reads (§4.6, C6). It is a direct-mapped ring of atomic slots: a put
// at vlsn lands in slot vlsn % capacity, unconditionally overwriting
// whatever was there. A get checks the slot's stamped VLSN before
// trusting its payload, so a stale/overwritten slot is reported as a
// miss rather than returning the wrong record. The cache is purely an
// optimization; misses fall through to bucket+log fetch.
type LogItemCache struct {
	slots []atomic.Pointer[slot]
}

type slot struct {
	v    vlsn.VLSN
	item any
}

// NewLogItemCache creates a cache with room for capacity hot entries.
func NewLogItemCache(capacity int) *LogItemCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogItemCache{slots: make([]atomic.Pointer[slot], capacity)}
}

func (c *LogItemCache) index(v vlsn.VLSN) int {
	return int(uint64(v) % uint64(len(c.slots)))
}

// Put stores item under v, wait-free.
func (c *LogItemCache) Put(v vlsn.VLSN, item any) {
	c.slots[c.index(v)].Store(&slot{v: v, item: item})
}

// Get returns the cached item for v and true, or (nil, false) on a miss.
func (c *LogItemCache) Get(v vlsn.VLSN) (any, bool) {
	s := c.slots[c.index(v)].Load()
	if s == nil || s.v != v {
		return nil, false
	}
	return s.item, true
}

// Clear removes every entry whose VLSN satisfies predicate — used after
// truncation to drop entries that no longer belong to the covered range.
func (c *LogItemCache) Clear(predicate func(vlsn.VLSN) bool) {
	for i := range c.slots {
		s := c.slots[i].Load()
		if s != nil && predicate(s.v) {
			c.slots[i].CompareAndSwap(s, nil)
		}
	}
}
