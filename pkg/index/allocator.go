package index

import (
	"sync/atomic"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// Allocator hands out the next VLSN for the master to stamp a record
// with before appending it (§4.2 bump). Adapted from the teacher's
// LSNTracker: a bare atomic counter is enough here too, since VLSN
// allocation has no other invariant to protect beyond monotonic
// uniqueness. A replica has no allocator of its own — VLSNs arrive
// already stamped from the master.
type Allocator struct {
	current uint64
}

// NewAllocator seeds the allocator so the first Next() returns start+1.
func NewAllocator(start vlsn.VLSN) *Allocator {
	return &Allocator{current: uint64(start)}
}

// Next allocates and returns the next VLSN.
func (a *Allocator) Next() vlsn.VLSN {
	return vlsn.VLSN(atomic.AddUint64(&a.current, 1))
}

// Current returns the most recently allocated VLSN without allocating another.
func (a *Allocator) Current() vlsn.VLSN {
	return vlsn.VLSN(atomic.LoadUint64(&a.current))
}

// Set forces the counter to val — used when recovery determines the
// true end of the log is ahead of what was persisted.
func (a *Allocator) Set(val vlsn.VLSN) {
	atomic.StoreUint64(&a.current, uint64(val))
}
