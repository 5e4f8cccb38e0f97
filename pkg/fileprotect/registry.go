// Package fileprotect gates log file deletion behind an additive-across-
// holders lower bound (§4.10, C10). Matchpoint search holding a cursor
// into an old file, and a feeder streaming a backup from one, both need
// to keep that file (and everything after it) from being deleted out
// from under them; neither knows about the other. Every holder
// registers the oldest file number it still needs, and deletion may
// only proceed below the minimum across all of them — the same
// register/unregister/recompute-min shape as the teacher's
// TransactionRegistry, adapted from snapshot LSNs to protected file
// numbers.
package fileprotect

import (
	"math"
	"sync"
)

// Handle is a single holder's claim that file (and every later file)
// must not be deleted. Release it once the holder no longer needs that
// guarantee.
type Handle struct {
	id       uint64
	file     uint32
	registry *Registry
}

// File returns the file number this handle protects.
func (h *Handle) File() uint32 { return h.file }

// Release removes this handle's claim from the registry.
func (h *Handle) Release() {
	if h == nil || h.registry == nil {
		return
	}
	h.registry.unregister(h.id)
}

// Registry tracks every outstanding protection claim and exposes the
// minimum protected file number across all of them.
type Registry struct {
	mu      sync.Mutex
	holders map[uint64]uint32
	nextID  uint64
}

// NewRegistry returns an empty registry (no protected files, deletion unbounded).
func NewRegistry() *Registry {
	return &Registry{holders: make(map[uint64]uint32)}
}

// Protect registers a new holder claiming file and everything after it.
// The returned Handle must be Released when the holder is done.
func (r *Registry) Protect(file uint32) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.holders[id] = file
	return &Handle{id: id, file: file, registry: r}
}

func (r *Registry) unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holders, id)
}

// MinProtectedFile returns the lowest file number any holder still
// needs, and false if there are no outstanding holders (deletion is
// then bounded only by the index's own retention policy).
func (r *Registry) MinProtectedFile() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.holders) == 0 {
		return 0, false
	}
	min := uint32(math.MaxUint32)
	for _, f := range r.holders {
		if f < min {
			min = f
		}
	}
	return min, true
}

// MayDelete reports whether file is safe to delete given the current
// set of protection claims: it must be strictly below every holder's
// protected file number.
func (r *Registry) MayDelete(file uint32) bool {
	min, ok := r.MinProtectedFile()
	if !ok {
		return true
	}
	return file < min
}
