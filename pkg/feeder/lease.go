package feeder

import (
	"sync"
	"time"

	"github.com/bobboyms/replindex/pkg/fileprotect"
	"github.com/google/uuid"
)

// lease keeps a disconnected client's backup handle alive for a bounded
// duration so a reconnecting feeder client resumes with the same
// protected file range instead of paying to re-derive and re-protect it
// (§4.10: "the lease survives up to a configurable duration and is
// renewed on reconnect"). The background-timer-releases-a-resource
// shape is the same one the teacher's wal.WALWriter uses for its
// interval-sync goroutine (pkg/wal/writer.go backgroundSync), applied
// here to handle expiry instead of periodic fsync.
type lease struct {
	handle *fileprotect.Handle
	timer  *time.Timer
}

// leaseRegistry maps a client identifier to its outstanding lease,
// guarded by a single mutex in the same shape as the teacher's
// TransactionRegistry map of active snapshots.
type leaseRegistry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lease
}

func newLeaseRegistry() *leaseRegistry {
	return &leaseRegistry{entries: make(map[uuid.UUID]*lease)}
}

// Take removes and returns any lease still outstanding for id. ok is
// false when no lease was outstanding — a first-time connection, or one
// whose lease already expired — in which case the caller must derive a
// fresh backup handle.
func (r *leaseRegistry) Take(id uuid.UUID) (handle *fileprotect.Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, found := r.entries[id]
	if !found {
		return nil, false
	}
	l.timer.Stop()
	delete(r.entries, id)
	return l.handle, true
}

// Grant installs (or replaces) a lease for id holding handle, releasing
// the handle automatically after duration unless a subsequent Take
// reclaims it first.
func (r *leaseRegistry) Grant(id uuid.UUID, handle *fileprotect.Handle, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, found := r.entries[id]; found {
		existing.timer.Stop()
		existing.handle.Release()
	}
	l := &lease{handle: handle}
	l.timer = time.AfterFunc(duration, func() { r.expire(id, l) })
	r.entries[id] = l
}

func (r *leaseRegistry) expire(id uuid.UUID, l *lease) {
	r.mu.Lock()
	cur, found := r.entries[id]
	if found && cur == l {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if found {
		l.handle.Release()
	}
}

// Count reports the number of leases currently outstanding.
func (r *leaseRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// closeAll stops every pending timer and releases every held handle,
// called once when the manager shuts down.
func (r *leaseRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.entries {
		l.timer.Stop()
		l.handle.Release()
		delete(r.entries, id)
	}
}
