package tracker

import (
	"sync"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// AwaitLatch is the single-shot gate a waiter blocks on for "the next
// record" (§4.5). Exactly one latch exists in the index at any time;
// CountDown releases it iff the observed VLSN has reached Target.
// Terminate releases it unconditionally and poisons it so the waiter can
// tell a shutdown apart from an ordinary wake.
type AwaitLatch struct {
	Target vlsn.VLSN

	mu       sync.Mutex
	done     chan struct{}
	poisoned bool
	fired    bool
}

// NewAwaitLatch installs a latch targeting target.
func NewAwaitLatch(target vlsn.VLSN) *AwaitLatch {
	return &AwaitLatch{Target: target, done: make(chan struct{})}
}

// CountDown releases the latch iff arrived >= Target. Safe to call
// repeatedly and from multiple goroutines; only the first qualifying call
// has any effect.
func (l *AwaitLatch) CountDown(arrived vlsn.VLSN) {
	if arrived < l.Target {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		return
	}
	l.fired = true
	close(l.done)
}

// Terminate releases the latch unconditionally and marks it poisoned —
// used on environment shutdown or a replica->master transition (§5).
func (l *AwaitLatch) Terminate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		return
	}
	l.fired = true
	l.poisoned = true
	close(l.done)
}

// Done returns a channel that's closed once the latch releases, either by
// CountDown or Terminate.
func (l *AwaitLatch) Done() <-chan struct{} { return l.done }

// Poisoned reports whether the latch released via Terminate rather than
// CountDown.
func (l *AwaitLatch) Poisoned() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poisoned
}
