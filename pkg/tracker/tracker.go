// Package tracker implements the Tracker (§4.3, C4): the single
// in-memory mutation point for the bucket cache and the current Range.
// Every Put funnels through Track; every lookup funnels through
// GetGTEBucket/GetLTEBucket. Buckets and ghost buckets live in an
// ascending-by-First slice, mutated only under mu (the trackerMutex of
// §5's lock hierarchy) — reads of the Range itself stay lock-free via
// vlsn.AtomicRange, per the same section.
package tracker

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bobboyms/replindex/pkg/bucket"
	"github.com/bobboyms/replindex/pkg/config"
	"github.com/bobboyms/replindex/pkg/rlerrors"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

// cacheEntry is one in-memory slot: exactly one of b/ghost is non-nil.
type cacheEntry struct {
	first vlsn.VLSN
	b     *bucket.Bucket
	ghost *bucket.GhostBucket
}

func (e cacheEntry) owns(v vlsn.VLSN) bool {
	if e.b != nil {
		return e.b.Owns(v)
	}
	return e.ghost.Owns(v)
}

// Lookup is the result of GetGTEBucket/GetLTEBucket: exactly one of
// Bucket/Ghost is set, or both nil when nothing in the cache applies.
type Lookup struct {
	Bucket *bucket.Bucket
	Ghost  *bucket.GhostBucket
}

func (l Lookup) Found() bool { return l.Bucket != nil || l.Ghost != nil }

// Tracker is the in-memory bucket cache plus the environment's current
// Range (§4.3). The zero value is not usable; construct with New.
type Tracker struct {
	cfg config.Config

	mu               sync.Mutex
	entries          []cacheEntry
	firstTrackedVLSN vlsn.VLSN
	lastOnDiskVLSN   vlsn.VLSN
	dirty            bool

	rng *vlsn.AtomicRange

	latch atomic.Pointer[AwaitLatch]
}

// New creates a Tracker with no cached buckets, range initialized to
// initialRange (typically what was last read from the backing store at
// open time) and lastOnDiskVLSN set to initialRange.Last.
func New(cfg config.Config, initialRange vlsn.Range) *Tracker {
	return &Tracker{
		cfg:            cfg,
		rng:            vlsn.NewAtomicRange(initialRange),
		lastOnDiskVLSN: initialRange.Last,
	}
}

// Range returns the current Range, lock-free (§5).
func (t *Tracker) Range() vlsn.Range { return t.rng.Load() }

// SetLatch installs the AwaitLatch that Track should signal as records
// arrive. The index facade owns latch lifetime/creation under its own
// indexMutex; Tracker only needs a reference to fire CountDown.
func (t *Tracker) SetLatch(l *AwaitLatch) { t.latch.Store(l) }

// FirstTrackedVLSN returns the lowest VLSN currently represented in the
// in-memory cache, or vlsn.NULL if the cache is empty.
func (t *Tracker) FirstTrackedVLSN() vlsn.VLSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstTrackedVLSN
}

// LastOnDiskVLSN returns the highest VLSN already durable in the backing
// store as of the last successful flush.
func (t *Tracker) LastOnDiskVLSN() vlsn.VLSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOnDiskVLSN
}

func (t *Tracker) recomputeFirstTracked() {
	if len(t.entries) == 0 {
		t.firstTrackedVLSN = vlsn.NULL
		return
	}
	t.firstTrackedVLSN = t.entries[0].first
}

// floorIndex returns the index of the entry with the greatest first <= v,
// or -1 if every entry's first exceeds v.
func (t *Tracker) floorIndex(v vlsn.VLSN) int {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].first > v })
	return i - 1
}

func (t *Tracker) current() *cacheEntry {
	if len(t.entries) == 0 {
		return nil
	}
	last := &t.entries[len(t.entries)-1]
	if last.b == nil || last.b.Closed() {
		return nil
	}
	return last
}

// Track records a single (vlsn, lsn) mapping of the given entry type
// (§4.3). Laggard puts (vlsn already on disk) only advance bookkeeping
// and are not an error — duplicate delivery from a feeder reconnect is
// expected, not exceptional.
func (t *Tracker) Track(v vlsn.VLSN, l vlsn.LSN, et vlsn.EntryType) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastOnDiskVLSN.IsNull() && v <= t.lastOnDiskVLSN {
		next := t.rng.Load().Advance(v, et)
		t.rng.Store(next)
		if latch := t.latch.Load(); latch != nil {
			latch.CountDown(v)
		}
		return nil
	}

	cur := t.current()
	if cur == nil {
		nb := bucket.New(v, l, t.cfg.Stride, t.cfg.MaxMappings, t.cfg.MaxDistance)
		t.entries = append(t.entries, cacheEntry{first: v, b: nb})
		t.recomputeFirstTracked()
	} else if !cur.b.Follows(v) {
		if !cur.b.Put(v, l) {
			cur.b.Close()
			nb := bucket.New(v, l, t.cfg.Stride, t.cfg.MaxMappings, t.cfg.MaxDistance)
			if nb.Last() != v {
				return &rlerrors.InvariantViolation{Detail: "freshly opened bucket does not cover its own seed vlsn"}
			}
			t.entries = append(t.entries, cacheEntry{first: v, b: nb})
		}
	}

	next := t.rng.Load().Advance(v, et)
	t.rng.Store(next)
	t.dirty = true

	if latch := t.latch.Load(); latch != nil {
		latch.CountDown(v)
	}
	return nil
}

// GetGTEBucket locates the bucket-or-ghost whose floor entry owns v, or
// failing that the next entry strictly past v (§4.3). Absent (not Found)
// means the caller must consult the backing store.
func (t *Tracker) GetGTEBucket(v vlsn.VLSN) Lookup {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastOnDiskVLSN.IsNull() && v <= t.lastOnDiskVLSN {
		return Lookup{}
	}

	if fi := t.floorIndex(v); fi >= 0 && t.entries[fi].owns(v) {
		return lookupOf(t.entries[fi])
	}
	// least first-key > v
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].first > v })
	if i == len(t.entries) {
		return Lookup{}
	}
	return lookupOf(t.entries[i])
}

// GetLTEBucket returns the floor entry for v regardless of ownership,
// since a GhostBucket floor still bounds an LTE query (§4.3).
func (t *Tracker) GetLTEBucket(v vlsn.VLSN) Lookup {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.firstTrackedVLSN.IsNull() && v < t.firstTrackedVLSN {
		return Lookup{}
	}
	fi := t.floorIndex(v)
	if fi < 0 {
		return Lookup{}
	}
	return lookupOf(t.entries[fi])
}

func lookupOf(e cacheEntry) Lookup {
	if e.b != nil {
		return Lookup{Bucket: e.b}
	}
	return Lookup{Ghost: e.ghost}
}

// FlushSnapshot is the consistent, point-in-time view PrepareFlush hands
// to the caller for serialization to the backing store.
type FlushSnapshot struct {
	Buckets []*bucket.Bucket
	Ghosts  []*bucket.GhostBucket
	Range   vlsn.Range
}

// PrepareFlush closes the current bucket (so further Puts land in a new
// one) and returns every cached entry plus the Range as of this instant.
// The caller persists this snapshot without holding trackerMutex — new
// Puts proceed concurrently against the fresh current bucket, matching
// the checkpoint-runs-alongside-new-writes pattern of §4.3. It does not
// itself clear the cache; call CommitFlush once the write durably lands.
func (t *Tracker) PrepareFlush() FlushSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.current(); cur != nil {
		cur.b.Close()
	}

	snap := FlushSnapshot{Range: t.rng.Load()}
	for _, e := range t.entries {
		if e.b != nil {
			snap.Buckets = append(snap.Buckets, e.b)
		} else {
			snap.Ghosts = append(snap.Ghosts, e.ghost)
		}
	}
	t.dirty = false
	return snap
}

// CommitFlush advances lastOnDiskVLSN and drops every cached entry whose
// coverage lies entirely at or below it, now that they're durable.
func (t *Tracker) CommitFlush(newLastOnDisk vlsn.VLSN) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastOnDiskVLSN = newLastOnDisk
	kept := t.entries[:0:0]
	for _, e := range t.entries {
		hi := e.first
		if e.b != nil {
			hi = e.b.Last()
		}
		if hi > newLastOnDisk {
			kept = append(kept, e)
		}
	}
	t.entries = kept
	t.recomputeFirstTracked()
}

// NeedsFlush reports whether Track has observed puts since the last
// PrepareFlush.
func (t *Tracker) NeedsFlush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// canTruncateFromHead implements the §4.3 precondition
// `deleteEnd < max(lastSync, last - MinIndexSize)`: the caller must never
// discard the last syncable entry a replication matchpoint search might
// need, nor shrink the index below its configured floor. uint64
// subtraction on rng.Last needs guarding since MinIndexSize can legally
// exceed the index's current size, which must read as "no floor from
// this side" rather than wrapping around.
func canTruncateFromHead(rng vlsn.Range, deleteEnd vlsn.VLSN, minIndexSize uint64) bool {
	if rng.IsEmpty() {
		return false
	}
	floor := vlsn.NULL
	if uint64(rng.Last) > minIndexSize {
		floor = vlsn.VLSN(uint64(rng.Last) - minIndexSize)
	}
	bound := vlsn.Max(rng.LastSync, floor)
	if bound.IsNull() {
		return false
	}
	return deleteEnd < bound
}

// TruncateFromHead drops every cached entry fully below deleteEnd and
// shortens the Range accordingly (§4.7 truncateFromHead), but only once
// the §4.3 precondition `deleteEnd < max(lastSync, last - MinIndexSize)`
// holds; otherwise it leaves the cache and Range untouched and returns
// false. It does not install the replacement GhostBucket: the facade
// computes the ghost's CoveringLsn/BoundingLsn from the backing store's
// file layout and calls InsertHeadGhost once it has them.
func (t *Tracker) TruncateFromHead(deleteEnd vlsn.VLSN) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTruncateFromHead(t.rng.Load(), deleteEnd, t.cfg.MinIndexSize) {
		return false
	}

	kept := t.entries[:0:0]
	for _, e := range t.entries {
		hi := e.first
		if e.b != nil {
			hi = e.b.Last()
		}
		if hi > deleteEnd {
			kept = append(kept, e)
		}
	}
	t.entries = kept
	t.recomputeFirstTracked()

	t.rng.Store(t.rng.Load().ShortenFromHead(deleteEnd))
	if t.lastOnDiskVLSN.IsNull() || t.lastOnDiskVLSN < deleteEnd {
		t.lastOnDiskVLSN = deleteEnd
	}
	t.dirty = true
	return true
}

// NeedsHeadGhost reports whether, after a TruncateFromHead, the cache has
// a gap immediately above deleteEnd that only a GhostBucket can bridge —
// true when there's no surviving entry, or the surviving floor entry's
// First is past deleteEnd+1.
func (t *Tracker) NeedsHeadGhost(deleteEnd vlsn.VLSN) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == 0 {
		return !t.rng.Load().IsEmpty()
	}
	return t.entries[0].first > deleteEnd.Next()
}

// InsertHeadGhost prepends g as the new minimum cache entry.
func (t *Tracker) InsertHeadGhost(g *bucket.GhostBucket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append([]cacheEntry{{first: g.First, ghost: g}}, t.entries...)
	t.recomputeFirstTracked()
}

// TruncateFromTail drops every cached entry at or past deleteStart,
// trims the straddling entry via bucket.RemoveFromTail, and — if the
// caller supplies cappingLsn and no surviving entry owns the new
// Range.Last — seeds a fresh bucket there, so the environment always has
// a last-mapping bucket once
// truncation completes (§8 scenario 4, §4.7 truncateFromTail).
func (t *Tracker) TruncateFromTail(deleteStart vlsn.VLSN, cappingLsn vlsn.LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0:0]
	for _, e := range t.entries {
		if e.first >= deleteStart {
			continue
		}
		if e.b != nil && e.b.Owns(deleteStart) {
			e.b.RemoveFromTail(deleteStart, cappingLsn)
			if e.b.IsEmpty() {
				continue
			}
		}
		kept = append(kept, e)
	}
	t.entries = kept

	t.rng.Store(t.rng.Load().ShortenFromEnd(deleteStart))
	newRange := t.rng.Load()
	if !t.lastOnDiskVLSN.IsNull() && (newRange.IsEmpty() || deleteStart <= t.lastOnDiskVLSN) {
		t.lastOnDiskVLSN = newRange.Last
	}

	if !newRange.IsEmpty() && !cappingLsn.IsNull() {
		if fi := t.floorIndex(newRange.Last); fi < 0 || !t.entries[fi].owns(newRange.Last) {
			nb := bucket.New(newRange.Last, cappingLsn, t.cfg.Stride, t.cfg.MaxMappings, t.cfg.MaxDistance)
			t.entries = append(t.entries, cacheEntry{first: nb.First, b: nb})
		}
	}
	t.recomputeFirstTracked()
	t.dirty = true
}

// Merge installs a recovery-built Tracker's cache on top of this one
// (§4.8 merge-on-recovery): entries from recovered whose coverage begins
// at or above recovered's minimum replace any overlapping entries here,
// and lastOnDiskVLSN/Range move to reflect the post-prune, post-recovery
// state.
func (t *Tracker) Merge(recovered *Tracker, lastOnDiskAfterPrune vlsn.VLSN) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	recovered.mu.Lock()
	defer recovered.mu.Unlock()

	if len(recovered.entries) == 0 {
		t.lastOnDiskVLSN = lastOnDiskAfterPrune
		t.rng.Store(recovered.rng.Load())
		return nil
	}

	cutover := recovered.entries[0].first
	kept := t.entries[:0:0]
	for _, e := range t.entries {
		hi := e.first
		if e.b != nil {
			hi = e.b.Last()
		}
		if hi < cutover {
			kept = append(kept, e)
		}
	}
	t.entries = append(kept, recovered.entries...)
	t.lastOnDiskVLSN = lastOnDiskAfterPrune
	t.rng.Store(recovered.rng.Load())
	t.recomputeFirstTracked()
	t.dirty = true
	return nil
}

// Append concatenates a recovery-built Tracker's entries strictly above
// this Tracker's current coverage (no-overlap fast path of merge). It
// returns an InvariantViolation if the two trackers' coverage overlaps.
func (t *Tracker) Append(recovered *Tracker) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	recovered.mu.Lock()
	defer recovered.mu.Unlock()

	if len(recovered.entries) == 0 {
		return nil
	}
	curRange := t.rng.Load()
	recRange := recovered.rng.Load()
	if !curRange.IsEmpty() && !recRange.IsEmpty() && recRange.First <= curRange.Last {
		return &rlerrors.InvariantViolation{Detail: "Append requires strictly disjoint, higher-VLSN coverage"}
	}

	t.entries = append(t.entries, recovered.entries...)
	merged := curRange
	if curRange.IsEmpty() {
		merged = recRange
	} else if !recRange.IsEmpty() {
		merged.Last = recRange.Last
		merged.LastSync = vlsn.Max(merged.LastSync, recRange.LastSync)
		merged.LastTxnEnd = vlsn.Max(merged.LastTxnEnd, recRange.LastTxnEnd)
	}
	t.rng.Store(merged)
	t.recomputeFirstTracked()
	t.dirty = true
	return nil
}
