// Package bucket implements the sparse (VLSN -> LSN) mapping described in
// spec.md §3/§4.1: a Bucket covers a contiguous run of VLSNs, retaining
// an entry roughly every Stride VLSNs, and is either the single mutable
// "current" bucket of a Tracker or an immutable closed one.
package bucket

import (
	"fmt"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// entry is one retained (VLSN, LSN) mapping.
type entry struct {
	v vlsn.VLSN
	l vlsn.LSN
}

// Bucket is a sparse VLSN->LSN map over [First, Last]. See §3 for the
// invariants: First <= Last, retained entries strictly increasing in
// both VLSN and LSN, all LSNs share FileNumber, and a bucket is either
// current (mutable) or closed (immutable).
type Bucket struct {
	First  vlsn.VLSN
	last   vlsn.VLSN
	File   uint32
	Stride uint64

	entries []entry
	closed  bool
	empty   bool // set by RemoveFromTail when no mapping survives

	maxMappings int
	maxDistance uint64
}

// New opens a fresh current bucket rooted at (first, firstLSN).
func New(first vlsn.VLSN, firstLSN vlsn.LSN, stride uint64, maxMappings int, maxDistance uint64) *Bucket {
	b := &Bucket{
		First:       first,
		last:        first,
		File:        firstLSN.File(),
		Stride:      stride,
		maxMappings: maxMappings,
		maxDistance: maxDistance,
	}
	b.entries = append(b.entries, entry{v: first, l: firstLSN})
	return b
}

// Last returns the highest VLSN this bucket covers (not necessarily retained).
func (b *Bucket) Last() vlsn.VLSN { return b.last }

// Closed reports whether the bucket is immutable.
func (b *Bucket) Closed() bool { return b.closed }

// Owns reports firstVLSN <= vlsn <= lastVLSN.
func (b *Bucket) Owns(v vlsn.VLSN) bool { return v >= b.First && v <= b.last }

// Precedes reports vlsn > lastVLSN.
func (b *Bucket) Precedes(v vlsn.VLSN) bool { return v > b.last }

// Follows reports vlsn < firstVLSN.
func (b *Bucket) Follows(v vlsn.VLSN) bool { return v < b.First }

// wouldClose reports whether accepting (v, l) would trip a closure rule:
// maxMappings retained, maxDistance bytes from the first LSN, or a file
// boundary crossed (§3 bucket closure rule).
func (b *Bucket) wouldClose(l vlsn.LSN) bool {
	if len(b.entries) >= b.maxMappings {
		return true
	}
	if l.File() != b.File {
		return true
	}
	first := b.entries[0].l
	if uint64(l.Offset())-uint64(first.Offset()) > b.maxDistance {
		return true
	}
	return false
}

// Put attempts to append (v, l) to a current bucket. It returns false,
// without mutating the bucket, when v does not extend the bucket or when
// a closure rule fires — the caller must then freeze this bucket and
// open a new one (§4.1, §4.3 track step 4).
func (b *Bucket) Put(v vlsn.VLSN, l vlsn.LSN) bool {
	if b.closed {
		panic("bucket: Put called on a closed bucket")
	}
	if v <= b.last {
		return false
	}
	if b.wouldClose(l) {
		return false
	}

	lastRetained := b.entries[len(b.entries)-1]
	if uint64(v-lastRetained.v) >= b.Stride || len(b.entries) == 0 {
		b.entries = append(b.entries, entry{v: v, l: l})
	}
	b.last = v
	return true
}

// Close freezes the bucket: it becomes immutable and is never mutated
// again (the Tracker reinserts it into the cache by reference).
func (b *Bucket) Close() { b.closed = true }

// GetLsn returns the exact retained mapping for v, or NullLSN if this
// bucket does not retain a mapping for that exact VLSN.
func (b *Bucket) GetLsn(v vlsn.VLSN) vlsn.LSN {
	for _, e := range b.entries {
		if e.v == v {
			return e.l
		}
		if e.v > v {
			break
		}
	}
	return vlsn.NullLSN
}

// GetLTELsn returns the greatest retained LSN whose VLSN <= v, scanning
// forward from firstVLSN (§4.1).
func (b *Bucket) GetLTELsn(v vlsn.VLSN) vlsn.LSN {
	result := vlsn.NullLSN
	for _, e := range b.entries {
		if e.v > v {
			break
		}
		result = e.l
	}
	return result
}

// GetGTELsn returns the least retained LSN whose VLSN >= v.
func (b *Bucket) GetGTELsn(v vlsn.VLSN) vlsn.LSN {
	for _, e := range b.entries {
		if e.v >= v {
			return e.l
		}
	}
	return vlsn.NullLSN
}

// Entries returns the retained (VLSN, LSN) pairs in increasing order.
// Used by persistence (pkg/backing) and testable-property checks; callers
// must not mutate the backing array.
func (b *Bucket) Entries() []struct {
	VLSN vlsn.VLSN
	LSN  vlsn.LSN
} {
	out := make([]struct {
		VLSN vlsn.VLSN
		LSN  vlsn.LSN
	}, len(b.entries))
	for i, e := range b.entries {
		out[i] = struct {
			VLSN vlsn.VLSN
			LSN  vlsn.LSN
		}{e.v, e.l}
	}
	return out
}

// RemoveFromTail drops retained entries with VLSN >= deleteStart (§4.1).
// If cappingLsn is non-null, a (deleteStart-1, cappingLsn) mapping is
// inserted so the bucket retains a last-mapping invariant even when no
// natural entry exists at that VLSN. If cappingLsn is null, entries are
// dropped down through (and including) the highest retained VLSN that is
// < deleteStart, since that boundary entry's LSN can no longer be
// trusted as the bucket's last mapping; the bucket may become empty, in
// which case IsEmpty reports true and the Tracker is responsible for
// supplying a fresh last-mapping bucket (§8 scenario 4).
func (b *Bucket) RemoveFromTail(deleteStart vlsn.VLSN, cappingLsn vlsn.LSN) {
	kept := b.entries[:0:0]
	for _, e := range b.entries {
		if e.v < deleteStart {
			kept = append(kept, e)
		}
	}
	b.entries = kept

	if !cappingLsn.IsNull() {
		capVlsn := deleteStart.Prev()
		if n := len(b.entries); n > 0 && b.entries[n-1].v == capVlsn {
			b.entries = b.entries[:n-1]
		}
		b.entries = append(b.entries, entry{v: capVlsn, l: cappingLsn})
		b.last = capVlsn
		return
	}

	if len(b.entries) == 0 {
		b.empty = true
		return
	}
	// Drop the highest surviving retained VLSN too: without a capping
	// LSN its mapping can't be guaranteed to still be the bucket's last.
	b.entries = b.entries[:len(b.entries)-1]
	if len(b.entries) == 0 {
		b.empty = true
		return
	}
	b.last = b.entries[len(b.entries)-1].v
}

// IsEmpty reports whether RemoveFromTail consumed every retained mapping.
func (b *Bucket) IsEmpty() bool { return b.empty }

// Validate checks the §3 bucket invariants, returning an error describing
// the first violation found. Used by deserialization (fatal integrity
// error on failure, per §4.1).
func (b *Bucket) Validate() error {
	if b.First > b.last {
		return fmt.Errorf("bucket: first %s > last %s", b.First, b.last)
	}
	var prevV vlsn.VLSN
	var prevL vlsn.LSN
	for i, e := range b.entries {
		if e.v < b.First || e.v > b.last {
			return fmt.Errorf("bucket: entry %s outside [%s,%s]", e.v, b.First, b.last)
		}
		if e.l.File() != b.File {
			return fmt.Errorf("bucket: entry at %s has file %d, bucket file %d", e.v, e.l.File(), b.File)
		}
		if i > 0 {
			if e.v <= prevV {
				return fmt.Errorf("bucket: entries not strictly increasing in VLSN at %s", e.v)
			}
			if !prevL.Less(e.l) {
				return fmt.Errorf("bucket: entries not strictly increasing in LSN at %s", e.v)
			}
		}
		prevV, prevL = e.v, e.l
	}
	return nil
}
