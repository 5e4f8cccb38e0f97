package vlsn

import "sync/atomic"

// EntryType classifies a replicated log entry for the purposes of range
// bookkeeping: whether it can serve as a replication matchpoint
// (Syncable) and whether it closes a transaction.
type EntryType uint8

const (
	EntryOther EntryType = iota
	// EntrySyncable marks an entry usable as a matchpoint candidate by
	// pkg/matchpoint (e.g. a checkpoint-end or other group-durable marker).
	EntrySyncable
	// EntryTxnCommit and EntryTxnAbort close a transaction.
	EntryTxnCommit
	EntryTxnAbort
)

// IsSyncable reports whether t may serve as a replication matchpoint.
// Commit/abort entries are syncable too: every transaction boundary is a
// valid place to resynchronize.
func (t EntryType) IsSyncable() bool {
	return t == EntrySyncable || t == EntryTxnCommit || t == EntryTxnAbort
}

// IsTxnEnd reports whether t closes a transaction (commit or abort).
func (t EntryType) IsTxnEnd() bool {
	return t == EntryTxnCommit || t == EntryTxnAbort
}

// Range is an immutable snapshot of the VLSN range a node currently
// covers. It is replaced wholesale on every update (§4.2); callers never
// mutate a Range in place.
type Range struct {
	First     VLSN
	Last      VLSN
	LastSync  VLSN
	LastTxnEnd VLSN
}

// EmptyRange is the Range of a node that has not tracked anything yet.
var EmptyRange = Range{First: NULL, Last: NULL, LastSync: NULL, LastTxnEnd: NULL}

// IsEmpty reports whether the range covers no VLSNs at all.
func (r Range) IsEmpty() bool { return r.First.IsNull() && r.Last.IsNull() }

// Contains reports whether v lies within [First, Last].
func (r Range) Contains(v VLSN) bool {
	if r.IsEmpty() {
		return false
	}
	return v >= r.First && v <= r.Last
}

// Advance folds a newly observed (vlsn, type) pair into r, returning the
// updated Range. first never moves forward here — only truncation from
// the head moves it (§4.2).
func (r Range) Advance(v VLSN, t EntryType) Range {
	next := r
	if next.First.IsNull() {
		next.First = v
	} else if v < next.First {
		next.First = v
	}
	next.Last = Max(next.Last, v)
	if t.IsSyncable() {
		next.LastSync = Max(next.LastSync, v)
	}
	if t.IsTxnEnd() {
		next.LastTxnEnd = Max(next.LastTxnEnd, v)
	}
	return next
}

// ShortenFromHead implements §4.2's head truncation: everything up to and
// including deleteEnd is dropped from the covered range.
func (r Range) ShortenFromHead(deleteEnd VLSN) Range {
	next := r
	next.First = deleteEnd.Next()
	if !next.LastSync.IsNull() && next.LastSync <= deleteEnd {
		next.LastSync = NULL
	}
	if !next.LastTxnEnd.IsNull() && next.LastTxnEnd <= deleteEnd {
		next.LastTxnEnd = NULL
	}
	if next.First > next.Last {
		next = EmptyRange
	}
	return next
}

// ShortenFromEnd implements §4.2's tail truncation: everything from
// deleteStart onward is dropped from the covered range.
func (r Range) ShortenFromEnd(deleteStart VLSN) Range {
	next := r
	if deleteStart <= FirstVLSN {
		next.Last = NULL
	} else {
		next.Last = deleteStart.Prev()
	}
	if !next.LastSync.IsNull() && next.LastSync >= deleteStart {
		next.LastSync = NULL
	}
	if !next.LastTxnEnd.IsNull() && next.LastTxnEnd >= deleteStart {
		next.LastTxnEnd = NULL
	}
	if next.First.IsNull() || next.Last.IsNull() || next.First > next.Last {
		next = EmptyRange
	}
	return next
}

// AtomicRange holds a Range behind an atomic pointer so readers observe a
// consistent snapshot without taking a lock (§5: "Range reads are
// lock-free").
type AtomicRange struct {
	ptr atomic.Pointer[Range]
}

// NewAtomicRange creates an AtomicRange initialized to r.
func NewAtomicRange(r Range) *AtomicRange {
	a := &AtomicRange{}
	a.Store(r)
	return a
}

// Load returns the current Range snapshot.
func (a *AtomicRange) Load() Range {
	return *a.ptr.Load()
}

// Store atomically replaces the Range snapshot.
func (a *AtomicRange) Store(r Range) {
	cp := r
	a.ptr.Store(&cp)
}
