// Package vlsn defines the core identifiers of the replicated log: the
// virtual log sequence number (VLSN) assigned to every replicated entry,
// and the physical log sequence number (LSN) that locates that entry's
// bytes on disk.
package vlsn

import "fmt"

// VLSN is a 64-bit monotonically increasing identifier assigned to every
// replicated log entry, in group order. Arithmetic (Next/Prev) is only
// valid on non-sentinel values.
type VLSN uint64

const (
	// NULL means "no VLSN" — an absent or not-yet-known value.
	NULL VLSN = 0
	// Invalid marks a VLSN field that has never been set.
	Invalid VLSN = ^VLSN(0)
	// Uninitialized is the durable-txn VLSN stamped on a newly created,
	// pre-replication store.
	Uninitialized VLSN = ^VLSN(0) - 1

	// FirstVLSN is the VLSN of the bootstrap replicated entry every
	// member of a group shares.
	FirstVLSN VLSN = 1
)

// IsNull reports whether v is the NULL sentinel.
func (v VLSN) IsNull() bool { return v == NULL }

// IsSentinel reports whether v is NULL, Invalid or Uninitialized and thus
// not subject to Next/Prev arithmetic.
func (v VLSN) IsSentinel() bool {
	return v == NULL || v == Invalid || v == Uninitialized
}

// Next returns v+1. Panics if v is a sentinel.
func (v VLSN) Next() VLSN {
	if v.IsSentinel() {
		panic(fmt.Sprintf("vlsn: Next called on sentinel value %d", v))
	}
	return v + 1
}

// Prev returns v-1. Panics if v is a sentinel or v is FirstVLSN (no VLSN
// precedes the bootstrap entry).
func (v VLSN) Prev() VLSN {
	if v.IsSentinel() || v <= FirstVLSN {
		panic(fmt.Sprintf("vlsn: Prev called on %d", v))
	}
	return v - 1
}

func (v VLSN) String() string {
	switch v {
	case NULL:
		return "NULL"
	case Invalid:
		return "INVALID"
	case Uninitialized:
		return "UNINITIALIZED"
	default:
		return fmt.Sprintf("%d", uint64(v))
	}
}

// Min returns the smaller of a and b, treating NULL as "unset" rather
// than as a value — a NULL operand loses to any concrete VLSN.
func Min(a, b VLSN) VLSN {
	if a.IsNull() {
		return b
	}
	if b.IsNull() {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b, with the same NULL-as-unset rule as Min.
func Max(a, b VLSN) VLSN {
	if a.IsNull() {
		return b
	}
	if b.IsNull() {
		return a
	}
	if a > b {
		return a
	}
	return b
}
