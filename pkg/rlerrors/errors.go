// Package rlerrors defines the distinct error kinds of spec.md §7, one
// exported struct type per kind in the same shape as the teacher's
// pkg/errors (a struct implementing error, carrying just the fields a
// caller needs to react). Each Error method formats its message with
// github.com/cockroachdb/errors; the struct values themselves carry no
// stack trace or cause. Wrap adds a stack trace to an existing error.
package rlerrors

import (
	"github.com/cockroachdb/errors"
)

// NotMaster is returned when a replica (no VLSN allocator) attempts an
// operation only the master may perform.
type NotMaster struct{ Op string }

func (e *NotMaster) Error() string {
	return errors.Newf("replindex: %s requires a master allocator, this node is a replica", e.Op).Error()
}

// InvariantViolation signals a detected contradiction (bucket overlap,
// out-of-order range, unexpected nil bucket, ...). It invalidates the
// environment: every subsequent index operation must fail fast with this
// same cause until the environment is reopened.
type InvariantViolation struct{ Detail string }

func (e *InvariantViolation) Error() string {
	return errors.Newf("replindex: invariant violation: %s", e.Detail).Error()
}

// Timeout is returned when waitForVLSN exceeds its caller-supplied deadline.
type Timeout struct{ Target string }

func (e *Timeout) Error() string {
	return errors.Newf("replindex: timed out waiting for %s", e.Target).Error()
}

// Poisoned is returned to a waiter whose AwaitLatch was terminated by
// shutdown or a replica<->master role change rather than by the target
// VLSN arriving.
type Poisoned struct{}

func (e *Poisoned) Error() string { return "replindex: await latch terminated" }

// NetworkRestoreRequired is returned by matchpoint search when the local
// log cannot be reconciled with the peer's and a full file copy is needed.
type NetworkRestoreRequired struct{ Reason string }

func (e *NetworkRestoreRequired) Error() string {
	return errors.Newf("replindex: network restore required: %s", e.Reason).Error()
}

// RollbackProhibited is returned when hard recovery would discard more
// durable commits than rollbackTxnLimit allows (or rollback is disabled
// outright).
type RollbackProhibited struct {
	PassedCommits int
	Limit         int
}

func (e *RollbackProhibited) Error() string {
	return errors.Newf("replindex: rollback prohibited: %d passed durable commits exceeds limit %d",
		e.PassedCommits, e.Limit).Error()
}

// IntegrityError signals on-disk data failing deserialization or the
// strict-ordering/overlap checks of §3.
type IntegrityError struct{ Detail string }

func (e *IntegrityError) Error() string {
	return errors.Newf("replindex: integrity error: %s", e.Detail).Error()
}

// Unavailable reports that an operation needing master status cannot
// make progress on this node. No function in this module returns it;
// Index.Put on a replica returns NotMaster.
type Unavailable struct{ Reason string }

func (e *Unavailable) Error() string {
	return errors.Newf("replindex: unavailable: %s", e.Reason).Error()
}

// Wrap annotates err with msg using cockroachdb/errors, preserving the
// original error for errors.Is/As and attaching a stack trace the first
// time it crosses a package boundary.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}
