package matchpoint

import (
	"github.com/bobboyms/replindex/pkg/rlerrors"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

// Outcome is the classification of a found matchpoint into a recovery
// action (§4.9's truth table).
type Outcome int

const (
	// OutcomeRollbackEverything: no commits and no syncable entry were
	// ever observed; the entire local log is speculative.
	OutcomeRollbackEverything Outcome = iota
	// OutcomeRollbackTo: roll back to the matchpoint; there was no
	// committed transaction boundary to worry about.
	OutcomeRollbackTo
	// OutcomeNormalRollback: commits exist but none of them are past
	// the matchpoint; a plain tail truncation suffices.
	OutcomeNormalRollback
	// OutcomeHardRecovery: commits past the matchpoint exist but are
	// safe to discard; truncate the log at the matchpoint and re-run
	// recovery from there.
	OutcomeHardRecovery
	// OutcomeNetworkRestore is returned as an error
	// (*rlerrors.NetworkRestoreRequired), never as a bare Outcome value.
)

// ClassifyInput collects every fact §4.9's truth table discriminates on.
type ClassifyInput struct {
	LastTxnEnd vlsn.VLSN // NULL if no commit/abort ever observed
	LastSync   vlsn.VLSN // NULL if no syncable entry ever observed
	Matchpoint vlsn.VLSN // NULL only when no matchpoint could be found at all

	// CrossedCleanedFilesGap: the backward scan from the current last VLSN to the
	// matchpoint passed through a file range already deleted by
	// truncate-from-head.
	CrossedCleanedFilesGap bool
	// TruncationCrossesCheckpointWithDeletedFiles: the truncation point
	// implied by the matchpoint would fall before a checkpoint-end whose
	// referenced files have already been deleted.
	TruncationCrossesCheckpointWithDeletedFiles bool
	// TruncationPrecedesFirstActiveLsn: the truncation LSN is before the
	// oldest LSN any active transaction still needs.
	TruncationPrecedesFirstActiveLsn bool

	// PassedCommits is the count of durable commit/abort entries after
	// the matchpoint, up to and including the current last VLSN,
	// counted while scanning backward (§4.9, scenario 5).
	PassedCommits    int
	RollbackTxnLimit int
	RollbackDisabled bool
}

// Classify implements the §4.9 truth table. The structural
// NetworkRestore conditions (a cleaned-files gap, a checkpoint whose
// files are already gone, or a truncation point preceding the oldest
// LSN an active transaction needs) are checked before the policy-based
// RollbackProhibited check: those three describe a log that physically
// cannot support any rollback to the matchpoint, which is a stronger
// condition than "rollback is possible but discards too much" — the
// open question in spec.md §9 left this ordering unresolved, and this
// is the decision made here.
func Classify(in ClassifyInput) (Outcome, error) {
	switch {
	case in.LastTxnEnd.IsNull() && in.LastSync.IsNull() && in.Matchpoint.IsNull():
		// Bootstrap case: nothing was ever committed or synced locally,
		// so there is nothing a matchpoint could even be sought against.
		return OutcomeRollbackEverything, nil

	case in.Matchpoint.IsNull():
		return 0, &rlerrors.NetworkRestoreRequired{Reason: "no matchpoint could be established"}

	case in.LastTxnEnd.IsNull():
		return OutcomeRollbackTo, nil

	case !in.LastTxnEnd.IsNull() && in.LastTxnEnd <= in.Matchpoint:
		return OutcomeNormalRollback, nil
	}

	// LastTxnEnd > Matchpoint from here: some durable commit would be
	// rolled back. Check whether the log can support that at all.
	if in.CrossedCleanedFilesGap {
		return 0, &rlerrors.NetworkRestoreRequired{Reason: "matchpoint scan crossed a cleaned-files gap"}
	}
	if in.TruncationCrossesCheckpointWithDeletedFiles {
		return 0, &rlerrors.NetworkRestoreRequired{Reason: "truncation would cross a checkpoint-end with deleted files"}
	}
	if in.TruncationPrecedesFirstActiveLsn {
		return 0, &rlerrors.NetworkRestoreRequired{Reason: "truncation LSN precedes the first active LSN"}
	}

	if !in.RollbackDisabled && in.PassedCommits <= in.RollbackTxnLimit {
		return OutcomeHardRecovery, nil
	}
	return 0, &rlerrors.RollbackProhibited{PassedCommits: in.PassedCommits, Limit: in.RollbackTxnLimit}
}
