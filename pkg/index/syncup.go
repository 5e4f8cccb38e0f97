package index

import (
	"context"
	"fmt"

	"github.com/bobboyms/replindex/pkg/logstore"
	"github.com/bobboyms/replindex/pkg/matchpoint"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

// SyncupResult reports what Syncup decided and, for hard recovery,
// where the log was truncated to.
type SyncupResult struct {
	Outcome    matchpoint.Outcome
	Matchpoint vlsn.VLSN
}

// Syncup runs the replica-feeder matchpoint search (§4.9) against peer,
// classifies the recovery it implies, and — for outcomes that call for
// it — truncates the local tail to the matchpoint. The caller must
// ensure the replication stream is quiescent first (§5: "Truncate-from-
// tail assumes the replication stream is quiescent").
func (ix *Index) Syncup(ctx context.Context, peer matchpoint.Peer) (SyncupResult, error) {
	rng := ix.Range()

	handle := ix.ProtectFile(ix.log.FirstFile())
	defer handle.Release()

	res, err := matchpoint.Search(ctx, peer, ix.asLocalLog(), rng.LastSync)
	if err != nil {
		return SyncupResult{}, err
	}

	passed, crossedGap, err := ix.countPassedCommits(res.Matchpoint, rng.Last)
	if err != nil {
		return SyncupResult{}, err
	}

	outcome, err := matchpoint.Classify(matchpoint.ClassifyInput{
		LastTxnEnd:             rng.LastTxnEnd,
		LastSync:               rng.LastSync,
		Matchpoint:             res.Matchpoint,
		CrossedCleanedFilesGap: crossedGap,
		PassedCommits:          passed,
		RollbackTxnLimit:       ix.cfg.RollbackTxnLimit,
		RollbackDisabled:       ix.cfg.RollbackDisabled,
	})
	if err != nil {
		return SyncupResult{}, err
	}

	switch outcome {
	case matchpoint.OutcomeRollbackEverything:
		if err := ix.TruncateFromTail(vlsn.FirstVLSN, vlsn.NullLSN); err != nil {
			return SyncupResult{}, err
		}
	case matchpoint.OutcomeRollbackTo, matchpoint.OutcomeHardRecovery:
		if err := ix.TruncateFromTail(res.Matchpoint.Next(), res.LocalLSN); err != nil {
			return SyncupResult{}, err
		}
	case matchpoint.OutcomeNormalRollback:
		// No durable commit lies past the matchpoint; nothing to undo.
	}

	return SyncupResult{Outcome: outcome, Matchpoint: res.Matchpoint}, nil
}

// countPassedCommits scans backward from last to (and excluding)
// matchpoint, counting transaction-end entries, for the
// RollbackProhibited check (§4.9 scenario 5). It reports crossedGap if
// the scan cannot reach matchpoint because an intervening file was
// already deleted.
func (ix *Index) countPassedCommits(matchpointVLSN, last vlsn.VLSN) (int, bool, error) {
	if matchpointVLSN.IsNull() || last.IsNull() || matchpointVLSN >= last {
		return 0, false, nil
	}
	from, err := ix.GetLTELsn(last)
	if err != nil {
		return 0, false, err
	}
	if from.IsNull() {
		return 0, false, nil
	}

	count := 0
	reachedMatchpoint := false
	err = ix.log.ScanBackward(from, func(rec logstore.Record) (bool, error) {
		if rec.VLSN <= matchpointVLSN {
			reachedMatchpoint = true
			return true, nil
		}
		if rec.Type.IsTxnEnd() {
			count++
		}
		return false, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("index: count passed commits: %w", err)
	}
	return count, !reachedMatchpoint, nil
}
