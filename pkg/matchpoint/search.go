package matchpoint

import (
	"context"
	"fmt"

	"github.com/bobboyms/replindex/pkg/rlerrors"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

// Result is a found matchpoint: the greatest VLSN where the local log
// and the peer's byte-match, plus LocalLSN, the LSN at which the matched
// entry itself starts in the local log (the start of the entry, not the
// offset past it).
type Result struct {
	Matchpoint vlsn.VLSN
	LocalLSN   vlsn.LSN
}

// Search implements §4.9's algorithm: starting from candidate =
// range.LastSync (or VLSN 1 if that is NULL), request the peer's record
// at the candidate, compare against the local record, and on mismatch
// walk backward to the previous syncable entry, repeating until a match
// is found or the range is exhausted.
func Search(ctx context.Context, peer Peer, local LocalLog, lastSync vlsn.VLSN) (Result, error) {
	candidate := lastSync
	if candidate.IsNull() {
		candidate = vlsn.FirstVLSN
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		reply, err := peer.RequestEntry(ctx, candidate)
		if err != nil {
			return Result{}, fmt.Errorf("matchpoint: request entry at %s: %w", candidate, err)
		}

		switch reply.Kind {
		case ReplyNotFound:
			// The peer is too far ahead of us to have this candidate at
			// all (it was truncated from the peer's own head) — we
			// cannot reconcile by scanning further back on our side.
			if candidate == lastSync || candidate == vlsn.FirstVLSN {
				return Result{}, &rlerrors.NetworkRestoreRequired{
					Reason: fmt.Sprintf("peer has no record at bootstrap candidate %s", candidate),
				}
			}
			return Result{}, &rlerrors.NetworkRestoreRequired{
				Reason: fmt.Sprintf("peer no longer has record at %s", candidate),
			}

		case ReplyFound, ReplyAlternate:
			localRec, found, err := local.RecordAt(candidate)
			if err != nil {
				return Result{}, err
			}
			if found && localRec.Matches(reply.Record) {
				return Result{Matchpoint: candidate, LocalLSN: localRec.LSN}, nil
			}

			outcome, err := local.PrevSyncable(candidate)
			if err != nil {
				return Result{}, err
			}
			if outcome.Record != nil {
				candidate = outcome.Record.VLSN
				continue
			}
			if outcome.Gap {
				candidate = outcome.RepositionVLSN
				continue
			}
			return Result{}, &rlerrors.NetworkRestoreRequired{
				Reason: "local log exhausted without finding a matchpoint",
			}

		default:
			return Result{}, fmt.Errorf("matchpoint: unexpected peer reply kind %d", reply.Kind)
		}
	}
}
