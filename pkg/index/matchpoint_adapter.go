package index

import (
	"github.com/bobboyms/replindex/pkg/logstore"
	"github.com/bobboyms/replindex/pkg/matchpoint"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

// localLogAdapter lets pkg/matchpoint's Search walk this environment's
// log without depending on pkg/index or pkg/logstore directly (§9:
// syncup needs a backward scan, not a reference back to the
// environment that owns it).
type localLogAdapter struct {
	ix *Index
}

func (ix *Index) asLocalLog() matchpoint.LocalLog { return localLogAdapter{ix: ix} }

func (a localLogAdapter) RecordAt(v vlsn.VLSN) (matchpoint.LocalRecord, bool, error) {
	l, ok := a.ix.GetLsn(v)
	if !ok {
		return matchpoint.LocalRecord{}, false, nil
	}
	rec, err := a.ix.log.ReadAt(l)
	if err != nil {
		return matchpoint.LocalRecord{}, false, err
	}
	return matchpoint.LocalRecord{VLSN: rec.VLSN, Type: rec.Type, Payload: rec.Payload, LSN: rec.LSN}, true, nil
}

// PrevSyncable walks backward from v's own entry (exclusive) to the
// nearest syncable entry. If the scan exhausts the log without finding
// one, and the range's First has been advanced past the bootstrap VLSN
// by an earlier truncate-from-head, that advance is reported as the gap
// §4.9 step 3 expects the caller to reposition past.
func (a localLogAdapter) PrevSyncable(v vlsn.VLSN) (matchpoint.ScanOutcome, error) {
	from, ok := a.ix.GetLsn(v)
	if !ok {
		var err error
		from, err = a.ix.GetLTELsn(v)
		if err != nil {
			return matchpoint.ScanOutcome{}, err
		}
		if from.IsNull() {
			return matchpoint.ScanOutcome{}, nil
		}
	}

	var found *matchpoint.LocalRecord
	skippedSelf := false
	err := a.ix.log.ScanBackward(from, func(rec logstore.Record) (bool, error) {
		if !skippedSelf {
			skippedSelf = true
			if rec.VLSN == v {
				return false, nil
			}
		}
		if rec.Type.IsSyncable() {
			lr := matchpoint.LocalRecord{VLSN: rec.VLSN, Type: rec.Type, Payload: rec.Payload, LSN: rec.LSN}
			found = &lr
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return matchpoint.ScanOutcome{}, err
	}
	if found != nil {
		return matchpoint.ScanOutcome{Record: found}, nil
	}

	if rng := a.ix.Range(); !rng.IsEmpty() && rng.First > vlsn.FirstVLSN {
		return matchpoint.ScanOutcome{Gap: true, RepositionVLSN: rng.First}, nil
	}
	return matchpoint.ScanOutcome{}, nil
}
