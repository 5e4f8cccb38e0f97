package matchpoint

import "github.com/bobboyms/replindex/pkg/vlsn"

// LocalRecord is the local counterpart of a peer's WireRecord: an entry
// this node actually has on disk, found via a backward file scan.
type LocalRecord struct {
	VLSN    vlsn.VLSN
	Type    vlsn.EntryType
	Payload []byte
	LSN     vlsn.LSN
}

// Matches reports whether l byte-matches a peer's reported record at
// the same VLSN (§4.9 step 4).
func (l LocalRecord) Matches(r WireRecord) bool {
	return l.VLSN == r.VLSN && l.Type == r.Type && bytesEqual(l.Payload, r.Payload)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ScanOutcome is the tagged result of one backward scan step (§9: a
// thrown "gap" exception in the source becomes a tagged return value
// instead). Exactly one of Record or Gap is meaningful:
//   - Record != nil: the previous syncable entry was found.
//   - Gap: the scan crossed a cleaned-files boundary; RepositionVLSN is
//     where the caller should resume scanning from (the GhostBucket's
//     anchor), per §4.9 step 3.
//   - neither: the scan fell off the front of the contiguous range with
//     no gap to reposition past (Search must fail NetworkRestoreRequired).
type ScanOutcome struct {
	Record         *LocalRecord
	Gap            bool
	RepositionVLSN vlsn.VLSN
}

// LocalLog is everything Search needs from the local, in-process log:
// exact lookup by VLSN and a backward scan to the previous syncable
// entry. pkg/index supplies the concrete implementation backed by
// pkg/logstore's PrevOffset chain; it reports a gap when the scan
// reaches a Range.First above VLSN 1, i.e. entries already removed by
// truncate-from-head.
type LocalLog interface {
	// RecordAt returns the local record at exactly v, if this node has one.
	RecordAt(v vlsn.VLSN) (LocalRecord, bool, error)

	// PrevSyncable scans backward from (and excluding) v to the nearest
	// preceding entry whose type IsSyncable, or reports a gap/fell-off.
	PrevSyncable(v vlsn.VLSN) (ScanOutcome, error)
}
