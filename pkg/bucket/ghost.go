package bucket

import "github.com/bobboyms/replindex/pkg/vlsn"

// GhostBucket is a placeholder anchoring a range start for which no
// concrete VLSN->LSN mapping exists because truncation left a gap
// (§3, §4.3 truncateFromHead). It supports LTE/GTE-style boundary
// queries but never an exact lookup.
type GhostBucket struct {
	First       vlsn.VLSN
	CoveringLsn vlsn.LSN // the LSN just below the gap
	BoundingLsn vlsn.LSN // the LSN of the first concrete mapping past the gap
}

// Owns always reports false: a GhostBucket carries no concrete mapping,
// so exact VLSN->LSN lookups must fall through to NULL (§3).
func (g *GhostBucket) Owns(vlsn.VLSN) bool { return false }

// Follows reports whether v is below the gap this ghost anchors.
func (g *GhostBucket) Follows(v vlsn.VLSN) bool { return v < g.First }
