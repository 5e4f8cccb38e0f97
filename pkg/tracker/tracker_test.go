package tracker

import (
	"testing"

	"github.com/bobboyms/replindex/pkg/bucket"
	"github.com/bobboyms/replindex/pkg/config"
	"github.com/bobboyms/replindex/pkg/vlsn"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return New(config.Default(), vlsn.EmptyRange)
}

func TestTrackSequentialPutsOpenAndExtendCurrentBucket(t *testing.T) {
	tr := New(config.Config{Stride: 1, MaxMappings: 512, MaxDistance: 1 << 20}, vlsn.EmptyRange)
	require.NoError(t, tr.Track(1, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	require.NoError(t, tr.Track(2, vlsn.MakeLSN(1, 10), vlsn.EntryOther))
	require.NoError(t, tr.Track(3, vlsn.MakeLSN(1, 20), vlsn.EntryTxnCommit))

	require.Equal(t, vlsn.VLSN(1), tr.FirstTrackedVLSN())
	rng := tr.Range()
	require.Equal(t, vlsn.VLSN(1), rng.First)
	require.Equal(t, vlsn.VLSN(3), rng.Last)
	require.Equal(t, vlsn.VLSN(3), rng.LastSync)
	require.Equal(t, vlsn.VLSN(3), rng.LastTxnEnd)

	lookup := tr.GetGTEBucket(2)
	require.True(t, lookup.Found())
	require.NotNil(t, lookup.Bucket)
	require.Equal(t, vlsn.MakeLSN(1, 10), lookup.Bucket.GetLsn(2))
}

func TestTrackLaggardPutOnlyAdvancesRange(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Track(5, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	snap := tr.PrepareFlush()
	require.Len(t, snap.Buckets, 1)
	tr.CommitFlush(5)

	require.NoError(t, tr.Track(3, vlsn.MakeLSN(1, 5), vlsn.EntryOther))
	require.True(t, tr.FirstTrackedVLSN().IsNull(), "laggard put must not reopen the cache")
}

func TestTrackOpensNewBucketOnClosure(t *testing.T) {
	tr := New(config.Config{Stride: 1, MaxMappings: 1, MaxDistance: 1 << 20}, vlsn.EmptyRange)
	require.NoError(t, tr.Track(1, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	require.NoError(t, tr.Track(2, vlsn.MakeLSN(1, 10), vlsn.EntryOther))

	lookup1 := tr.GetLTEBucket(1)
	lookup2 := tr.GetLTEBucket(2)
	require.True(t, lookup1.Found())
	require.True(t, lookup2.Found())
	require.NotSame(t, lookup1.Bucket, lookup2.Bucket, "maxMappings=1 must close after the first put")
	require.True(t, lookup1.Bucket.Closed())
	require.False(t, lookup2.Bucket.Closed())
}

func TestGetGTEBucketFallsThroughToBackingStoreBelowLastOnDisk(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Track(1, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	snap := tr.PrepareFlush()
	require.Len(t, snap.Buckets, 1)
	tr.CommitFlush(1)

	lookup := tr.GetGTEBucket(1)
	require.False(t, lookup.Found(), "everything at/below lastOnDiskVLSN is the backing store's problem")
}

func TestFlushAndTruncateFromHead(t *testing.T) {
	cfg := config.Default()
	cfg.MinIndexSize = 1
	tr := New(cfg, vlsn.EmptyRange)
	for v := vlsn.VLSN(1); v <= 5; v++ {
		require.NoError(t, tr.Track(v, vlsn.MakeLSN(1, uint32(v)*10), vlsn.EntryOther))
	}
	snap := tr.PrepareFlush()
	require.Len(t, snap.Buckets, 1)
	require.Equal(t, vlsn.VLSN(5), snap.Range.Last)
	tr.CommitFlush(5)

	require.True(t, tr.TruncateFromHead(3))
	rng := tr.Range()
	require.Equal(t, vlsn.VLSN(4), rng.First)
	require.Equal(t, vlsn.VLSN(5), rng.Last)
}

func TestTruncateFromHeadRejectsPastMinIndexSizeFloor(t *testing.T) {
	cfg := config.Default()
	cfg.MinIndexSize = 1
	tr := New(cfg, vlsn.EmptyRange)
	for v := vlsn.VLSN(1); v <= 5; v++ {
		require.NoError(t, tr.Track(v, vlsn.MakeLSN(1, uint32(v)*10), vlsn.EntryOther))
	}
	snap := tr.PrepareFlush()
	require.Len(t, snap.Buckets, 1)
	tr.CommitFlush(5)

	require.False(t, tr.TruncateFromHead(4), "deleteEnd=4 is not below last-MinIndexSize=4 and LastSync is NULL")
	rng := tr.Range()
	require.Equal(t, vlsn.VLSN(1), rng.First, "rejected truncation must leave the range untouched")
}

func TestTruncateFromHeadReportsGhostNeededOnGap(t *testing.T) {
	cfg := config.Default()
	cfg.MinIndexSize = 2
	tr := New(cfg, vlsn.EmptyRange)
	require.NoError(t, tr.Track(10, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	for v := vlsn.VLSN(11); v <= 20; v++ {
		require.NoError(t, tr.Track(v, vlsn.MakeLSN(1, uint32(v)*10), vlsn.EntryOther))
	}
	// Flush everything to disk first so the in-memory cache is empty —
	// the realistic precondition for a gap: the buckets spanning the
	// deleted files aren't in memory at all anymore.
	snap := tr.PrepareFlush()
	require.Len(t, snap.Buckets, 1)
	tr.CommitFlush(20)

	require.True(t, tr.TruncateFromHead(15))
	require.True(t, tr.NeedsHeadGhost(15))

	g := &bucket.GhostBucket{First: 16, CoveringLsn: vlsn.MakeLSN(1, 1), BoundingLsn: vlsn.MakeLSN(2, 0)}
	tr.InsertHeadGhost(g)
	require.False(t, tr.NeedsHeadGhost(15))

	lookup := tr.GetLTEBucket(16)
	require.True(t, lookup.Found())
	require.NotNil(t, lookup.Ghost)
}

func TestTruncateFromTailWithCappingLsnReseedsCurrentBucket(t *testing.T) {
	tr := newTestTracker()
	for v := vlsn.VLSN(1); v <= 10; v++ {
		require.NoError(t, tr.Track(v, vlsn.MakeLSN(1, uint32(v)*10), vlsn.EntryOther))
	}

	tr.TruncateFromTail(6, vlsn.MakeLSN(1, 999))

	rng := tr.Range()
	require.Equal(t, vlsn.VLSN(5), rng.Last)

	lookup := tr.GetLTEBucket(5)
	require.True(t, lookup.Found())
	require.Equal(t, vlsn.MakeLSN(1, 999), lookup.Bucket.GetLsn(5))
}

func TestTruncateFromTailPastLastOnDiskLowersIt(t *testing.T) {
	tr := newTestTracker()
	for v := vlsn.VLSN(1); v <= 10; v++ {
		require.NoError(t, tr.Track(v, vlsn.MakeLSN(1, uint32(v)*10), vlsn.EntryOther))
	}
	snap := tr.PrepareFlush()
	require.Len(t, snap.Buckets, 1)
	tr.CommitFlush(10)

	tr.TruncateFromTail(6, vlsn.MakeLSN(1, 999))
	require.Equal(t, vlsn.VLSN(5), tr.LastOnDiskVLSN())
}

func TestAppendRejectsOverlappingCoverage(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Track(1, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	require.NoError(t, tr.Track(5, vlsn.MakeLSN(1, 50), vlsn.EntryOther))

	recovered := newTestTracker()
	require.NoError(t, recovered.Track(5, vlsn.MakeLSN(1, 50), vlsn.EntryOther))

	err := tr.Append(recovered)
	require.Error(t, err)
}

func TestAppendConcatenatesDisjointCoverage(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Track(1, vlsn.MakeLSN(1, 0), vlsn.EntryOther))

	recovered := newTestTracker()
	require.NoError(t, recovered.Track(10, vlsn.MakeLSN(2, 0), vlsn.EntryOther))
	require.NoError(t, recovered.Track(11, vlsn.MakeLSN(2, 10), vlsn.EntryTxnCommit))

	require.NoError(t, tr.Append(recovered))
	rng := tr.Range()
	require.Equal(t, vlsn.VLSN(1), rng.First)
	require.Equal(t, vlsn.VLSN(11), rng.Last)
	require.Equal(t, vlsn.VLSN(11), rng.LastTxnEnd)
}

func TestMergeReplacesOverlappingEntriesAndAdvancesLastOnDisk(t *testing.T) {
	tr := newTestTracker()
	for v := vlsn.VLSN(1); v <= 5; v++ {
		require.NoError(t, tr.Track(v, vlsn.MakeLSN(1, uint32(v)*10), vlsn.EntryOther))
	}

	recovered := newTestTracker()
	require.NoError(t, recovered.Track(3, vlsn.MakeLSN(1, 999), vlsn.EntryOther))
	require.NoError(t, recovered.Track(4, vlsn.MakeLSN(1, 1000), vlsn.EntryTxnCommit))

	require.NoError(t, tr.Merge(recovered, 2))
	require.Equal(t, vlsn.VLSN(2), tr.LastOnDiskVLSN())

	lookup := tr.GetGTEBucket(3)
	require.True(t, lookup.Found())
	require.Equal(t, vlsn.MakeLSN(1, 999), lookup.Bucket.GetLsn(3))
}

func TestAwaitLatchSignaledOnTrack(t *testing.T) {
	tr := newTestTracker()
	l := NewAwaitLatch(5)
	tr.SetLatch(l)

	require.NoError(t, tr.Track(3, vlsn.MakeLSN(1, 0), vlsn.EntryOther))
	select {
	case <-l.Done():
		t.Fatal("latch must not release before its target arrives")
	default:
	}

	require.NoError(t, tr.Track(5, vlsn.MakeLSN(1, 10), vlsn.EntryOther))
	select {
	case <-l.Done():
	default:
		t.Fatal("latch must release once its target VLSN arrives")
	}
	require.False(t, l.Poisoned())
}
