package backing

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/bobboyms/replindex/pkg/bucket"
	"github.com/bobboyms/replindex/pkg/tracker"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenWith("mem", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndReadRangeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.ReadRange()
	require.NoError(t, err)
	require.False(t, ok, "fresh environment has no persisted range")

	want := vlsn.Range{First: 1, Last: 10, LastSync: 5, LastTxnEnd: 8}
	require.NoError(t, s.WriteRange(want))

	got, ok, err := s.ReadRange()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestFlushPersistsBucketsGhostsAndRangeAtomically(t *testing.T) {
	s := openTestStore(t)

	b := bucket.New(1, vlsn.MakeLSN(1, 0), 1, 512, 1<<20)
	b.Put(2, vlsn.MakeLSN(1, 10))
	b.Close()
	g := &bucket.GhostBucket{First: 50, CoveringLsn: vlsn.MakeLSN(2, 0), BoundingLsn: vlsn.MakeLSN(3, 0)}

	snap := tracker.FlushSnapshot{
		Buckets: []*bucket.Bucket{b},
		Ghosts:  []*bucket.GhostBucket{g},
		Range:   vlsn.Range{First: 1, Last: 2},
	}
	require.NoError(t, s.Flush(snap))

	got, ok, err := s.ReadRange()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vlsn.VLSN(2), got.Last)

	d, found, err := s.GetLTE(2)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, d.Bucket)
	require.Equal(t, vlsn.MakeLSN(1, 10), d.Bucket.GetLsn(2))

	d2, found, err := s.GetGTE(10)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, d2.Ghost)
	require.Equal(t, vlsn.VLSN(50), d2.Ghost.First)
}

func TestPruneFromHeadRemovesOldBuckets(t *testing.T) {
	s := openTestStore(t)
	for _, first := range []vlsn.VLSN{1, 10, 20} {
		b := bucket.New(first, vlsn.MakeLSN(1, 0), 1, 512, 1<<20)
		b.Close()
		require.NoError(t, s.PutBucket(b))
	}

	require.NoError(t, s.PruneFromHead(15))

	_, found, err := s.GetLTE(15)
	require.NoError(t, err)
	require.False(t, found, "buckets at first=1 and first=10 must be gone")

	d, found, err := s.GetGTE(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, vlsn.VLSN(20), d.Bucket.First)
}

func TestPruneFromTailRemovesNewBuckets(t *testing.T) {
	s := openTestStore(t)
	for _, first := range []vlsn.VLSN{1, 10, 20} {
		b := bucket.New(first, vlsn.MakeLSN(1, 0), 1, 512, 1<<20)
		b.Close()
		require.NoError(t, s.PutBucket(b))
	}

	require.NoError(t, s.PruneFromTail(10))

	d, found, err := s.GetLTE(100)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, vlsn.VLSN(1), d.Bucket.First)
}
