package vlsn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceFirstPutOpensRange(t *testing.T) {
	r := EmptyRange
	r = r.Advance(1, EntryOther)
	require.Equal(t, VLSN(1), r.First)
	require.Equal(t, VLSN(1), r.Last)
	require.True(t, r.LastSync.IsNull())
	require.True(t, r.LastTxnEnd.IsNull())
}

func TestAdvanceNeverMovesFirstForward(t *testing.T) {
	r := Range{First: 5, Last: 5}
	r = r.Advance(10, EntryOther)
	require.Equal(t, VLSN(5), r.First, "Advance must never move First forward")
	require.Equal(t, VLSN(10), r.Last)
}

func TestAdvanceTracksSyncAndTxnEnd(t *testing.T) {
	r := EmptyRange
	r = r.Advance(1, EntryOther)
	r = r.Advance(2, EntrySyncable)
	require.Equal(t, VLSN(2), r.LastSync)
	require.True(t, r.LastTxnEnd.IsNull())

	r = r.Advance(3, EntryTxnCommit)
	require.Equal(t, VLSN(3), r.LastTxnEnd)
	require.Equal(t, VLSN(3), r.LastSync, "commit entries are syncable, so a commit moves LastSync too")
}

func TestShortenFromHead(t *testing.T) {
	r := Range{First: 1, Last: 10, LastSync: 3, LastTxnEnd: 8}
	r2 := r.ShortenFromHead(5)
	require.Equal(t, VLSN(6), r2.First)
	require.Equal(t, VLSN(10), r2.Last)
	require.True(t, r2.LastSync.IsNull(), "LastSync <= deleteEnd must clear")
	require.Equal(t, VLSN(8), r2.LastTxnEnd, "LastTxnEnd above deleteEnd survives")
}

func TestShortenFromHeadEmptiesRangeWhenFullyConsumed(t *testing.T) {
	r := Range{First: 1, Last: 5}
	r2 := r.ShortenFromHead(5)
	require.True(t, r2.IsEmpty())
}

func TestShortenFromEnd(t *testing.T) {
	r := Range{First: 1, Last: 20, LastSync: 15, LastTxnEnd: 18}
	r2 := r.ShortenFromEnd(18)
	require.Equal(t, VLSN(17), r2.Last)
	require.Equal(t, VLSN(15), r2.LastSync)
	require.True(t, r2.LastTxnEnd.IsNull(), "LastTxnEnd >= deleteStart must clear")
}

func TestShortenFromEndEmptiesRangeWhenFirstExceedsLast(t *testing.T) {
	r := Range{First: 10, Last: 20}
	r2 := r.ShortenFromEnd(10)
	require.True(t, r2.IsEmpty())
}

func TestAtomicRangeLockFreeReadAfterStore(t *testing.T) {
	ar := NewAtomicRange(EmptyRange)
	require.True(t, ar.Load().IsEmpty())

	ar.Store(Range{First: 1, Last: 5})
	got := ar.Load()
	require.Equal(t, VLSN(1), got.First)
	require.Equal(t, VLSN(5), got.Last)
}
