package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobboyms/replindex/pkg/config"
	"github.com/bobboyms/replindex/pkg/rlerrors"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Stride = 1
	return cfg
}

func TestPutTrackAndGetLsnRoundTrip(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	v1, err := ix.Put(vlsn.EntryOther, []byte("a"))
	require.NoError(t, err)
	v2, err := ix.Put(vlsn.EntryTxnCommit, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)

	l1, ok := ix.GetLsn(v1)
	require.True(t, ok)
	require.Equal(t, uint32(1), l1.File())

	rng := ix.Range()
	require.Equal(t, v2, rng.Last)
	require.Equal(t, v2, rng.LastTxnEnd)
}

func TestReplicaCannotPut(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), false)
	require.NoError(t, err)
	defer ix.Close()

	_, err = ix.Put(vlsn.EntryOther, []byte("x"))
	require.Error(t, err)
}

func TestWaitForVLSNReturnsImmediatelyWhenAlreadyArrived(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	v, err := ix.Put(vlsn.EntryOther, []byte("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ix.WaitForVLSN(ctx, v))
}

func TestWaitForVLSNTimesOutBeforeArrival(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = ix.WaitForVLSN(ctx, 5)
	require.Error(t, err)
}

func TestFlushThenGetLsnFallsThroughToBackingStore(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	v, err := ix.Put(vlsn.EntryOther, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, ix.Flush())

	// Once flushed, the in-memory cache no longer holds v; GetLsn and
	// GetLTELsn both fall back to the backing store.
	l, err := ix.GetLTELsn(v)
	require.NoError(t, err)
	require.False(t, l.IsNull())
	got, ok := ix.GetLsn(v)
	require.True(t, ok)
	require.Equal(t, l, got)
}

func TestRecoveryReplaysUnflushedTailAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ix1, err := Open(dir, testConfig(), true)
	require.NoError(t, err)
	v1, err := ix1.Put(vlsn.EntryOther, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, ix1.Flush())
	v2, err := ix1.Put(vlsn.EntryOther, []byte("b")) // never flushed
	require.NoError(t, err)
	require.NoError(t, ix1.Close())

	ix2, err := Open(dir, testConfig(), true)
	require.NoError(t, err)
	defer ix2.Close()

	rng := ix2.Range()
	require.Equal(t, v2, rng.Last)

	l2, ok := ix2.GetLsn(v2)
	require.True(t, ok)
	require.Equal(t, uint32(1), l2.File())

	next, err := ix2.Put(vlsn.EntryOther, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, v1+2, next)
}

func TestWaitForVLSNRejectsSecondOutstandingWaitForDifferentTarget(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ix.WaitForVLSN(ctx, 10) }()
	time.Sleep(5 * time.Millisecond) // let the first wait install its latch

	_, err = ix.Put(vlsn.EntryOther, []byte("a")) // vlsn 1, short of either target
	require.NoError(t, err)

	err = ix.WaitForVLSN(context.Background(), 20)
	require.Error(t, err)
	require.IsType(t, &rlerrors.InvariantViolation{}, err)

	<-done
}

func TestAwaitConsistencyBlocksUntilAllocatedVlsnsAreTracked(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	v, err := ix.Put(vlsn.EntryOther, []byte("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ix.AwaitConsistency(ctx))
	require.Equal(t, v, ix.Range().Last)
}

func TestAwaitConsistencyFailsOnReplica(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), false)
	require.NoError(t, err)
	defer ix.Close()

	err = ix.AwaitConsistency(context.Background())
	require.Error(t, err)
	require.IsType(t, &rlerrors.NotMaster{}, err)
}

func TestTruncateFromHeadFacadeRejectsPastMinIndexSizeFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinIndexSize = 1000
	ix, err := Open(t.TempDir(), cfg, true)
	require.NoError(t, err)
	defer ix.Close()

	var last vlsn.VLSN
	for i := 0; i < 5; i++ {
		last, err = ix.Put(vlsn.EntryOther, []byte("a"))
		require.NoError(t, err)
	}
	require.NoError(t, ix.Flush())

	err = ix.TruncateFromHead(last-1, 1)
	require.Error(t, err)
	require.IsType(t, &rlerrors.InvariantViolation{}, err)
}

func TestAssignVlsnForLogStampsDurableTxnVlsnOnCommit(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.SetDurableTxnVLSN(7))
	v, err := ix.Put(vlsn.EntryTxnCommit, []byte("commit"))
	require.NoError(t, err)

	rec, err := ix.log.ReadAt(must(ix.GetLsn(v)))
	require.NoError(t, err)
	require.Equal(t, vlsn.VLSN(7), rec.DurableTxnVLSN)
}

func TestSetDurableTxnVLSNRejectsRegression(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.SetDurableTxnVLSN(10))
	err = ix.SetDurableTxnVLSN(5)
	require.Error(t, err)
	require.IsType(t, &rlerrors.InvariantViolation{}, err)
}

func TestSetTermRejectsRegression(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.SetTerm(3))
	err = ix.SetTerm(2)
	require.Error(t, err)
	require.IsType(t, &rlerrors.InvariantViolation{}, err)
}

func must(l vlsn.LSN, ok bool) vlsn.LSN {
	if !ok {
		panic("vlsn not found")
	}
	return l
}
