package logstore

import (
	"testing"

	"github.com/bobboyms/replindex/pkg/vlsn"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAtRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), "idx", DefaultMaxSegmentSize)
	require.NoError(t, err)
	defer s.Close()

	l1, err := s.Append(1, vlsn.EntryOther, vlsn.NULL, []byte("hello"))
	require.NoError(t, err)
	l2, err := s.Append(2, vlsn.EntryTxnCommit, 42, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, s.Sync())

	rec1, err := s.ReadAt(l1)
	require.NoError(t, err)
	require.Equal(t, vlsn.VLSN(1), rec1.VLSN)
	require.Equal(t, []byte("hello"), rec1.Payload)

	rec2, err := s.ReadAt(l2)
	require.NoError(t, err)
	require.Equal(t, vlsn.EntryTxnCommit, rec2.Type)
	require.Equal(t, []byte("world"), rec2.Payload)
	require.Equal(t, vlsn.VLSN(42), rec2.DurableTxnVLSN, "commit entry must round-trip its stamped durable-txn vlsn")
}

func TestScanForwardVisitsEveryRecordInOrder(t *testing.T) {
	s, err := Open(t.TempDir(), "idx", DefaultMaxSegmentSize)
	require.NoError(t, err)
	defer s.Close()

	var written []vlsn.LSN
	for v := vlsn.VLSN(1); v <= 5; v++ {
		l, err := s.Append(v, vlsn.EntryOther, vlsn.NULL, []byte{byte(v)})
		require.NoError(t, err)
		written = append(written, l)
	}
	require.NoError(t, s.Sync())

	var seen []vlsn.VLSN
	require.NoError(t, s.ScanForward(written[0], func(r Record) (bool, error) {
		seen = append(seen, r.VLSN)
		return false, nil
	}))
	require.Equal(t, []vlsn.VLSN{1, 2, 3, 4, 5}, seen)
}

func TestScanBackwardWalksPrevOffsetChain(t *testing.T) {
	s, err := Open(t.TempDir(), "idx", DefaultMaxSegmentSize)
	require.NoError(t, err)
	defer s.Close()

	var last vlsn.LSN
	for v := vlsn.VLSN(1); v <= 5; v++ {
		l, err := s.Append(v, vlsn.EntryOther, vlsn.NULL, nil)
		require.NoError(t, err)
		last = l
	}
	require.NoError(t, s.Sync())

	var seen []vlsn.VLSN
	require.NoError(t, s.ScanBackward(last, func(r Record) (bool, error) {
		seen = append(seen, r.VLSN)
		return false, nil
	}))
	require.Equal(t, []vlsn.VLSN{5, 4, 3, 2, 1}, seen)
}

func TestSegmentRotationOnMaxSize(t *testing.T) {
	s, err := Open(t.TempDir(), "idx", HeaderSize+4)
	require.NoError(t, err)
	defer s.Close()

	l1, err := s.Append(1, vlsn.EntryOther, vlsn.NULL, []byte("ab"))
	require.NoError(t, err)
	l2, err := s.Append(2, vlsn.EntryOther, vlsn.NULL, []byte("cd"))
	require.NoError(t, err)

	require.Equal(t, uint32(1), l1.File())
	require.Equal(t, uint32(2), l2.File(), "second append should roll to a new segment")
}

func TestReopenRecoversTailForFurtherAppends(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, "idx", DefaultMaxSegmentSize)
	require.NoError(t, err)
	l1, err := s1.Append(1, vlsn.EntryOther, vlsn.NULL, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir, "idx", DefaultMaxSegmentSize)
	require.NoError(t, err)
	defer s2.Close()

	l2, err := s2.Append(2, vlsn.EntryOther, vlsn.NULL, []byte("y"))
	require.NoError(t, err)

	rec1, err := s2.ReadAt(l1)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), rec1.Payload)

	var seen []vlsn.VLSN
	require.NoError(t, s2.ScanBackward(l2, func(r Record) (bool, error) {
		seen = append(seen, r.VLSN)
		return false, nil
	}))
	require.Equal(t, []vlsn.VLSN{2, 1}, seen)
}

func TestDeleteSegmentsBelowRemovesOldFiles(t *testing.T) {
	s, err := Open(t.TempDir(), "idx", HeaderSize+1)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(1, vlsn.EntryOther, vlsn.NULL, []byte("a"))
	require.NoError(t, err)
	_, err = s.Append(2, vlsn.EntryOther, vlsn.NULL, []byte("b"))
	require.NoError(t, err)
	_, err = s.Append(3, vlsn.EntryOther, vlsn.NULL, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), s.FirstFile())
	require.Equal(t, uint32(3), s.LastFile())

	require.NoError(t, s.DeleteSegmentsBelow(3))
	require.Equal(t, uint32(3), s.FirstFile())
	require.Equal(t, uint32(3), s.LastFile())
}
