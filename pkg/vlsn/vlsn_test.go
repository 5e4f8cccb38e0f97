package vlsn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVLSNNextPrev(t *testing.T) {
	v := VLSN(5)
	require.Equal(t, VLSN(6), v.Next())
	require.Equal(t, VLSN(4), v.Prev())
}

func TestVLSNSentinelArithmeticPanics(t *testing.T) {
	require.Panics(t, func() { NULL.Next() })
	require.Panics(t, func() { Invalid.Next() })
	require.Panics(t, func() { FirstVLSN.Prev() })
}

func TestMinMaxTreatNullAsUnset(t *testing.T) {
	require.Equal(t, VLSN(5), Min(NULL, VLSN(5)))
	require.Equal(t, VLSN(5), Max(NULL, VLSN(5)))
	require.Equal(t, VLSN(3), Min(VLSN(3), VLSN(7)))
	require.Equal(t, VLSN(7), Max(VLSN(3), VLSN(7)))
}

func TestLSNPacking(t *testing.T) {
	l := MakeLSN(7, 4096)
	require.Equal(t, uint32(7), l.File())
	require.Equal(t, uint32(4096), l.Offset())
	require.False(t, l.IsNull())
	require.True(t, NullLSN.IsNull())
}

func TestLSNOrderingIsLexicographicByFileThenOffset(t *testing.T) {
	a := MakeLSN(1, 1000)
	b := MakeLSN(2, 0)
	require.True(t, a.Less(b))
}
