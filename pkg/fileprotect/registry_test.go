package fileprotect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoHoldersMeansUnboundedDeletion(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.MayDelete(0))
	require.True(t, r.MayDelete(1000))
	_, ok := r.MinProtectedFile()
	require.False(t, ok)
}

func TestMinIsAdditiveAcrossHolders(t *testing.T) {
	r := NewRegistry()
	h1 := r.Protect(5)
	h2 := r.Protect(2)

	min, ok := r.MinProtectedFile()
	require.True(t, ok)
	require.Equal(t, uint32(2), min)
	require.False(t, r.MayDelete(2))
	require.True(t, r.MayDelete(1))

	h2.Release()
	min, ok = r.MinProtectedFile()
	require.True(t, ok)
	require.Equal(t, uint32(5), min)

	h1.Release()
	_, ok = r.MinProtectedFile()
	require.False(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	h := r.Protect(3)
	h.Release()
	require.NotPanics(t, func() { h.Release() })
}
