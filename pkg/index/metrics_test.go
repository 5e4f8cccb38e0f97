package index

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bobboyms/replindex/pkg/metrics"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

func TestPutReportsRangeMetrics(t *testing.T) {
	ix, err := Open(t.TempDir(), testConfig(), true)
	require.NoError(t, err)
	defer ix.Close()

	m := metrics.Noop()
	ix.SetMetrics(m)

	_, err = ix.Put(vlsn.EntryOther, []byte("a"))
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.RangeLast))
}
