package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryInstrumentExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestNoopGaugesAndCountersAreUsable(t *testing.T) {
	m := Noop()
	m.RangeLast.Set(10)
	m.TruncationsTotal.WithLabelValues("head").Inc()

	require.Equal(t, float64(10), testutil.ToFloat64(m.RangeLast))
	require.Equal(t, float64(1), testutil.ToFloat64(m.TruncationsTotal.WithLabelValues("head")))
}
