// Package metrics wraps github.com/prometheus/client_golang with the
// gauges/counters spec.md's AMBIENT STACK carries even though the core
// specification's Non-goals exclude application-visible observability —
// this is index-internal instrumentation (range bounds, bucket counts,
// truncation events, waitForVLSN latency), not a query API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of instruments pkg/index and pkg/feeder report
// through. Construct one per environment and register it with whatever
// prometheus.Registerer the embedding process uses.
type Metrics struct {
	RangeFirst prometheus.Gauge
	RangeLast  prometheus.Gauge

	BucketCount prometheus.Gauge

	TruncationsTotal *prometheus.CounterVec // labeled "head" / "tail"

	WaitForVLSNLatency prometheus.Histogram
	WaitForVLSNTimeouts prometheus.Counter

	FeederConnections prometheus.Gauge
	FeederLeasesActive prometheus.Gauge
	FeederBytesStreamed prometheus.Counter
}

// New builds a Metrics instance and registers every instrument with reg.
// Passing prometheus.NewRegistry() (rather than the global default
// registry) keeps multiple environments in one process from colliding
// on metric names.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RangeFirst: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replindex", Name: "range_first", Help: "Lowest VLSN currently covered by the index.",
		}),
		RangeLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replindex", Name: "range_last", Help: "Highest VLSN currently covered by the index.",
		}),
		BucketCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replindex", Name: "tracker_bucket_count", Help: "Number of buckets currently cached in the tracker.",
		}),
		TruncationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replindex", Name: "truncations_total", Help: "Truncations performed, labeled by end (head/tail).",
		}, []string{"end"}),
		WaitForVLSNLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "replindex", Name: "wait_for_vlsn_latency_seconds",
			Help:    "Time callers spent blocked in WaitForVLSN.",
			Buckets: prometheus.DefBuckets,
		}),
		WaitForVLSNTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replindex", Name: "wait_for_vlsn_timeouts_total", Help: "WaitForVLSN calls that exceeded their deadline.",
		}),
		FeederConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replindex", Name: "feeder_connections", Help: "Currently connected feeder clients.",
		}),
		FeederLeasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replindex", Name: "feeder_leases_active", Help: "Leases held open for disconnected feeder clients.",
		}),
		FeederBytesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replindex", Name: "feeder_bytes_streamed_total", Help: "Bytes streamed to feeder clients.",
		}),
	}
	reg.MustRegister(
		m.RangeFirst, m.RangeLast, m.BucketCount, m.TruncationsTotal,
		m.WaitForVLSNLatency, m.WaitForVLSNTimeouts,
		m.FeederConnections, m.FeederLeasesActive, m.FeederBytesStreamed,
	)
	return m
}

// Noop returns a Metrics instance registered to a fresh, private
// registry, for callers (tests, one-off tools) that don't want to wire
// up real observability.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
