// Package monitoring exposes Prometheus metrics for detection cycles and
// aggregates stored run logs into statistics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "envintel"

// Metrics holds the counters and histograms updated by each cycle.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec // labels: outcome={ok,failed}
	CycleDuration   prometheus.Histogram
	LastCycleUnix   prometheus.Gauge
	ReadingsFetched *prometheus.CounterVec // labels: source
	Anomalies       prometheus.Counter
	Clusters        prometheus.Counter
	Incidents       *prometheus.CounterVec // labels: outcome={created,duplicate}
	ClusterFailures prometheus.Counter
	StageFailures   *prometheus.CounterVec // labels: stage={enrich,index,graph,notify}
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Detection cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a complete detection cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		LastCycleUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
		ReadingsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_fetched_total",
			Help:      "Sensor readings fetched by source.",
		}, []string{"source"}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Readings above the detection threshold.",
		}),
		Clusters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clusters_total",
			Help:      "Spatial clusters of recent anomalies.",
		}),
		Incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents resolved by outcome.",
		}, []string{"outcome"}),
		ClusterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_failures_total",
			Help:      "Clusters that failed before an incident was stored.",
		}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Non-fatal failures by pipeline stage.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CyclesTotal, m.CycleDuration, m.LastCycleUnix,
		m.ReadingsFetched, m.Anomalies, m.Clusters,
		m.Incidents, m.ClusterFailures, m.StageFailures,
	}
}

// NewMetrics creates the cycle metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
