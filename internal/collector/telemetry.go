package collector

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry is the exporter's own instrumentation, kept on a private
// registry so it never mixes with the trace-derived families on /metrics.
type Telemetry struct {
	registry *prometheus.Registry

	CyclesTotal       prometheus.Counter
	CycleFailures     prometheus.Counter
	TracesFetched     prometheus.Counter
	BatchesDropped    prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	CycleDuration     prometheus.Histogram
}

func NewTelemetry() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xray_exporter",
			Name:      "collection_cycles_total",
			Help:      "Completed collection cycles.",
		}),
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xray_exporter",
			Name:      "collection_failures_total",
			Help:      "Collection cycles aborted by an error.",
		}),
		TracesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xray_exporter",
			Name:      "traces_fetched_total",
			Help:      "Traces hydrated from the backend.",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xray_exporter",
			Name:      "batches_dropped_total",
			Help:      "Detail batches dropped after retry exhaustion.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xray_exporter",
			Name:      "duplicate_traces_skipped_total",
			Help:      "Trace ids skipped because the dedup index already held them.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xray_exporter",
			Name:      "collection_cycle_duration_seconds",
			Help:      "Wall-clock duration of collection cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	t.registry.MustRegister(
		t.CyclesTotal,
		t.CycleFailures,
		t.TracesFetched,
		t.BatchesDropped,
		t.DuplicatesSkipped,
		t.CycleDuration,
	)

	return t
}

func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
