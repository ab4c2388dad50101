// Package metrics exposes the Prometheus collectors the engine and
// backends update, and the HTTP endpoint config.enable_metrics serves
// them on, following the package-level collectors-registered-in-init
// style.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the default port for the metrics endpoint.
const DefaultPort = 9218

var (
	// StartTimestamp is set once at process start, labeled with the
	// DDNSSD_GIT_REVISION environment variable.
	StartTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ddnssd_start_timestamp",
			Help: "Unix timestamp at which this daemon instance started, labeled by git revision",
		},
		[]string{"revision"},
	)

	// EventsTotal counts dispatched event-loop messages by tag.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddnssd_events_total",
			Help: "Total number of event loop messages dispatched, by tag",
		},
		[]string{"tag"},
	)

	// ReconcileErrorsTotal counts reconciliation passes that returned
	// an error: a failed fetch of the backend's records or a FATAL
	// backend error.
	ReconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddnssd_reconcile_errors_total",
			Help: "Total number of reconciliation passes that returned an error, by backend",
		},
		[]string{"backend"},
	)

	// TrackedContainers reports the current size of the container map.
	TrackedContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddnssd_tracked_containers",
			Help: "Number of containers currently tracked by the event loop",
		},
	)

	// BackendOperationsTotal counts publish/suppress calls per backend,
	// tagged with their outcome.
	BackendOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddnssd_backend_operations_total",
			Help: "Total number of backend publish/suppress calls, by backend, operation, and result",
		},
		[]string{"backend", "op", "result"},
	)
)

func init() {
	prometheus.MustRegister(StartTimestamp)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(ReconcileErrorsTotal)
	prometheus.MustRegister(TrackedContainers)
	prometheus.MustRegister(BackendOperationsTotal)
}

// RecordStart sets the start-timestamp gauge for revision to the
// given unix timestamp (passed in rather than read from time.Now so
// callers control it explicitly; see internal/app).
func RecordStart(revision string, unixSeconds int64) {
	if revision == "" {
		revision = "unknown"
	}
	StartTimestamp.WithLabelValues(revision).Set(float64(unixSeconds))
}

// Result maps an error into the "result" label used by
// BackendOperationsTotal: "ok" for nil, "error" otherwise.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the Prometheus scrape handler served on DefaultPort.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve builds the metrics HTTP server for addr, serving Handler on
// /metrics. It does not start it: the caller runs ListenAndServe
// (typically in a goroutine) and closes the returned server.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
