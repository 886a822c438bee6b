// Package metrics exposes Prometheus collectors for the event client and
// the catalog. Collectors live on a private registry so tests and the
// HTTP handler see the same set without touching the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "espressomap"

var (
	registry = prometheus.NewRegistry()

	clientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Event API calls by operation and outcome",
	}, []string{"operation", "outcome"})

	clientDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Time spent waiting on the event API",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"})

	catalogEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "events",
		Help:      "Events in the current snapshot, labelled by where they came from",
	}, []string{"source"})

	catalogRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "refreshes_total",
		Help:      "Catalog reloads by resulting source",
	}, []string{"source"})

	catalogLastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix time of the last catalog reload",
	})
)

func init() {
	registry.MustRegister(
		clientRequests,
		clientDuration,
		catalogEvents,
		catalogRefreshes,
		catalogLastRefresh,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveOutcome counts one event API call.
func ObserveOutcome(operation, outcome string) {
	clientRequests.WithLabelValues(operation, outcome).Inc()
}

// ObserveDuration records how long an event API call took.
func ObserveDuration(operation string, d time.Duration) {
	clientDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetCatalog records a completed reload. Only the current source keeps a
// non-zero gauge.
func SetCatalog(source string, count int, at time.Time) {
	catalogEvents.Reset()
	catalogEvents.WithLabelValues(source).Set(float64(count))
	catalogRefreshes.WithLabelValues(source).Inc()
	catalogLastRefresh.Set(float64(at.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
