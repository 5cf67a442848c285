// Package metrics holds the Prometheus collectors shared by the store,
// the HTTP shell and the feed syncer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calen"

var (
	// Registry is a private registry so tests and multiple servers in one
	// process do not collide with the global default.
	Registry = prometheus.NewRegistry()

	storeOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Event store operations by operation and result.",
	}, []string{"op", "result"})

	storeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Event store operation latency.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"op"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "sync_runs_total",
		Help:      "Feed sync runs by source and result.",
	}, []string{"source", "result"})

	syncImported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "imported_events_total",
		Help:      "Feed occurrences imported as new events.",
	}, []string{"source"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		storeOps,
		storeLatency,
		httpRequests,
		syncRuns,
		syncImported,
	)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveStoreOp records one store call.
func ObserveStoreOp(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
	storeLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveHTTP records one handled request.
func ObserveHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ObserveSync records one feed sync attempt and how many events it added.
func ObserveSync(source string, imported int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncRuns.WithLabelValues(source, result).Inc()
	if imported > 0 {
		syncImported.WithLabelValues(source).Add(float64(imported))
	}
}
