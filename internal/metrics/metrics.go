// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOps counts state store operations. outcome=ok|not_found|unchanged|error
	StoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorts_store_operations_total",
		Help: "State store operations by backend, operation and outcome",
	}, []string{"backend", "op", "outcome"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shorts_store_operation_seconds",
		Help:    "State store operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op"})

	storeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorts_store_conflict_retries_total",
		Help: "Optimistic transaction retries caused by concurrent writers",
	}, []string{"backend"})

	reactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorts_reactions_total",
		Help: "Reaction operations by outcome",
	}, []string{"outcome"})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorts_session_events_total",
		Help: "Session lifecycle events",
	}, []string{"event"}) // event=login|heartbeat|logout|idle_close

	cyclesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shorts_watch_cycles_completed_total",
		Help: "Watch cycles completed by progress resets",
	})

	pruneSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shorts_prune_sweeps_total",
		Help: "Catalog prune sweeps by outcome",
	}, []string{"outcome"})

	pruneUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shorts_prune_users_last",
		Help: "Users visited by the last prune sweep",
	})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shorts_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shorts_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})
)

// ObserveStoreOp records one store operation.
func ObserveStoreOp(backend, op, outcome string, elapsed time.Duration) {
	StoreOps.WithLabelValues(backend, op, outcome).Inc()
	storeLatency.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// IncStoreConflict records a retried optimistic transaction.
func IncStoreConflict(backend string) {
	storeConflicts.WithLabelValues(backend).Inc()
}

// IncReaction records a reaction outcome.
func IncReaction(outcome string) {
	reactionsTotal.WithLabelValues(outcome).Inc()
}

// IncSessionEvent records a session lifecycle event.
func IncSessionEvent(event string) {
	sessionEvents.WithLabelValues(event).Inc()
}

// IncCycleCompleted records a progress reset.
func IncCycleCompleted() {
	cyclesCompleted.Inc()
}

// RecordPruneSweep records a finished prune sweep.
func RecordPruneSweep(users int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	pruneSweeps.WithLabelValues(outcome).Inc()
	pruneUsers.Set(float64(users))
}

// ObserveHTTPRequest records one served request. route is the router pattern, not the raw path.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func TrackInFlight() func() {
	httpRequestsInFlight.Inc()
	return httpRequestsInFlight.Dec
}
