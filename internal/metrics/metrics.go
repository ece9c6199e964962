// Package metrics exposes Prometheus collectors for the client core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry holds the client-core collectors, kept separate from the
	// default registry so embedding applications can choose what to expose.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noteflow_client",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	httpRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noteflow_client",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Total number of retried HTTP attempts.",
		},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "noteflow_client",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noteflow_client",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of token refresh calls, by outcome.",
		},
		[]string{"outcome"},
	)

	wsReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noteflow_client",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Total number of scheduled realtime reconnect attempts.",
		},
	)

	wsState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "noteflow_client",
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current realtime connection state (0=disconnected, 1=connecting, 2=connected, 3=error).",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpRetries,
		httpDuration,
		tokenRefreshes,
		wsReconnects,
		wsState,
	)
}

// ObserveRequest records one completed outbound request.
func ObserveRequest(method, outcome string, seconds float64) {
	httpRequests.WithLabelValues(method, outcome).Inc()
	httpDuration.WithLabelValues(method).Observe(seconds)
}

// IncRetry records one retried attempt.
func IncRetry() { httpRetries.Inc() }

// ObserveRefresh records one token refresh call.
func ObserveRefresh(outcome string) { tokenRefreshes.WithLabelValues(outcome).Inc() }

// IncReconnect records one scheduled realtime reconnect.
func IncReconnect() { wsReconnects.Inc() }

// SetConnectionState records the current realtime connection state.
func SetConnectionState(state int) { wsState.Set(float64(state)) }
