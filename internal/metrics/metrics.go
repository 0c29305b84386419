// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Auth event names.
const (
	EventRegister       = "register"
	EventLogin          = "login"
	EventLogout         = "logout"
	EventRefresh        = "refresh"
	EventPasswordChange = "password_change"
)

// Auth event results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidtube_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidtube_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidtube_auth_events_total",
			Help: "Authentication events by outcome",
		},
		[]string{"event", "result"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidtube_websocket_connections",
			Help: "Number of open session feed connections",
		},
	)
)

// RecordAuth counts one auth event; a nil err is a success.
func RecordAuth(event string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	AuthEventsTotal.WithLabelValues(event, result).Inc()
}
