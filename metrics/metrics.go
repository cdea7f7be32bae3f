package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Escrow operations by name and result code",
		},
		[]string{"op", "result"},
	)

	tokensMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_tokens_moved_total",
			Help: "Token base units moved, by kind (deposit, payout, fee, refund, mint)",
		},
		[]string{"kind"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_events_total",
			Help: "Committed escrow events by kind",
		},
		[]string{"kind"},
	)

	notifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_notify_failures_total",
			Help: "Event sink delivery failures",
		},
		[]string{"sink"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordTransition counts one escrow operation outcome.
func RecordTransition(op, result string) {
	transitionsTotal.WithLabelValues(op, result).Inc()
}

// RecordTokens adds amount to the moved-tokens counter for kind.
func RecordTokens(kind string, amount uint64) {
	tokensMoved.WithLabelValues(kind).Add(float64(amount))
}

func RecordEvent(kind string) {
	eventsTotal.WithLabelValues(kind).Inc()
}

func RecordNotifyFailure(sink string) {
	notifyFailures.WithLabelValues(sink).Inc()
}

// RecordRequest records one served HTTP request.
func RecordRequest(method, route string, status int, d time.Duration) {
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
