package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Reconciliation counter by entry point and outcome
	ReconcileCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_reconcile_total",
			Help: "Total number of reconciliation passes by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "ok", "conflict", "ambiguous", "invalid_invite", "missing_tenant", "error"
	)

	// Invitation transition counter
	InviteTransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_invite_transitions_total",
			Help: "Total number of invitation state transitions",
		},
		[]string{"to"}, // to: "pending", "sent", "completed"
	)

	// Profile auto-assignment counter
	ProfileMatchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_profile_matches_total",
			Help: "Total number of role-profile auto-assignment attempts",
		},
		[]string{"result"}, // result: "matched", "unmatched"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	ErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_errors_total",
			Help: "Total number of member-service errors",
		},
		[]string{"type"}, // type: "invalid_request", "db_error", "unauthorized" etc.
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "member_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Reconciliation pass duration
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "member_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "member_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation: "query", "insert", "update"
	)
)

// Gauge metrics
var (
	// Open operator flags
	OpenFlagsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "member_open_operator_flags",
			Help: "Number of unresolved operator flags",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "member_info",
			Help: "Information about the member service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(ReconcileCounter)
	prometheus.MustRegister(InviteTransitionCounter)
	prometheus.MustRegister(ProfileMatchCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(ErrorCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(DBOperationDuration)

	prometheus.MustRegister(OpenFlagsGauge)
	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// RecordReconcile increments the reconciliation counter
func RecordReconcile(source, outcome string) {
	ReconcileCounter.With(prometheus.Labels{"source": source, "outcome": outcome}).Inc()
}

// RecordInviteTransition increments the invitation transition counter
func RecordInviteTransition(to string) {
	InviteTransitionCounter.With(prometheus.Labels{"to": to}).Inc()
}

// RecordProfileMatch increments the profile auto-assignment counter
func RecordProfileMatch(result string) {
	ProfileMatchCounter.With(prometheus.Labels{"result": result}).Inc()
}

// RecordError increments the error counter
func RecordError(errorType string) {
	ErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// TrackReconcile measures reconciliation pass durations
func TrackReconcile(source string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		ReconcileDuration.With(prometheus.Labels{"source": source}).Observe(time.Since(startTime).Seconds())
	}
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		DBOperationDuration.With(prometheus.Labels{"operation": operation}).Observe(time.Since(startTime).Seconds())
	}
}

// MetricsMiddleware records request metrics for each endpoint
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()
			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}
