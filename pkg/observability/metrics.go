package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Outbound webhook metrics
	WebhookEmissionsTotal       *prometheus.CounterVec
	WebhookDeliveriesTotal      *prometheus.CounterVec
	WebhookAttemptsTotal        *prometheus.CounterVec
	WebhookAttemptDuration      *prometheus.HistogramVec
	WebhookQueueEnqueuedTotal   prometheus.Counter
	WebhookQueueProcessedTotal  *prometheus.CounterVec
	DeliveryTrackerErrorsTotal  *prometheus.CounterVec
	DeliveryRecordsDeletedTotal prometheus.Counter

	// Inbound webhook metrics
	InboundVerificationsTotal *prometheus.CounterVec
	IdempotencyReplaysTotal   *prometheus.CounterVec
	IdempotencyErrorsTotal    *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitDecisionsTotal *prometheus.CounterVec
	RateLimitStoreErrors    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herohooks_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		WebhookEmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_webhook_emissions_total",
				Help: "Total number of webhook emissions by outcome",
			},
			[]string{"event_type", "outcome"},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_webhook_deliveries_total",
				Help: "Terminal webhook delivery outcomes per endpoint",
			},
			[]string{"event_type", "status", "error_code"},
		),
		WebhookAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_webhook_attempts_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"event_type", "status_class"},
		),
		WebhookAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herohooks_webhook_attempt_duration_seconds",
				Help:    "Duration of a single webhook POST",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		WebhookQueueEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herohooks_webhook_queue_enqueued_total",
				Help: "Events placed on the emission stream",
			},
		),
		WebhookQueueProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_webhook_queue_processed_total",
				Help: "Stream messages consumed by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryTrackerErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_delivery_tracker_errors_total",
				Help: "Delivery tracker store failures",
			},
			[]string{"operation"},
		),
		DeliveryRecordsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herohooks_delivery_records_deleted_total",
				Help: "Delivery rows removed by retention cleanup",
			},
		),

		InboundVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_inbound_verifications_total",
				Help: "Inbound webhook signature verifications",
			},
			[]string{"provider", "result"},
		),
		IdempotencyReplaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_idempotency_replays_total",
				Help: "Inbound events acknowledged as already processed",
			},
			[]string{"namespace"},
		),
		IdempotencyErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_idempotency_errors_total",
				Help: "Idempotency store failures",
			},
			[]string{"operation"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herohooks_ratelimit_decisions_total",
				Help: "Rate limiter decisions",
			},
			[]string{"decision", "risk_level", "bot"},
		),
		RateLimitStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herohooks_ratelimit_store_errors_total",
				Help: "Rate limit store failures (requests allowed)",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEmissionsTotal,
		m.WebhookDeliveriesTotal,
		m.WebhookAttemptsTotal,
		m.WebhookAttemptDuration,
		m.WebhookQueueEnqueuedTotal,
		m.WebhookQueueProcessedTotal,
		m.DeliveryTrackerErrorsTotal,
		m.DeliveryRecordsDeletedTotal,
		m.InboundVerificationsTotal,
		m.IdempotencyReplaysTotal,
		m.IdempotencyErrorsTotal,
		m.RateLimitDecisionsTotal,
		m.RateLimitStoreErrors,
	)

	return m
}

// StatusClass buckets an HTTP status code ("2xx", "5xx"); 0 means no response
func StatusClass(code int) string {
	if code <= 0 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label (route template); nil uses URL.Path.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
