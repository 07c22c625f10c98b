package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for webhook delivery. They are
// exported through the OTLP meter provider set up by InitOTel.
type OTelMetrics struct {
	deliveries      metric.Int64Counter
	attemptDuration metric.Float64Histogram
	retries         metric.Int64Histogram
	rateLimited     metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/herohooks")

	m := &OTelMetrics{}
	var err error

	m.deliveries, err = meter.Int64Counter(
		"webhook.deliveries",
		metric.WithDescription("Terminal webhook delivery outcomes"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.deliveries counter: %w", err)
	}

	m.attemptDuration, err = meter.Float64Histogram(
		"webhook.attempt.duration",
		metric.WithDescription("Webhook POST duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.attempt.duration histogram: %w", err)
	}

	m.retries, err = meter.Int64Histogram(
		"webhook.delivery.retries",
		metric.WithDescription("Retries used per terminal delivery"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.delivery.retries histogram: %w", err)
	}

	m.rateLimited, err = meter.Int64Counter(
		"ratelimit.denied",
		metric.WithDescription("Requests denied by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.denied counter: %w", err)
	}

	return m, nil
}

// RecordAttempt records one outbound POST
func (m *OTelMetrics) RecordAttempt(ctx context.Context, eventType string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.attemptDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("webhook.event_type", eventType),
		attribute.String("http.status_class", StatusClass(statusCode)),
	))
}

// RecordDelivery records a terminal delivery outcome
func (m *OTelMetrics) RecordDelivery(ctx context.Context, eventType string, success bool, retryCount int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("webhook.event_type", eventType),
		attribute.Bool("webhook.success", success),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.retries.Record(ctx, int64(retryCount), attrs)
}

// RecordRateLimited records a denied request
func (m *OTelMetrics) RecordRateLimited(ctx context.Context, riskLevel string, isBot bool) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ratelimit.risk_level", riskLevel),
		attribute.Bool("ratelimit.bot", isBot),
	))
}
