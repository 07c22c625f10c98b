package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/herohooks/pkg/async"
	"github.com/platinummonkey/herohooks/pkg/delivery"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/platinummonkey/herohooks/pkg/signing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	maxResponseBody     = 4096
	defaultAsyncTimeout = 10 * time.Minute
)

var tracer = otel.Tracer("herohooks/webhooks")

// DeliveryLogger records terminal delivery outcomes. delivery.Tracker
// satisfies it.
type DeliveryLogger interface {
	LogDelivery(ctx context.Context, d delivery.Delivery) string
}

// Emitter signs and POSTs events to every endpoint configured for their type
type Emitter struct {
	registry     *Registry
	client       *http.Client
	tracker      DeliveryLogger
	logger       logrus.FieldLogger
	metrics      *observability.Metrics
	otelMetrics  *observability.OTelMetrics
	pool         *async.WorkerPool
	asyncTimeout time.Duration
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
}

// EmitterOption configures an Emitter
type EmitterOption func(*Emitter)

// WithHTTPClient replaces the outbound client. Per-attempt timeouts are
// applied through the request context.
func WithHTTPClient(client *http.Client) EmitterOption {
	return func(e *Emitter) { e.client = client }
}

// WithDeliveryLogger records every terminal outcome
func WithDeliveryLogger(tracker DeliveryLogger) EmitterOption {
	return func(e *Emitter) { e.tracker = tracker }
}

// WithLogger sets the emitter logger
func WithLogger(logger logrus.FieldLogger) EmitterOption {
	return func(e *Emitter) { e.logger = logger }
}

// WithMetrics records Prometheus emission, attempt and delivery metrics
func WithMetrics(metrics *observability.Metrics) EmitterOption {
	return func(e *Emitter) { e.metrics = metrics }
}

// WithOTelMetrics records OpenTelemetry attempt and delivery metrics
func WithOTelMetrics(metrics *observability.OTelMetrics) EmitterOption {
	return func(e *Emitter) { e.otelMetrics = metrics }
}

// WithWorkerPool runs EmitAsync on pool instead of a fresh goroutine
func WithWorkerPool(pool *async.WorkerPool) EmitterOption {
	return func(e *Emitter) { e.pool = pool }
}

// WithClock overrides time.Now for timestamps and signatures
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// WithSleep overrides the backoff wait
func WithSleep(sleep func(context.Context, time.Duration) error) EmitterOption {
	return func(e *Emitter) { e.sleep = sleep }
}

// NewEmitter creates an emitter for registry
func NewEmitter(registry *Registry, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		registry: registry,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		asyncTimeout: defaultAsyncTimeout,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = observability.OrNop(e.logger)
	return e
}

// Emit delivers event to every endpoint of its type in parallel and waits for
// all of them. It never fails: an unconfigured or disabled type, or one with
// no endpoints, is a successful no-op. Caller cancellation does not stop a
// started emission.
func (e *Emitter) Emit(ctx context.Context, event Event) EmissionResult {
	ctx = context.WithoutCancel(ctx)
	result := EmissionResult{EventType: event.Type, EventID: event.ID}
	logger := e.logger.WithField("event_type", event.Type)
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	cfg, ok := e.registry.Lookup(event.Type)
	switch {
	case !ok:
		return e.skip(result, "event type not configured")
	case !cfg.Enabled:
		return e.skip(result, "event type disabled")
	case len(cfg.Endpoints) == 0:
		return e.skip(result, "no endpoints configured")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
		result.EventID = event.ID
	}

	ctx, span := tracer.Start(ctx, "webhooks.Emit",
		trace.WithAttributes(
			attribute.String("webhook.event_type", event.Type),
			attribute.String("webhook.event_id", event.ID),
			attribute.Int("webhook.endpoints", len(cfg.Endpoints)),
		),
	)
	defer span.End()

	payload := BuildPayload(event, cfg.Payload, e.now())

	deliveries := make([]DeliveryResult, len(cfg.Endpoints))
	var g errgroup.Group
	for i, ep := range cfg.Endpoints {
		i, ep := i, ep
		g.Go(func() error {
			deliveries[i] = e.deliver(ctx, event, payload, ep)
			return nil
		})
	}
	_ = g.Wait()

	result.Deliveries = deliveries
	result.Success = true
	failed := 0
	for _, d := range deliveries {
		if !d.Success {
			result.Success = false
			failed++
		}
	}

	outcome := "success"
	switch {
	case failed == len(deliveries):
		outcome = "failed"
	case failed > 0:
		outcome = "partial_failure"
	}
	if e.metrics != nil {
		e.metrics.WebhookEmissionsTotal.WithLabelValues(event.Type, outcome).Inc()
	}

	entry := logger.WithFields(logrus.Fields{
		"event_id":  event.ID,
		"endpoints": len(deliveries),
		"failed":    failed,
	})
	if result.Success {
		span.SetStatus(codes.Ok, "delivered")
		entry.Info("Webhook emitted")
	} else {
		span.SetStatus(codes.Error, outcome)
		entry.Warn("Webhook emission had failed deliveries")
	}
	return result
}

// EmitAsync runs Emit in the background on the configured worker pool, or
// on its own goroutine when no pool is set or the pool is shut down
func (e *Emitter) EmitAsync(ctx context.Context, event Event) {
	task := func(ctx context.Context) error {
		e.Emit(ctx, event)
		return nil
	}

	if e.pool != nil {
		err := e.pool.Submit(task)
		if err == nil {
			return
		}
		e.logger.WithError(err).WithField("event_type", event.Type).Warn("Worker pool rejected emission, running detached")
	}
	async.SafeGo(context.WithoutCancel(ctx), e.asyncTimeout, "webhook emission", task)
}

func (e *Emitter) skip(result EmissionResult, reason string) EmissionResult {
	result.Success = true
	result.Skipped = true
	result.Reason = reason
	if e.metrics != nil {
		e.metrics.WebhookEmissionsTotal.WithLabelValues(result.EventType, "skipped").Inc()
	}
	e.logger.WithFields(logrus.Fields{
		"event_type": result.EventType,
		"reason":     reason,
	}).Debug("Webhook emission skipped")
	return result
}

// deliver runs the retry loop for one endpoint and records the terminal
// outcome
func (e *Emitter) deliver(ctx context.Context, event Event, payload Payload, ep EndpointConfig) DeliveryResult {
	ctx, span := tracer.Start(ctx, "webhooks.deliver",
		trace.WithAttributes(attribute.String("webhook.endpoint", ep.URL)),
	)
	defer span.End()

	policy := NewRetryPolicy(RetryConfigFor(ep))
	result := DeliveryResult{Endpoint: ep.URL}

	var last attemptResult
	for attempt := 1; ; attempt++ {
		last = e.attempt(ctx, event.Type, payload, ep)
		result.Attempts = attempt

		if last.err == nil {
			result.Success = true
			break
		}
		if !policy.ShouldRetry(attempt, last.err) {
			if errors.Is(last.err, ErrNonRetryable) {
				result.ErrorCode = ErrorCodeNonRetryable
			} else {
				result.ErrorCode = ErrorCodeMaxRetriesExceeded
			}
			break
		}

		delay := policy.NextRetryDelay(attempt)
		e.logger.WithError(last.err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"endpoint":   ep.URL,
			"attempt":    attempt,
			"delay":      delay.String(),
		}).Debug("Webhook attempt failed, retrying")
		if err := e.sleep(ctx, delay); err != nil {
			result.ErrorCode = ErrorCodeMaxRetriesExceeded
			break
		}
	}

	result.RetryCount = result.Attempts - 1
	result.StatusCode = last.statusCode
	result.ResponseTimeMs = last.responseTime.Milliseconds()
	if last.err != nil {
		result.Error = last.err.Error()
	}

	span.SetAttributes(
		attribute.Int("webhook.attempts", result.Attempts),
		attribute.Int("http.status_code", result.StatusCode),
	)
	if result.Success {
		span.SetStatus(codes.Ok, "delivered")
	} else {
		span.RecordError(last.err)
		span.SetStatus(codes.Error, result.ErrorCode)
	}

	result.DeliveryID = e.record(ctx, event, ep, result, last)
	return result
}

// record emits metrics and logs for the outcome and returns the tracker id
func (e *Emitter) record(ctx context.Context, event Event, ep EndpointConfig, result DeliveryResult, last attemptResult) string {
	status := "success"
	if !result.Success {
		status = "failed"
	}
	if e.metrics != nil {
		e.metrics.WebhookDeliveriesTotal.WithLabelValues(event.Type, status, result.ErrorCode).Inc()
	}
	e.otelMetrics.RecordDelivery(ctx, event.Type, result.Success, result.RetryCount)

	entry := e.logger.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"endpoint":    ep.URL,
		"status_code": result.StatusCode,
		"retry_count": result.RetryCount,
	})
	if result.Success {
		entry.Info("Webhook delivered")
	} else {
		entry.WithField("error_code", result.ErrorCode).WithError(last.err).Error("Webhook delivery failed")
	}

	if e.tracker == nil {
		return ""
	}
	return e.tracker.LogDelivery(ctx, delivery.Delivery{
		EventID:         event.ID,
		EventType:       event.Type,
		Endpoint:        ep.URL,
		Success:         result.Success,
		StatusCode:      result.StatusCode,
		ResponseTimeMs:  result.ResponseTimeMs,
		RetryCount:      result.RetryCount,
		ErrorMessage:    result.Error,
		ErrorCode:       result.ErrorCode,
		RequestHeaders:  last.requestHeaders,
		ResponseHeaders: last.responseHeaders,
		RequestBody:     last.requestBody,
		ResponseBody:    last.responseBody,
	})
}

type attemptResult struct {
	statusCode      int
	responseTime    time.Duration
	requestHeaders  map[string]string
	responseHeaders map[string]string
	requestBody     string
	responseBody    string
	err             error
}

// attempt serializes, signs and POSTs once
func (e *Emitter) attempt(ctx context.Context, eventType string, payload Payload, ep EndpointConfig) attemptResult {
	var res attemptResult

	if err := validateEndpointURL(ep.URL); err != nil {
		res.err = permanent(err)
		return res
	}

	body, err := json.Marshal(payload)
	if err != nil {
		res.err = permanent(fmt.Errorf("failed to marshal payload: %w", err))
		return res
	}
	res.requestBody = string(body)

	headers, err := e.sign(body, ep)
	if err != nil {
		res.err = permanent(err)
		return res
	}
	res.requestHeaders = headers

	timeout := ep.timeout()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		res.err = permanent(fmt.Errorf("failed to create request: %w", err))
		return res
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	res.responseTime = time.Since(start)
	defer func() {
		if e.metrics != nil {
			e.metrics.WebhookAttemptsTotal.WithLabelValues(eventType, observability.StatusClass(res.statusCode)).Inc()
			e.metrics.WebhookAttemptDuration.WithLabelValues(eventType).Observe(res.responseTime.Seconds())
		}
		e.otelMetrics.RecordAttempt(ctx, eventType, res.statusCode, res.responseTime)
	}()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("request timed out after %s", timeout)
		} else {
			res.err = fmt.Errorf("request failed: %w", err)
		}
		return res
	}
	defer resp.Body.Close()

	res.statusCode = resp.StatusCode
	res.responseHeaders = flattenHeaders(resp.Header)
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res.responseBody = string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if isPermanentStatus(resp.StatusCode) {
			statusErr = permanent(statusErr)
		}
		res.err = statusErr
	}
	return res
}

// sign builds the request headers for body under the endpoint's scheme
func (e *Emitter) sign(body []byte, ep EndpointConfig) (map[string]string, error) {
	if ep.Scheme == SchemeStripe {
		header, err := signing.SignStripe(string(body), ep.Secret, e.now().Unix())
		if err != nil {
			return nil, err
		}
		return map[string]string{
			signing.HeaderStripe:      header,
			signing.HeaderContentType: signing.ContentTypeJSON,
			signing.HeaderUserAgent:   signing.UserAgent,
		}, nil
	}

	opts := []signing.Option{signing.WithClock(e.now)}
	if ep.Algorithm != "" {
		opts = append(opts, signing.WithAlgorithm(signing.Algorithm(ep.Algorithm)))
	}
	if ep.Encoding != "" {
		opts = append(opts, signing.WithEncoding(signing.Encoding(ep.Encoding)))
	}
	if ep.SignaturePrefix != nil {
		opts = append(opts, signing.WithPrefix(*ep.SignaturePrefix))
	}
	if ep.SignatureHeader != "" {
		opts = append(opts, signing.WithHeaderName(ep.SignatureHeader))
	}
	if ep.IncludeTimestamp {
		opts = append(opts, signing.IncludeTimestamp())
	}

	signed, err := signing.Sign(string(body), ep.Secret, opts...)
	if err != nil {
		return nil, err
	}
	return signed.Headers, nil
}

// isPermanentStatus reports 4xx responses other than timeout and rate limit
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint URL: %q", raw)
	}
	return nil
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// permanentError keeps the underlying message while matching ErrNonRetryable
type permanentError struct {
	err error
}

func permanent(err error) error {
	return &permanentError{err: err}
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() []error {
	return []error{ErrNonRetryable, e.err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
