package inbound

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/herohooks/pkg/contextkeys"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/platinummonkey/herohooks/pkg/idempotency"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/platinummonkey/herohooks/pkg/signing"
	"github.com/sirupsen/logrus"
)

// MaxBodyBytes caps inbound webhook bodies
const MaxBodyBytes = 1 << 20

// Verification outcomes recorded in InboundVerificationsTotal
const (
	resultAccepted      = "accepted"
	resultReplay        = "replay"
	resultInvalid       = "invalid"
	resultMisconfigured = "misconfigured"
)

// ProviderConfig describes how one provider signs its webhooks
type ProviderConfig struct {
	// Provider is stripe, github or generic. Stripe uses the Stripe-Signature
	// scheme; the others use a prefixed hex HMAC of the body.
	Provider string
	Secret   string
	// SignatureHeader defaults to Stripe-Signature for stripe and to the
	// algorithm's X-Hub-Signature header otherwise
	SignatureHeader string
	// SignaturePrefix defaults to "<algorithm>="
	SignaturePrefix *string
	Algorithm       signing.Algorithm
	// Tolerance bounds the Stripe timestamp skew
	Tolerance time.Duration
	// Namespace and TTL scope idempotency records
	Namespace string
	TTL       time.Duration
}

func (c ProviderConfig) algorithm() signing.Algorithm {
	if c.Algorithm == "" {
		return signing.SHA256
	}
	return c.Algorithm
}

func (c ProviderConfig) header() string {
	if c.SignatureHeader != "" {
		return c.SignatureHeader
	}
	if c.Provider == idempotency.ProviderStripe {
		return signing.HeaderStripe
	}
	return signing.DefaultHeaderName(c.algorithm())
}

func (c ProviderConfig) prefix() string {
	if c.SignaturePrefix != nil {
		return *c.SignaturePrefix
	}
	return string(c.algorithm()) + "="
}

func (c ProviderConfig) provider() string {
	if c.Provider == "" {
		return idempotency.ProviderGeneric
	}
	return c.Provider
}

// Guard verifies and deduplicates inbound webhooks before they reach a handler
type Guard struct {
	config      ProviderConfig
	verifier    *signing.Verifier
	idempotency *idempotency.Service
	logger      logrus.FieldLogger
	metrics     *observability.Metrics
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithIdempotency suppresses replays through svc
func WithIdempotency(svc *idempotency.Service) GuardOption {
	return func(g *Guard) { g.idempotency = svc }
}

// WithLogger sets the guard logger
func WithLogger(logger logrus.FieldLogger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// WithMetrics records verification outcomes
func WithMetrics(metrics *observability.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = metrics }
}

// WithClock overrides the clock used for the Stripe tolerance check
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.verifier.Now = now }
}

// NewGuard creates a guard for one provider
func NewGuard(config ProviderConfig, opts ...GuardOption) *Guard {
	g := &Guard{
		config: config,
		verifier: &signing.Verifier{
			Algorithm: config.algorithm(),
			Tolerance: config.Tolerance,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = observability.OrNop(g.logger).WithField("provider", config.provider())
	return g
}

// Wrap returns a handler that answers:
//
//   - 500 when no secret is configured
//   - 401 with the failure reason when the signature does not verify
//   - 200 {"status": "already_processed"} for an event seen within its TTL
//
// and otherwise calls next with the body restored and the event id in the
// request context.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := g.logger
		if requestID := observability.GetRequestID(ctx); requestID != "" {
			logger = logger.WithField("request_id", requestID)
		}

		body, err := readBody(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.WritePayloadTooLarge(w)
				return
			}
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}

		if g.config.Secret == "" {
			logger.Error("Inbound webhook secret not configured")
			g.record(resultMisconfigured)
			httputil.WriteInternalError(w, signing.ReasonMissingSecret)
			return
		}

		if result := g.verify(r, body); !result.Valid {
			logger.WithField("reason", result.Error).Warn("Rejected inbound webhook")
			g.record(resultInvalid)
			httputil.WriteUnauthorized(w, result.Error)
			return
		}

		var eventID string
		if g.idempotency != nil {
			status := g.idempotency.CheckAndMarkProcessed(ctx, r, body, idempotency.Config{
				Provider:  g.config.provider(),
				Namespace: g.config.Namespace,
				TTL:       g.config.TTL,
			})
			eventID = status.EventID
			if status.WasProcessed {
				logger.WithField("event_id", eventID).Info("Inbound webhook already processed")
				g.record(resultReplay)
				writeAlreadyProcessed(w, status)
				return
			}
		}

		g.record(resultAccepted)
		r.Body = io.NopCloser(bytes.NewReader(body))
		if eventID != "" {
			r = r.WithContext(WithEventID(ctx, eventID))
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) verify(r *http.Request, body []byte) signing.Result {
	signature := r.Header.Get(g.config.header())
	if g.config.Provider == idempotency.ProviderStripe {
		return g.verifier.VerifyStripe(body, signature, g.config.Secret)
	}
	return g.verifier.Verify(body, signature, g.config.Secret, g.config.prefix())
}

func (g *Guard) record(result string) {
	if g.metrics != nil {
		g.metrics.InboundVerificationsTotal.WithLabelValues(g.config.provider(), result).Inc()
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
}

func writeAlreadyProcessed(w http.ResponseWriter, status idempotency.Status) {
	body := map[string]interface{}{
		"status":   "already_processed",
		"event_id": status.EventID,
	}
	if status.ProcessedAt != nil {
		body["processed_at"] = status.ProcessedAt.UTC().Format(time.RFC3339Nano)
	}
	_ = httputil.WriteSuccess(w, body)
}

// WithEventID stores the verified event id in ctx
func WithEventID(ctx context.Context, eventID string) context.Context {
	return contextkeys.WithEventID(ctx, eventID)
}

// EventIDFromContext returns the event id attached by Guard, if any
func EventIDFromContext(ctx context.Context) string {
	return contextkeys.GetEventID(ctx)
}
