package inbound

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/herohooks/pkg/idempotency"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/platinummonkey/herohooks/pkg/signing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_inbound"

// echoHandler records what reached the business handler
type echoHandler struct {
	calls   int
	body    string
	eventID string
}

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	b, _ := io.ReadAll(r.Body)
	h.body = string(b)
	h.eventID = EventIDFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func githubRequest(t *testing.T, body, delivery, sigSecret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	if sigSecret != "" {
		signed, err := signing.Sign(body, sigSecret)
		require.NoError(t, err)
		req.Header.Set(signing.HeaderSignature256, signed.Signature)
	}
	if delivery != "" {
		req.Header.Set("X-GitHub-Delivery", delivery)
	}
	return req
}

func serveGuard(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGuard_AcceptsValidSignature(t *testing.T) {
	next := &echoHandler{}
	guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderGitHub, Secret: secret},
		WithIdempotency(idempotency.NewService(idempotency.NewMemoryStore())))

	body := `{"action":"opened","pull_request":{"id":42}}`
	rr := serveGuard(guard.Wrap(next), githubRequest(t, body, "d-1", secret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, body, next.body)
	assert.Equal(t, "d-1", next.eventID)
}

func TestGuard_RejectsBadSignatures(t *testing.T) {
	body := `{"id":"evt_1"}`
	tests := []struct {
		name   string
		req    func() *http.Request
		reason string
	}{
		{
			name: "missing header",
			req: func() *http.Request {
				return githubRequest(t, body, "", "")
			},
			reason: signing.ReasonMissingSignature,
		},
		{
			name: "wrong secret",
			req: func() *http.Request {
				return githubRequest(t, body, "", "other-secret")
			},
			reason: signing.ReasonSignatureMismatch,
		},
		{
			name: "missing prefix",
			req: func() *http.Request {
				req := githubRequest(t, body, "", "")
				signed, _ := signing.Sign(body, secret, signing.WithPrefix(""))
				req.Header.Set(signing.HeaderSignature256, signed.Signature)
				return req
			},
			reason: signing.ReasonMissingPrefix,
		},
		{
			name: "tampered body",
			req: func() *http.Request {
				signed, _ := signing.Sign(body, secret)
				req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"evt_2"}`))
				req.Header.Set(signing.HeaderSignature256, signed.Signature)
				return req
			},
			reason: signing.ReasonSignatureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &echoHandler{}
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderGeneric, Secret: secret}, WithMetrics(metrics))

			rr := serveGuard(guard.Wrap(next), tt.req())

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.JSONEq(t, `{"error":"`+tt.reason+`"}`, rr.Body.String())
			assert.Equal(t, 0, next.calls)
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InboundVerificationsTotal.WithLabelValues("generic", "invalid")))
		})
	}
}

func TestGuard_MissingSecret(t *testing.T) {
	next := &echoHandler{}
	guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderGitHub})

	rr := serveGuard(guard.Wrap(next), githubRequest(t, `{}`, "d-1", "anything"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"webhook secret not configured"}`, rr.Body.String())
	assert.Equal(t, 0, next.calls)
}

func TestGuard_ReplayReturnsOriginalTimestamp(t *testing.T) {
	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := first
	svc := idempotency.NewService(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return now }))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	next := &echoHandler{}
	guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderGitHub, Secret: secret},
		WithIdempotency(svc), WithMetrics(metrics))
	handler := guard.Wrap(next)

	body := `{"zen":"Keep it logically awesome.","hook_id":1}`
	rr := serveGuard(handler, githubRequest(t, body, "d-42", secret))
	require.Equal(t, http.StatusOK, rr.Code)

	now = first.Add(10 * time.Minute)
	rr = serveGuard(handler, githubRequest(t, body, "d-42", secret))
	require.Equal(t, http.StatusOK, rr.Code)

	var replay map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replay))
	assert.Equal(t, "already_processed", replay["status"])
	assert.Equal(t, "d-42", replay["event_id"])
	assert.Equal(t, "2026-05-01T12:00:00Z", replay["processed_at"])

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InboundVerificationsTotal.WithLabelValues("github", "accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InboundVerificationsTotal.WithLabelValues("github", "replay")))
}

func TestGuard_UnknownPayloadFailsOpen(t *testing.T) {
	next := &echoHandler{}
	guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderGeneric, Secret: secret},
		WithIdempotency(idempotency.NewService(idempotency.NewMemoryStore())))
	handler := guard.Wrap(next)

	body := `{"hello":"world"}`
	for i := 0; i < 2; i++ {
		rr := serveGuard(handler, githubRequest(t, body, "", secret))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, next.eventID)
}

func TestGuard_Stripe(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body := `{"id":"evt_1NqX","type":"invoice.paid"}`

	newHandler := func(next http.Handler) http.Handler {
		guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderStripe, Secret: secret},
			WithIdempotency(idempotency.NewService(idempotency.NewMemoryStore())),
			WithClock(func() time.Time { return now }))
		return guard.Wrap(next)
	}
	stripeRequest := func(ts int64, secrets ...string) *http.Request {
		parts := []string{"t=" + strconv.FormatInt(ts, 10)}
		for _, s := range secrets {
			header, err := signing.SignStripe(body, s, ts)
			require.NoError(t, err)
			_, sig, _ := strings.Cut(header, ",")
			parts = append(parts, sig)
		}
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
		req.Header.Set(signing.HeaderStripe, strings.Join(parts, ","))
		return req
	}

	t.Run("valid", func(t *testing.T) {
		next := &echoHandler{}
		rr := serveGuard(newHandler(next), stripeRequest(now.Unix(), secret))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "evt_1NqX", next.eventID)
	})

	t.Run("rotated secret", func(t *testing.T) {
		next := &echoHandler{}
		rr := serveGuard(newHandler(next), stripeRequest(now.Unix(), "whsec_old", secret))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("stale", func(t *testing.T) {
		next := &echoHandler{}
		rr := serveGuard(newHandler(next), stripeRequest(now.Add(-301*time.Second).Unix(), secret))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"`+signing.ReasonTimestampOutsideTolerance+`"}`, rr.Body.String())
		assert.Equal(t, 0, next.calls)
	})
}

func TestGuard_BodyTooLarge(t *testing.T) {
	next := &echoHandler{}
	guard := NewGuard(ProviderConfig{Provider: idempotency.ProviderGeneric, Secret: secret})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", MaxBodyBytes+1)))
	rr := serveGuard(guard.Wrap(next), req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, 0, next.calls)
}

func TestGuard_CustomHeaderAndPrefix(t *testing.T) {
	next := &echoHandler{}
	empty := ""
	guard := NewGuard(ProviderConfig{
		Provider:        idempotency.ProviderGeneric,
		Secret:          secret,
		SignatureHeader: "X-Signature",
		SignaturePrefix: &empty,
	})

	body := `{"event_id":"abc"}`
	signed, err := signing.Sign(body, secret, signing.WithPrefix(""))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("X-Signature", signed.Signature)

	rr := serveGuard(guard.Wrap(next), req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, next.calls)
}

func TestRegisterRoutes(t *testing.T) {
	router := mux.NewRouter()
	RegisterRoutes(router, map[string]*Guard{
		"github": NewGuard(ProviderConfig{Provider: idempotency.ProviderGitHub, Secret: secret},
			WithIdempotency(idempotency.NewService(idempotency.NewMemoryStore()))),
	}, nil, nil)

	rr := serveGuard(router, githubRequest(t, `{"ref":"main"}`, "d-7", secret))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"processed","event_id":"d-7"}`, rr.Body.String())

	rr = serveGuard(router, httptest.NewRequest(http.MethodGet, "/webhooks/github", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
