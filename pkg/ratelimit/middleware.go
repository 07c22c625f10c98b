package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/herohooks/pkg/contextkeys"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

// HeaderTenantID carries the tenant when a trusted gateway sets it
const HeaderTenantID = "X-Tenant-ID"

// TenantFromHeader reads HeaderTenantID. Only install it with WithTenantFunc
// when a gateway overwrites the header; a client choosing its own tenant gets
// fresh counters per value.
func TenantFromHeader(r *http.Request) string {
	return r.Header.Get(HeaderTenantID)
}

// Middleware applies a Limiter to HTTP requests
type Middleware struct {
	limiter *Limiter
	config  Config
	tenant  func(*http.Request) string
	proxies *httputil.TrustedProxies
	logger  logrus.FieldLogger
}

// MiddlewareOption configures a Middleware
type MiddlewareOption func(*Middleware)

// WithTenantFunc sets how the tenant is read from a request. By default every
// request counts against DefaultTenant.
func WithTenantFunc(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.tenant = fn
	}
}

// WithTrustedProxies believes forwarding headers from these proxies. Without
// it the connection address is the client.
func WithTrustedProxies(proxies *httputil.TrustedProxies) MiddlewareOption {
	return func(m *Middleware) {
		m.proxies = proxies
	}
}

// WithMiddlewareLogger sets the logger
func WithMiddlewareLogger(logger logrus.FieldLogger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// NewMiddleware limits every request with config
func NewMiddleware(limiter *Limiter, config Config, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		limiter: limiter,
		config:  config,
		tenant:  func(*http.Request) string { return "" },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = observability.OrNop(m.logger)
	return m
}

// Handler wraps next. Blocked IPs get 403, limited requests get 429 with
// Retry-After, and store failures let the request through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := RequestInfo{
			IP:        m.proxies.ClientIP(r),
			UserAgent: r.UserAgent(),
			Route:     r.URL.Path,
		}

		tenant := m.tenant(r)
		result, err := m.limiter.Check(r.Context(), tenant, m.config, info)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"ip":         info.IP,
				"request_id": observability.GetRequestID(r.Context()),
			}).WithError(err).Warn("Rate limit store unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if result.BlockReason == BlockReasonIPBlocked {
			httputil.WriteForbidden(w, "ip blocked")
			return
		}

		setHeaders(w, result)
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			_ = httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "rate limit exceeded",
				"retry_after": result.RetryAfter,
			})
			return
		}

		if tenant != "" {
			r = r.WithContext(contextkeys.WithTenant(r.Context(), tenant))
		}
		next.ServeHTTP(w, r)
	})
}

func setHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	}
}
