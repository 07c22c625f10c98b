package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/platinummonkey/herohooks/pkg/contextkeys"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func browserRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.RemoteAddr = ip + ":51234"
	req.Header.Set("User-Agent", browserUA)
	return req
}

func TestMiddleware_SetsHeadersAndLimits(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 2}).Handler(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, browserRequest("203.0.113.7"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(epoch.Add(time.Minute).Unix(), 10), rr.Header().Get("X-RateLimit-Reset"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, browserRequest("203.0.113.7"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, browserRequest("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":60}`, rr.Body.String())
}

func TestMiddleware_UsesForwardedIP(t *testing.T) {
	proxies, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	t.Run("trusted proxy", func(t *testing.T) {
		limiter, _ := newTestLimiter(NewMemoryStore())
		handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 1},
			WithTrustedProxies(proxies)).Handler(okHandler())

		for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
			req := browserRequest("10.0.0.1")
			req.Header.Set("X-Forwarded-For", ip)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusOK, rr.Code, ip)
		}
	})

	t.Run("untrusted peer cannot pick its address", func(t *testing.T) {
		limiter, _ := newTestLimiter(NewMemoryStore())
		handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 1},
			WithTrustedProxies(proxies)).Handler(okHandler())

		codes := []int{}
		for _, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
			req := browserRequest("203.0.113.7")
			req.Header.Set("X-Forwarded-For", ip)
			req.Header.Set("X-Real-IP", ip)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			codes = append(codes, rr.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	})

	t.Run("blocked ip behind spoofed header", func(t *testing.T) {
		limiter, _ := newTestLimiter(NewMemoryStore())
		require.NoError(t, limiter.Block(context.Background(), "203.0.113.66"))
		handler := NewMiddleware(limiter, DefaultConfig()).Handler(okHandler())

		req := browserRequest("203.0.113.66")
		req.Header.Set("X-Forwarded-For", "198.51.100.9")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestMiddleware_TenantHeaderIgnoredByDefault(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	var seen []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, contextkeys.GetTenant(r.Context()))
	})
	handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 2}).Handler(next)

	allowed := 0
	for i := 0; i < 50; i++ {
		req := browserRequest("203.0.113.7")
		req.Header.Set(HeaderTenantID, "t"+strconv.Itoa(i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
	assert.Equal(t, []string{"", ""}, seen)
}

func TestMiddleware_TenantFromHeader(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	var seen []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, contextkeys.GetTenant(r.Context()))
	})
	handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 1},
		WithTenantFunc(TenantFromHeader)).Handler(next)

	for _, tenant := range []string{"acme", "globex"} {
		req := browserRequest("203.0.113.7")
		req.Header.Set(HeaderTenantID, tenant)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, tenant)
	}
	assert.Equal(t, []string{"acme", "globex"}, seen)
}

func TestMiddleware_CustomTenantFunc(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 1},
		WithTenantFunc(func(*http.Request) string { return "fixed" })).Handler(okHandler())

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := browserRequest("203.0.113.7")
		req.Header.Set(HeaderTenantID, strconv.Itoa(i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Code)
	}
}

func TestMiddleware_BlockedIP(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	require.NoError(t, limiter.Block(context.Background(), "203.0.113.66"))
	handler := NewMiddleware(limiter, DefaultConfig()).Handler(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, browserRequest("203.0.113.66"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.JSONEq(t, `{"error":"ip blocked"}`, rr.Body.String())
}

func TestMiddleware_StoreFailureAllows(t *testing.T) {
	limiter, _ := newTestLimiter(failingStore{})
	handler := NewMiddleware(limiter, DefaultConfig()).Handler(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, browserRequest("203.0.113.7"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestMiddleware_BotsGetLowerLimits(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	handler := NewMiddleware(limiter, Config{Window: time.Minute, MaxRequests: 10}).Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"), "empty user agent counts as a bot")
}
