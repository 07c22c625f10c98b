package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/platinummonkey/herohooks/pkg/inbound"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/platinummonkey/herohooks/pkg/ratelimit"
	"github.com/platinummonkey/herohooks/pkg/webhooks"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// APIHandler serves inbound provider webhooks under /webhooks/{provider} and
// the emission and delivery API under /api/v1. Every route is rate limited
// when a limiter is configured.
func (c *Components) APIHandler() http.Handler {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(c.Logger),
		httputil.LoggingMiddleware(c.Logger),
	)))
	if c.Limiter != nil {
		opts := []ratelimit.MiddlewareOption{
			ratelimit.WithTrustedProxies(c.Proxies),
			ratelimit.WithMiddlewareLogger(c.Logger.WithField("component", "ratelimit")),
		}
		if c.Config.RateLimit.TrustTenantHeader {
			opts = append(opts, ratelimit.WithTenantFunc(ratelimit.TenantFromHeader))
		}
		limit := ratelimit.NewMiddleware(c.Limiter, c.RateLimitConfig(), opts...)
		router.Use(limit.Handler)
	}

	inbound.RegisterRoutes(router, c.Guards(), nil, c.Logger.WithField("component", "inbound"))

	var queue webhooks.Enqueuer
	if c.Queue != nil {
		queue = c.Queue
	}
	api := router.PathPrefix("/api/v1").Subrouter()
	if maxBody := c.Config.Server.MaxBodyBytes; maxBody > 0 {
		api.Use(httputil.MaxBytesMiddleware(maxBody))
	}
	webhooks.NewHandlers(c.Emitter, queue, c.Tracker, c.Logger.WithField("component", "api")).RegisterRoutes(api)

	return otelhttp.NewHandler(router, "herohooks")
}

// OpsHandler serves health checks and Prometheus metrics
func (c *Components) OpsHandler() http.Handler {
	opts := []observability.HealthOption{observability.WithDatabase(c.DB)}
	if c.Redis != nil {
		opts = append(opts, observability.WithRedis(c.Redis))
	}
	if c.Archive != nil {
		opts = append(opts, observability.WithDependency("archive", false, c.Archive.HealthCheck))
	}

	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(Version, opts...))
	router.Handle("/metrics", observability.MetricsHandler(c.Registry)).Methods(http.MethodGet)
	return router
}
