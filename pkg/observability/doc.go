// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Loggers are logrus loggers with a JSON formatter:
//
//	logger := observability.NewLogger(observability.ParseLevel("info"), os.Stdout)
//	logger.WithField("event_type", "lead_captured").Info("Emission complete")
//
// Components accept logrus.FieldLogger. Request-scoped loggers travel in the
// context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("no event id")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.WebhookDeliveriesTotal.WithLabelValues("lead_captured", "success", "").Inc()
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version,
//		observability.WithDatabase(db),
//		observability.WithRedis(redisClient),
//	)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
// InitOTel installs OTLP gRPC trace and metric exporters as the global
// providers. Shutdown on the returned providers flushes them.
package observability
