package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/herohooks/pkg/app"
	"github.com/platinummonkey/herohooks/pkg/async"
	"github.com/platinummonkey/herohooks/pkg/config"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	async.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}

	if components.Limiter != nil && cfg.RateLimit.CleanupInterval > 0 {
		components.Limiter.StartCleanup(ctx, cfg.RateLimit.CleanupInterval)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      components.APIHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     components.OpsHandler(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("ops server", opsServer.Shutdown)
	shutdown.RegisterShutdownFunc("background tasks", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return otelProviders.Shutdown(ctx, logger)
	})
	shutdown.RegisterShutdownFunc("components", components.Shutdown)

	go serve(logger, opsServer, "ops")
	go serve(logger, server, "api")

	logger.WithFields(logrus.Fields{
		"addr":     server.Addr,
		"ops_addr": opsServer.Addr,
		"version":  app.Version,
	}).Info("herohooks started")

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("herohooks stopped")
}

func serve(logger logrus.FieldLogger, server *http.Server, name string) {
	defer observability.RecoverPanic(logger, name+" server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", name).Fatal("HTTP server failed")
	}
}
