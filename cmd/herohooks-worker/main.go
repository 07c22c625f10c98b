package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/herohooks/pkg/app"
	"github.com/platinummonkey/herohooks/pkg/async"
	"github.com/platinummonkey/herohooks/pkg/config"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var runOnce = flag.Bool("run-once", false, "Run the maintenance jobs once and exit")

func main() {
	flag.Parse()

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
		ServiceName:    cfg.Observability.OTelServiceName + "-worker",
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

	jobs := components.MaintenanceJobs()

	// Run once mode (for backfills and manual retention)
	if *runOnce {
		for _, job := range jobs {
			logger.WithField("job", job.Name).Info("Running job")
			if err := job.Run(ctx); err != nil {
				logger.WithError(err).WithField("job", job.Name).Error("Job failed")
			}
		}
		if err := components.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close components")
		}
		return
	}

	pool := async.NewWorkerPool(ctx, len(jobs), "maintenance", cfg.Worker.TaskTimeout)
	scheduler := cron.New()
	for _, job := range jobs {
		job := job
		_, err := scheduler.AddFunc(job.Schedule, func() {
			if err := pool.Submit(job.Run); err != nil {
				logger.WithError(err).WithField("job", job.Name).Warn("Failed to submit job")
			}
		})
		if err != nil {
			logger.WithError(err).WithField("job", job.Name).Fatal("Failed to schedule job")
		}
		logger.WithFields(logrus.Fields{"job": job.Name, "schedule": job.Schedule}).Info("Job scheduled")
	}
	scheduler.Start()

	go func() {
		defer observability.RecoverPanic(logger, "job errors")
		for err := range pool.Errors() {
			logger.WithError(err).Error("Maintenance job failed")
		}
	}()

	consumerDone := make(chan struct{})
	if components.Queue != nil {
		go func() {
			defer close(consumerDone)
			defer observability.RecoverPanic(logger, "queue consumer")
			if err := components.Queue.Run(ctx); err != nil {
				logger.WithError(err).Error("Queue consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
		logger.Info("Queue disabled, running maintenance jobs only")
	}

	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     components.OpsHandler(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Ops server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, opsServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("worker pool", func(ctx context.Context) error {
		return pool.Shutdown(10 * time.Second)
	})
	shutdown.RegisterShutdownFunc("queue consumer", func(ctx context.Context) error {
		cancel()
		select {
		case <-consumerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return otelProviders.Shutdown(ctx, logger)
	})
	shutdown.RegisterShutdownFunc("components", components.Shutdown)

	logger.WithField("ops_addr", opsServer.Addr).Info("herohooks worker started")

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("herohooks worker stopped")
}
