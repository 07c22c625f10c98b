package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/herohooks/pkg/config"
	"github.com/platinummonkey/herohooks/pkg/delivery"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/platinummonkey/herohooks/pkg/idempotency"
	"github.com/platinummonkey/herohooks/pkg/inbound"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/platinummonkey/herohooks/pkg/ratelimit"
	"github.com/platinummonkey/herohooks/pkg/storage"
	"github.com/platinummonkey/herohooks/pkg/webhooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoints
var Version = "dev"

// Components is everything built from a Config. Stores and clients are
// chosen by the config's store settings.
type Components struct {
	Config      *config.Config
	Logger      logrus.FieldLogger
	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics

	DB    *sql.DB
	Redis *redis.Client

	Events      *webhooks.Registry
	Tracker     *delivery.Tracker
	Idempotency *idempotency.Service
	// Limiter is nil when rate limiting is disabled
	Limiter *ratelimit.Limiter
	// Proxies is nil when no proxy is trusted
	Proxies *httputil.TrustedProxies
	Emitter *webhooks.Emitter
	// Queue is nil unless the queue is enabled
	Queue *webhooks.Queue
	// Archive is nil unless delivery archiving is enabled
	Archive *storage.S3Client

	closers []func() error
}

// Build connects the configured backends and assembles the components.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (c *Components, err error) {
	logger = observability.OrNop(logger)
	registry := prometheus.NewRegistry()

	c = &Components{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
	}
	defer func() {
		if err != nil {
			if closeErr := c.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("Failed to close components after build error")
			}
			c = nil
		}
	}()

	if c.OTelMetrics, err = observability.NewOTelMetrics(); err != nil {
		return nil, err
	}

	if err = c.connect(ctx); err != nil {
		return nil, err
	}

	if c.Events, err = config.LoadRegistry(cfg.Webhooks.RegistryPath); err != nil {
		return nil, err
	}

	if c.Tracker, err = c.buildTracker(ctx); err != nil {
		return nil, err
	}
	if c.Idempotency, err = c.buildIdempotency(); err != nil {
		return nil, err
	}
	if c.Proxies, err = httputil.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Enabled {
		if c.Limiter, err = c.buildLimiter(); err != nil {
			return nil, err
		}
	}

	c.Emitter = webhooks.NewEmitter(c.Events,
		webhooks.WithDeliveryLogger(c.Tracker),
		webhooks.WithLogger(logger.WithField("component", "emitter")),
		webhooks.WithMetrics(c.Metrics),
		webhooks.WithOTelMetrics(c.OTelMetrics),
	)

	if cfg.Webhooks.QueueEnabled {
		c.Queue = webhooks.NewQueue(c.Redis, c.Emitter, webhooks.QueueConfig{
			Stream:        cfg.Webhooks.QueueStream,
			Group:         cfg.Webhooks.QueueGroup,
			Consumer:      cfg.Webhooks.QueueConsumer,
			Workers:       cfg.Worker.Workers,
			TaskTimeout:   cfg.Worker.TaskTimeout,
			ClaimMinIdle:  cfg.Webhooks.QueueClaimMinIdle,
			ClaimInterval: cfg.Webhooks.QueueClaimInterval,
		}, logger.WithField("component", "queue"), c.Metrics)
	}

	logger.WithFields(logrus.Fields{
		"delivery_store":    cfg.Webhooks.DeliveryStore,
		"idempotency_store": cfg.Inbound.IdempotencyStore,
		"ratelimit_store":   cfg.RateLimit.Store,
		"ratelimit":         cfg.RateLimit.Enabled,
		"queue":             cfg.Webhooks.QueueEnabled,
		"event_types":       len(c.Events.Events),
	}).Info("Components initialized")

	return c, nil
}

func (c *Components) connect(ctx context.Context) error {
	cfg := c.Config
	if cfg.Webhooks.DeliveryStore == config.StorePostgres || cfg.Inbound.IdempotencyStore == config.StorePostgres {
		db, err := storage.OpenPostgres(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		c.DB = db
		c.closers = append(c.closers, db.Close)
	}

	needsRedis := cfg.Webhooks.QueueEnabled ||
		cfg.Inbound.IdempotencyStore == config.StoreRedis ||
		(cfg.RateLimit.Enabled && cfg.RateLimit.Store == config.StoreRedis)
	if needsRedis {
		client, err := storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		c.Redis = client
		c.closers = append(c.closers, client.Close)
	}
	return nil
}

func (c *Components) buildTracker(ctx context.Context) (*delivery.Tracker, error) {
	var store delivery.Store
	switch c.Config.Webhooks.DeliveryStore {
	case config.StorePostgres:
		pg, err := delivery.NewPostgresStore(c.DB)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		store = delivery.NewMemoryStore(c.Config.Webhooks.MemoryMaxRecords)
	}

	opts := []delivery.TrackerOption{
		delivery.WithLogger(c.Logger.WithField("component", "delivery")),
		delivery.WithMetrics(c.Metrics),
	}
	if c.Config.Worker.ArchiveEnabled {
		s3Client, err := storage.NewS3Client(ctx, c.Config.Storage)
		if err != nil {
			return nil, err
		}
		c.Archive = s3Client
		opts = append(opts, delivery.WithArchiver(delivery.NewObjectArchiver(s3Client, c.Config.Worker.ArchivePrefix)))
	}
	return delivery.NewTracker(store, opts...), nil
}

func (c *Components) buildIdempotency() (*idempotency.Service, error) {
	var store idempotency.Store
	switch c.Config.Inbound.IdempotencyStore {
	case config.StorePostgres:
		pg, err := idempotency.NewPostgresStore(c.DB)
		if err != nil {
			return nil, err
		}
		store = pg
	case config.StoreRedis:
		store = idempotency.NewRedisStore(c.Redis, "herohooks:idempotency")
	default:
		store = idempotency.NewMemoryStore()
	}

	return idempotency.NewService(store,
		idempotency.WithLogger(c.Logger.WithField("component", "idempotency")),
		idempotency.WithMetrics(c.Metrics),
	), nil
}

func (c *Components) buildLimiter() (*ratelimit.Limiter, error) {
	var store ratelimit.Store
	switch c.Config.RateLimit.Store {
	case config.StoreRedis:
		store = ratelimit.NewRedisStore(c.Redis, ratelimit.DefaultRedisPrefix)
	case config.StoreMemory:
		store = ratelimit.NewMemoryStore()
	default:
		return nil, fmt.Errorf("invalid rate limit store: %s", c.Config.RateLimit.Store)
	}

	return ratelimit.NewLimiter(store,
		ratelimit.WithLogger(c.Logger.WithField("component", "ratelimit")),
		ratelimit.WithMetrics(c.Metrics),
		ratelimit.WithOTelMetrics(c.OTelMetrics),
	), nil
}

// RateLimitConfig is the limiter configuration for inbound requests
func (c *Components) RateLimitConfig() ratelimit.Config {
	rl := c.Config.RateLimit
	return ratelimit.Config{
		Window:        rl.Window,
		MaxRequests:   rl.MaxRequests,
		BurstWindow:   rl.BurstWindow,
		BurstMax:      rl.BurstMax,
		BotMultiplier: rl.BotMultiplier,
	}
}

// Guards builds one inbound guard per enabled provider
func (c *Components) Guards() map[string]*inbound.Guard {
	guards := make(map[string]*inbound.Guard, len(c.Config.Inbound.Providers))
	for _, provider := range c.Config.Inbound.Providers {
		guards[provider] = inbound.NewGuard(inbound.ProviderConfig{
			Provider:  provider,
			Secret:    c.Config.Inbound.Secrets[provider],
			Tolerance: c.Config.Inbound.Tolerance,
			TTL:       c.Config.Inbound.IdempotencyTTL,
		},
			inbound.WithIdempotency(c.Idempotency),
			inbound.WithLogger(c.Logger.WithFields(logrus.Fields{"component": "inbound", "provider": provider})),
			inbound.WithMetrics(c.Metrics),
		)
	}
	return guards
}

// Close releases connections in reverse order of opening
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Shutdown adapts Close to observability.ShutdownFunc
func (c *Components) Shutdown(context.Context) error {
	return c.Close()
}
