package idempotency

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

const (
	defaultCacheSize = 10000
	defaultCacheTTL  = 5 * time.Minute
)

// Service answers replay questions for inbound webhooks. Store failures are
// logged and never returned: idempotency is best effort and must not block
// processing.
type Service struct {
	store   Store
	cache   *expirable.LRU[string, Record]
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(logger logrus.FieldLogger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records replays and store errors
func WithMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithCache sizes the in-process cache of known processed ids. size 0
// disables it.
func WithCache(size int, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if size <= 0 {
			s.cache = nil
			return
		}
		s.cache = expirable.NewLRU[string, Record](size, nil, ttl)
	}
}

// NewService creates a service over store
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		cache: expirable.NewLRU[string, Record](defaultCacheSize, nil, defaultCacheTTL),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger)
	return s
}

// WasProcessed reports whether eventID was processed in namespace and has not
// expired. Expired records are purged first.
func (s *Service) WasProcessed(ctx context.Context, eventID, namespace string) Status {
	now := s.now()
	if rec, ok := s.cached(namespace, eventID, now); ok {
		return processed(rec)
	}

	s.cleanup(ctx, now)

	rec, err := s.store.Get(ctx, namespace, eventID, now)
	if err != nil {
		s.storeError("get", err, namespace, eventID)
		return Status{EventID: eventID}
	}
	if rec == nil {
		return Status{EventID: eventID}
	}
	s.remember(*rec)
	return processed(*rec)
}

// MarkProcessed records eventID with expiry now+ttl (DefaultTTL when zero).
// A duplicate counts as success. Returns false only on store failure.
func (s *Service) MarkProcessed(ctx context.Context, eventID, namespace string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()
	rec := Record{
		Namespace:   namespace,
		EventID:     eventID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(ttl),
	}

	inserted, err := s.store.Insert(ctx, rec)
	if err != nil {
		s.storeError("insert", err, namespace, eventID)
		return false
	}
	if inserted {
		s.remember(rec)
	} else {
		s.logger.WithFields(logrus.Fields{
			"namespace": namespace,
			"event_id":  eventID,
		}).Debug("Event already marked processed")
	}
	return true
}

// CheckAndMarkProcessed extracts the event id from the request and claims it
// in one store operation. The first delivery gets WasProcessed=false; a
// duplicate within the TTL gets WasProcessed=true with the original
// ProcessedAt. Unrecognized payloads and store failures are let through.
func (s *Service) CheckAndMarkProcessed(ctx context.Context, r *http.Request, body []byte, cfg Config) Status {
	var header http.Header
	if r != nil {
		header = r.Header
	}

	namespace := cfg.namespace()
	eventID := ExtractEventID(cfg.Provider, header, body)
	if eventID == "" {
		s.logger.WithFields(logrus.Fields{
			"provider":  cfg.Provider,
			"namespace": namespace,
		}).Warn("Could not extract event id from webhook payload, skipping idempotency check")
		return Status{}
	}

	now := s.now()
	if rec, ok := s.cached(namespace, eventID, now); ok {
		s.replayed(namespace)
		return processed(rec)
	}

	s.cleanup(ctx, now)

	rec := Record{
		Namespace:   namespace,
		EventID:     eventID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(cfg.ttl()),
	}
	claimed, existing, err := s.store.Claim(ctx, rec)
	if err != nil {
		s.storeError("claim", err, namespace, eventID)
		return Status{EventID: eventID}
	}

	if claimed {
		s.remember(rec)
		return Status{EventID: eventID}
	}

	s.replayed(namespace)
	if existing == nil {
		// holder expired between the claim and the read
		return Status{WasProcessed: true, EventID: eventID}
	}
	s.remember(*existing)
	return processed(*existing)
}

// PurgeExpired deletes expired records and returns how many went. Store
// errors are logged and count as zero.
func (s *Service) PurgeExpired(ctx context.Context) int64 {
	return s.cleanup(ctx, s.now())
}

func (s *Service) cleanup(ctx context.Context, now time.Time) int64 {
	n, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		s.storeError("delete_expired", err, "", "")
		return 0
	}
	if n > 0 {
		s.logger.WithField("deleted", n).Debug("Purged expired idempotency records")
	}
	return n
}

func (s *Service) cached(namespace, eventID string, now time.Time) (Record, bool) {
	if s.cache == nil {
		return Record{}, false
	}
	key := memoryKey(namespace, eventID)
	rec, ok := s.cache.Get(key)
	if !ok {
		return Record{}, false
	}
	if rec.Expired(now) {
		s.cache.Remove(key)
		return Record{}, false
	}
	return rec, true
}

func (s *Service) remember(rec Record) {
	if s.cache != nil {
		s.cache.Add(memoryKey(rec.Namespace, rec.EventID), rec)
	}
}

func (s *Service) replayed(namespace string) {
	if s.metrics != nil {
		s.metrics.IdempotencyReplaysTotal.WithLabelValues(namespace).Inc()
	}
}

func (s *Service) storeError(op string, err error, namespace, eventID string) {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"operation": op,
		"namespace": namespace,
		"event_id":  eventID,
	}).Error("Idempotency store error")
	if s.metrics != nil {
		s.metrics.IdempotencyErrorsTotal.WithLabelValues(op).Inc()
	}
}

func processed(rec Record) Status {
	at := rec.ProcessedAt
	return Status{WasProcessed: true, EventID: rec.EventID, ProcessedAt: &at}
}
