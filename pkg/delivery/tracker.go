package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

// DefaultRecentLimit is the page size when none is given
const DefaultRecentLimit = 50

// Tracker records delivery outcomes and serves the operator views over them.
// Write failures are logged and swallowed, read failures yield empty results.
type Tracker struct {
	store    Store
	archiver Archiver
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	now      func() time.Time
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithLogger sets the tracker logger
func WithLogger(logger logrus.FieldLogger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics counts tracker errors and deleted rows
func WithMetrics(metrics *observability.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = metrics }
}

// WithArchiver archives rows before CleanupOldRecords deletes them
func WithArchiver(archiver Archiver) TrackerOption {
	return func(t *Tracker) { t.archiver = archiver }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over store
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = observability.OrNop(t.logger)
	return t
}

// LogDelivery appends d and returns its id, or "" if the write failed.
// ID and CreatedAt are filled in when empty.
func (t *Tracker) LogDelivery(ctx context.Context, d Delivery) string {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = t.now().UTC()
	}

	if err := t.store.Insert(ctx, d); err != nil {
		t.storeError("insert", err, logrus.Fields{
			"event_id":   d.EventID,
			"event_type": d.EventType,
			"endpoint":   d.Endpoint,
		})
		return ""
	}
	return d.ID
}

// GetMetrics aggregates the deliveries matching filter. Limit and Offset are
// ignored.
func (t *Tracker) GetMetrics(ctx context.Context, filter Filter) Metrics {
	filter.Limit, filter.Offset = 0, 0
	deliveries, err := t.store.List(ctx, filter)
	if err != nil {
		t.storeError("metrics", err, nil)
		return Metrics{}
	}
	return ComputeMetrics(deliveries)
}

// GetRecentDeliveries returns up to limit matching deliveries, newest first
func (t *Tracker) GetRecentDeliveries(ctx context.Context, limit int, filter Filter) []Delivery {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	filter.Limit = limit
	deliveries, err := t.store.List(ctx, filter)
	if err != nil {
		t.storeError("recent", err, nil)
		return []Delivery{}
	}
	return deliveries
}

// GetErrorAnalysis groups the failed deliveries matching filter by error
// message
func (t *Tracker) GetErrorAnalysis(ctx context.Context, filter Filter) []ErrorGroup {
	failed := false
	filter.Success = &failed
	filter.Limit, filter.Offset = 0, 0
	deliveries, err := t.store.List(ctx, filter)
	if err != nil {
		t.storeError("error_analysis", err, nil)
		return []ErrorGroup{}
	}
	return AnalyzeErrors(deliveries)
}

// CleanupOldRecords deletes rows older than olderThanDays (default 30) and
// returns how many were removed. With an archiver configured the rows are
// archived first, and nothing is deleted if archiving fails.
func (t *Tracker) CleanupOldRecords(ctx context.Context, olderThanDays int) int64 {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := t.now().UTC().AddDate(0, 0, -olderThanDays)
	logger := t.logger.WithFields(logrus.Fields{
		"older_than_days": olderThanDays,
		"cutoff":          cutoff,
	})

	if t.archiver != nil {
		end := cutoff.Add(-time.Nanosecond)
		old, err := t.store.List(ctx, Filter{End: &end})
		if err != nil {
			t.storeError("archive_list", err, nil)
			return 0
		}
		if len(old) > 0 {
			if err := t.archiver.Archive(ctx, old); err != nil {
				t.storeError("archive", err, logrus.Fields{"rows": len(old)})
				return 0
			}
			logger.WithField("rows", len(old)).Info("Archived old delivery records")
		}
	}

	deleted, err := t.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.storeError("cleanup", err, nil)
		return 0
	}
	if t.metrics != nil {
		t.metrics.DeliveryRecordsDeletedTotal.Add(float64(deleted))
	}
	logger.WithField("deleted", deleted).Info("Cleaned up old delivery records")
	return deleted
}

func (t *Tracker) storeError(op string, err error, fields logrus.Fields) {
	t.logger.WithError(err).WithField("operation", op).WithFields(fields).Error("Delivery tracker error")
	if t.metrics != nil {
		t.metrics.DeliveryTrackerErrorsTotal.WithLabelValues(op).Inc()
	}
}
