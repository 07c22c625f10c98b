package app

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Job is a periodic maintenance task run by herohooks-worker
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// MaintenanceJobs lists the delivery retention and idempotency cleanup jobs.
// Rate limit entries are cleaned by the process that owns them.
func (c *Components) MaintenanceJobs() []Job {
	return []Job{
		{
			Name:     "delivery-retention",
			Schedule: c.Config.Worker.RetentionSchedule,
			Run: func(ctx context.Context) error {
				deleted := c.Tracker.CleanupOldRecords(ctx, c.Config.Worker.RetentionDays)
				c.Logger.WithFields(logrus.Fields{
					"job":            "delivery-retention",
					"deleted":        deleted,
					"retention_days": c.Config.Worker.RetentionDays,
				}).Info("Delivery retention completed")
				return nil
			},
		},
		{
			Name:     "idempotency-cleanup",
			Schedule: c.Config.Worker.IdempotencyCleanupSchedule,
			Run: func(ctx context.Context) error {
				purged := c.Idempotency.PurgeExpired(ctx)
				c.Logger.WithFields(logrus.Fields{
					"job":    "idempotency-cleanup",
					"purged": purged,
				}).Debug("Idempotency cleanup completed")
				return nil
			},
		},
	}
}
