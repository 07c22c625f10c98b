// Package delivery keeps the append-only log of outbound webhook deliveries
// and the operator views computed from it.
//
// One row is written per (event, endpoint) after retries are exhausted or the
// endpoint accepts the payload; RetryCount records how many retries it took.
//
// Stores:
//
//   - PostgresStore: webhook_deliveries table, headers as JSONB
//   - MemoryStore: bounded, evicts the oldest 10% when full
//
// Tracker wraps a store. Its writes never fail the caller and its reads
// return empty results on error, so a broken dashboard cannot block delivery:
//
//	tracker := delivery.NewTracker(store, delivery.WithLogger(logger))
//	tracker.LogDelivery(ctx, delivery.Delivery{EventType: "lead_captured", Success: true})
//	m := tracker.GetMetrics(ctx, delivery.Filter{EventType: "lead_captured"})
//
// CleanupOldRecords enforces retention. With an ObjectArchiver over S3 the
// rows are uploaded as JSON lines before they are deleted.
package delivery
