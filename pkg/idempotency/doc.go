// Package idempotency remembers processed inbound webhook events so replays
// are acknowledged instead of reprocessed.
//
// Records are keyed by (namespace, event id) and expire after a TTL (24h by
// default). Stores:
//
//   - PostgresStore: webhook_idempotency table; check-and-mark is a single
//     INSERT ... ON CONFLICT DO UPDATE ... WHERE expired statement
//   - RedisStore: SET NX PX, expiry handled by Redis
//   - MemoryStore: process local, for development and tests
//
// Service fronts a store with an expirable LRU of recently seen ids:
//
//	svc := idempotency.NewService(store, idempotency.WithLogger(logger))
//	status := svc.CheckAndMarkProcessed(ctx, r, body, idempotency.Config{Provider: "stripe"})
//	if status.WasProcessed {
//		// acknowledge with status.ProcessedAt
//	}
package idempotency
