// Package storage opens the backing services: the Postgres pool used by the
// idempotency and delivery stores, the Redis client used by the rate limiter,
// idempotency store and emission queue, and the S3 client that receives
// delivery archives.
//
// Table DDL lives with each store (idempotency.NewPostgresStore,
// delivery.NewPostgresStore), not here.
package storage
