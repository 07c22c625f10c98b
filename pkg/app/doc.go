// Package app assembles herohooks from a config.Config: it opens the
// selected Postgres and Redis backends, builds the delivery tracker,
// idempotency service, rate limiter, emitter and queue, and exposes the HTTP
// handlers and maintenance jobs that cmd/herohooks and cmd/herohooks-worker
// run.
package app
