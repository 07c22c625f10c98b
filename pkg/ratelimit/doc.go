// Package ratelimit limits inbound requests per tenant and client IP.
//
// Each request is counted in a main window and an optional burst window.
// Bots, detected from the user agent or flagged by the caller, get limits
// scaled down by the multiplier of the route class they hit. Denials add to
// a violation count that survives window resets and feeds the risk level.
//
// Entries live in a Store: MemoryStore for a single instance or RedisStore
// to share limits across instances.
//
//	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(client, ""),
//		ratelimit.WithLogger(logger), ratelimit.WithMetrics(metrics))
//	router.Use(ratelimit.NewMiddleware(limiter, ratelimit.DefaultConfig()).Handler)
//
// The middleware lets requests through when the store fails.
package ratelimit
