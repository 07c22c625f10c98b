// Package contextkeys holds every context key shared across packages.
//
// Keys live here rather than in the packages that set them so readers and
// writers in different packages agree on one typed key:
//
//	ctx = contextkeys.WithEventID(ctx, eventID)
//	eventID := contextkeys.GetEventID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string.
	// Set by: httputil.RequestIDMiddleware
	// Used by: loggers, inbound guard, rate limit middleware
	RequestIDKey Key = "request_id"

	// LoggerKey contains a logrus.FieldLogger.
	// Set by: observability.WithLogger
	// Used by: observability.FromContext
	LoggerKey Key = "logger"

	// EventIDKey contains the verified inbound event ID.
	// Set by: inbound.Guard after signature and replay checks
	// Used by: inbound handlers
	EventIDKey Key = "event_id"

	// TenantKey contains the tenant whose rate limits were applied.
	// Set by: ratelimit.Middleware on allowed requests
	TenantKey Key = "tenant_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithEventID adds a verified event ID to the context
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// GetEventID retrieves the event ID from context
func GetEventID(ctx context.Context) string {
	return stringValue(ctx, EventIDKey)
}

// WithTenant adds the rate limit tenant to the context
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the rate limit tenant from context
func GetTenant(ctx context.Context) string {
	return stringValue(ctx, TenantKey)
}

func stringValue(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
