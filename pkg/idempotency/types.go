package idempotency

import (
	"context"
	"time"
)

// Providers with known event id locations
const (
	ProviderStripe  = "stripe"
	ProviderGitHub  = "github"
	ProviderGeneric = "generic"
)

// DefaultTTL is how long a processed event id is remembered
const DefaultTTL = 24 * time.Hour

// Record marks one event as processed within a namespace
type Record struct {
	Namespace   string    `json:"namespace"`
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the record no longer suppresses duplicates at now
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Status is the answer to "was this event already processed"
type Status struct {
	WasProcessed bool       `json:"was_processed"`
	EventID      string     `json:"event_id,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// Config selects how an inbound request is deduplicated
type Config struct {
	// Provider picks the event id heuristic (stripe, github, generic)
	Provider string
	// Namespace isolates providers sharing one store; defaults to Provider
	Namespace string
	// TTL defaults to DefaultTTL
	TTL time.Duration
}

func (c Config) namespace() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	if c.Provider != "" {
		return c.Provider
	}
	return ProviderGeneric
}

func (c Config) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

// Store persists idempotency records keyed by (namespace, event id)
type Store interface {
	// DeleteExpired removes records whose expiry is at or before now
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// Get returns the unexpired record, or nil when absent
	Get(ctx context.Context, namespace, eventID string, now time.Time) (*Record, error)
	// Insert adds rec unless the key exists. A duplicate is not an error.
	Insert(ctx context.Context, rec Record) (inserted bool, err error)
	// Claim atomically inserts rec, taking over an expired record for the
	// same key. When the key is held by an unexpired record, claimed is false
	// and existing is that record.
	Claim(ctx context.Context, rec Record) (claimed bool, existing *Record, err error)
}
