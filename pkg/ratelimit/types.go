package ratelimit

import (
	"context"
	"errors"
	"time"
)

// RiskLevel classifies a client from its recent behavior
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Block reasons reported on denied results
const (
	BlockReasonIPBlocked     = "ip_blocked"
	BlockReasonBurstExceeded = "burst_limit_exceeded"
	BlockReasonRateExceeded  = "rate_limit_exceeded"
)

// ViolatorRetention is how long an expired entry with violations is kept
const ViolatorRetention = time.Hour

// ErrTxConflict is returned when an optimistic update keeps losing races
var ErrTxConflict = errors.New("rate limit entry update conflicted")

// Config sets the limits for one tenant
type Config struct {
	// Window and MaxRequests bound the main window
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	// BurstWindow and BurstMax bound the short window. Zero disables it.
	BurstWindow time.Duration `yaml:"burst_window" json:"burst_window"`
	BurstMax    int           `yaml:"burst_max" json:"burst_max"`
	// BotMultiplier overrides the route class multiplier when positive
	BotMultiplier float64 `yaml:"bot_multiplier" json:"bot_multiplier"`
}

// DefaultConfig allows 100 requests a minute with bursts of 20 per 10s
func DefaultConfig() Config {
	return Config{
		Window:      time.Minute,
		MaxRequests: 100,
		BurstWindow: 10 * time.Second,
		BurstMax:    20,
	}
}

func (c Config) burstEnabled() bool {
	return c.BurstWindow > 0 && c.BurstMax > 0
}

// RequestInfo describes the request being checked
type RequestInfo struct {
	IP        string
	UserAgent string
	// IsBot forces bot treatment; a bot user agent also sets it
	IsBot bool
	Route string
}

// Entry is the counter state of one key for one window. Violations survive
// window resets until the entry is cleaned up.
type Entry struct {
	Count         int        `json:"count"`
	ResetTime     time.Time  `json:"reset_time"`
	Violations    int        `json:"violations"`
	LastViolation *time.Time `json:"last_violation,omitempty"`
	IsBot         bool       `json:"is_bot"`
	UserAgent     string     `json:"user_agent,omitempty"`
	FirstSeen     time.Time  `json:"first_seen"`
}

// Expired reports whether the window of e has passed at now
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ResetTime)
}

// RetainUntil is when e may be deleted: its reset time, plus
// ViolatorRetention when it has violations
func (e *Entry) RetainUntil() time.Time {
	if e.Violations > 0 {
		return e.ResetTime.Add(ViolatorRetention)
	}
	return e.ResetTime
}

// Result is the decision for one request
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	// RetryAfter is whole seconds until the denying window resets. Zero when
	// allowed.
	RetryAfter  int       `json:"retry_after,omitempty"`
	Violations  int       `json:"violations"`
	IsBot       bool      `json:"is_bot"`
	RiskLevel   RiskLevel `json:"risk_level"`
	BlockReason string    `json:"block_reason,omitempty"`
}

// UpdateFunc receives the stored entry (nil when absent) and returns the
// entry to store
type UpdateFunc func(current *Entry) *Entry

// Store holds rate limit entries and the IP block list
type Store interface {
	// Update applies fn to the entry at key atomically and returns the
	// stored result. now is the caller's clock, used to expire the entry
	// at its RetainUntil.
	Update(ctx context.Context, key string, now time.Time, fn UpdateFunc) (*Entry, error)
	// Cleanup deletes entries past their RetainUntil
	Cleanup(ctx context.Context, now time.Time) (int, error)
	Block(ctx context.Context, ip string) error
	Unblock(ctx context.Context, ip string) error
	IsBlocked(ctx context.Context, ip string) (bool, error)
}
