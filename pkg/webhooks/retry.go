package webhooks

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrNonRetryable marks delivery failures that another attempt cannot fix:
// 4xx responses other than 408 and 429, a missing secret or a malformed URL.
var ErrNonRetryable = errors.New("non-retryable delivery error")

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	// Jitter is the fraction each delay is randomly moved by, up or down
	Jitter float64 `json:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       DefaultMaxRetries,
		InitialDelay:      DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// RetryConfigFor derives the retry configuration of an endpoint
func RetryConfigFor(ep EndpointConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = ep.maxRetries()
	if ep.BaseDelay > 0 {
		cfg.InitialDelay = ep.BaseDelay
	}
	if ep.MaxDelay > 0 {
		cfg.MaxDelay = ep.MaxDelay
	}
	return cfg
}

// RetryPolicy implements exponential backoff with jitter
type RetryPolicy struct {
	config RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryPolicy creates a new retry policy
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxRetries
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Jitter < 0 || config.Jitter >= 1 {
		config.Jitter = 0.1
	}

	return &RetryPolicy{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaxAttempts is the total number of attempts, the first included
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// ShouldRetry reports whether another attempt follows a failed one
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay is the wait after the given number of failed attempts:
// initialDelay * multiplier^(attempts-1), moved by up to ±jitter and clamped
// to [initialDelay, maxDelay]
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		attempts = 1
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		delay = float64(p.config.MaxDelay)
	}

	if p.config.Jitter > 0 {
		p.mu.Lock()
		offset := (p.rng.Float64()*2 - 1) * p.config.Jitter
		p.mu.Unlock()
		delay += delay * offset
	}

	if delay < float64(p.config.InitialDelay) {
		return p.config.InitialDelay
	}
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}
