package webhooks

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts to be 3, got %d", config.MaxAttempts)
	}
	if config.InitialDelay != 1*time.Second {
		t.Errorf("Expected InitialDelay to be 1s, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay to be 30s, got %v", config.MaxDelay)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("Expected BackoffMultiplier to be 2.0, got %v", config.BackoffMultiplier)
	}
	if config.Jitter != 0.1 {
		t.Errorf("Expected Jitter to be 0.1, got %v", config.Jitter)
	}
}

func TestRetryConfigFor(t *testing.T) {
	t.Run("zero endpoint uses defaults", func(t *testing.T) {
		config := RetryConfigFor(EndpointConfig{URL: "https://example.com"})
		if config != DefaultRetryConfig() {
			t.Errorf("Expected default config, got %+v", config)
		}
	})

	t.Run("endpoint overrides", func(t *testing.T) {
		config := RetryConfigFor(EndpointConfig{
			MaxRetries: 5,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
		})
		if config.MaxAttempts != 5 {
			t.Errorf("Expected MaxAttempts to be 5, got %d", config.MaxAttempts)
		}
		if config.InitialDelay != 200*time.Millisecond {
			t.Errorf("Expected InitialDelay to be 200ms, got %v", config.InitialDelay)
		}
		if config.MaxDelay != 2*time.Second {
			t.Errorf("Expected MaxDelay to be 2s, got %v", config.MaxDelay)
		}
	})
}

func TestNewRetryPolicy(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		policy := NewRetryPolicy(RetryConfig{
			MaxAttempts:       4,
			InitialDelay:      2 * time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 1.5,
			Jitter:            0.2,
		})

		if policy.MaxAttempts() != 4 {
			t.Errorf("Expected MaxAttempts to be 4, got %d", policy.MaxAttempts())
		}
		if policy.config.InitialDelay != 2*time.Second {
			t.Errorf("Expected InitialDelay to be 2s, got %v", policy.config.InitialDelay)
		}
		if policy.config.Jitter != 0.2 {
			t.Errorf("Expected Jitter to be 0.2, got %v", policy.config.Jitter)
		}
	})

	t.Run("non-positive values use defaults", func(t *testing.T) {
		policy := NewRetryPolicy(RetryConfig{
			MaxAttempts:       -1,
			InitialDelay:      -1 * time.Second,
			MaxDelay:          0,
			BackoffMultiplier: 1.0,
			Jitter:            -0.5,
		})

		if policy.MaxAttempts() != DefaultMaxRetries {
			t.Errorf("Expected MaxAttempts to default to %d, got %d", DefaultMaxRetries, policy.MaxAttempts())
		}
		if policy.config.InitialDelay != DefaultBaseDelay {
			t.Errorf("Expected InitialDelay to default to %v, got %v", DefaultBaseDelay, policy.config.InitialDelay)
		}
		if policy.config.MaxDelay != DefaultMaxDelay {
			t.Errorf("Expected MaxDelay to default to %v, got %v", DefaultMaxDelay, policy.config.MaxDelay)
		}
		if policy.config.BackoffMultiplier != 2.0 {
			t.Errorf("Expected BackoffMultiplier to default to 2.0, got %v", policy.config.BackoffMultiplier)
		}
		if policy.config.Jitter != 0.1 {
			t.Errorf("Expected Jitter to default to 0.1, got %v", policy.config.Jitter)
		}
	})

	t.Run("max delay below initial delay is raised", func(t *testing.T) {
		policy := NewRetryPolicy(RetryConfig{
			InitialDelay: 5 * time.Second,
			MaxDelay:     1 * time.Second,
		})
		if policy.config.MaxDelay != 5*time.Second {
			t.Errorf("Expected MaxDelay to be raised to 5s, got %v", policy.config.MaxDelay)
		}
	})
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())
	err := errors.New("HTTP 500: Internal Server Error")

	t.Run("no error should not retry", func(t *testing.T) {
		if policy.ShouldRetry(1, nil) {
			t.Error("Expected ShouldRetry to return false when err is nil")
		}
	})

	t.Run("within max attempts should retry", func(t *testing.T) {
		if !policy.ShouldRetry(1, err) {
			t.Error("Expected ShouldRetry to return true after attempt 1")
		}
		if !policy.ShouldRetry(2, err) {
			t.Error("Expected ShouldRetry to return true after attempt 2")
		}
	})

	t.Run("at max attempts should not retry", func(t *testing.T) {
		if policy.ShouldRetry(3, err) {
			t.Error("Expected ShouldRetry to return false when attempts >= max")
		}
	})

	t.Run("non-retryable error should not retry", func(t *testing.T) {
		if policy.ShouldRetry(1, permanent(errors.New("HTTP 400: Bad Request"))) {
			t.Error("Expected ShouldRetry to return false for a permanent error")
		}
		wrapped := fmt.Errorf("delivery: %w", ErrNonRetryable)
		if policy.ShouldRetry(1, wrapped) {
			t.Error("Expected ShouldRetry to return false for a wrapped ErrNonRetryable")
		}
	})
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	t.Run("exact backoff without jitter", func(t *testing.T) {
		policy := NewRetryPolicy(RetryConfig{
			MaxAttempts:       5,
			InitialDelay:      1 * time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0,
		})

		tests := []struct {
			attempts int
			want     time.Duration
		}{
			{-1, 1 * time.Second},
			{0, 1 * time.Second},
			{1, 1 * time.Second},
			{2, 2 * time.Second},
			{3, 4 * time.Second},
			{5, 16 * time.Second},
			{6, 30 * time.Second},
			{20, 30 * time.Second},
		}
		for _, tt := range tests {
			if got := policy.NextRetryDelay(tt.attempts); got != tt.want {
				t.Errorf("NextRetryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
			}
		}
	})

	t.Run("jittered delay stays within bounds", func(t *testing.T) {
		policy := NewRetryPolicy(DefaultRetryConfig())

		for i := 0; i < 200; i++ {
			first := policy.NextRetryDelay(1)
			if first < 1*time.Second || first > 1100*time.Millisecond {
				t.Fatalf("attempt 1 delay %v outside [1s, 1.1s]", first)
			}
			second := policy.NextRetryDelay(2)
			if second < 1800*time.Millisecond || second > 2200*time.Millisecond {
				t.Fatalf("attempt 2 delay %v outside [1.8s, 2.2s]", second)
			}
			capped := policy.NextRetryDelay(10)
			if capped < 27*time.Second || capped > 30*time.Second {
				t.Fatalf("attempt 10 delay %v outside [27s, 30s]", capped)
			}
		}
	})
}

func TestPermanentError(t *testing.T) {
	cause := errors.New("HTTP 404: Not Found")
	err := permanent(cause)

	if err.Error() != cause.Error() {
		t.Errorf("Expected message %q, got %q", cause.Error(), err.Error())
	}
	if !errors.Is(err, ErrNonRetryable) {
		t.Error("Expected permanent error to match ErrNonRetryable")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected permanent error to match its cause")
	}
}

func TestIsPermanentStatus(t *testing.T) {
	tests := map[int]bool{
		200: false,
		400: true,
		401: true,
		404: true,
		408: false,
		422: true,
		429: false,
		500: false,
		503: false,
	}
	for code, want := range tests {
		if got := isPermanentStatus(code); got != want {
			t.Errorf("isPermanentStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
