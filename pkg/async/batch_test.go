package async

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatch(t *testing.T) {
	var sum atomic.Int64
	errs := Batch(context.Background(), []int{1, 2, 3, 4, 5}, 2, "sum", time.Second,
		func(ctx context.Context, n int) error {
			sum.Add(int64(n))
			return nil
		})

	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
	if sum.Load() != 15 {
		t.Errorf("Expected sum 15, got %d", sum.Load())
	}
}

func TestBatch_CollectsEveryError(t *testing.T) {
	var ran atomic.Int32
	errs := Batch(context.Background(), []int{1, 2, 3, 4}, 2, "even", time.Second,
		func(ctx context.Context, n int) error {
			ran.Add(1)
			if n%2 == 0 {
				return fmt.Errorf("item %d failed", n)
			}
			return nil
		})

	// One failure does not stop the rest
	assert.Equal(t, int32(4), ran.Load())
	assert.Len(t, errs, 2)
}

func TestBatch_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	Batch(context.Background(), make([]struct{}, 12), 3, "bounded", time.Second,
		func(ctx context.Context, _ struct{}) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	errs := Batch(ctx, []int{1, 2, 3}, 2, "cancelled", time.Second,
		func(ctx context.Context, n int) error {
			ran.Add(1)
			return nil
		})

	assert.Zero(t, ran.Load())
	assert.Len(t, errs, 3)
	for _, err := range errs {
		assert.True(t, errors.Is(err, context.Canceled))
	}
}

func TestBatch_RecoversPanics(t *testing.T) {
	errs := Batch(context.Background(), []string{"ok", "panic"}, 2, "mixed", time.Second,
		func(ctx context.Context, s string) error {
			if s == "panic" {
				panic("malformed message")
			}
			return nil
		})

	if assert.Len(t, errs, 1) {
		var pe *PanicError
		assert.ErrorAs(t, errs[0], &pe)
	}
}

func TestBatch_EmptyInput(t *testing.T) {
	assert.Empty(t, Batch(context.Background(), nil, 4, "empty", time.Second,
		func(ctx context.Context, n int) error { return errors.New("unreachable") }))
}
