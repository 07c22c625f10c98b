package async

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Batch calls fn for every item with at most workers running at once and
// returns every error, in no particular order. Unlike a plain errgroup one
// failure does not stop the rest. Items not yet started when ctx is done
// fail with the context error.
//
//	errs := Batch(ctx, messages, 4, "webhook queue", time.Minute, q.handle)
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() error {
			err := runTask(ctx, timeout, taskName, func(ctx context.Context) error {
				return fn(ctx, item)
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
