package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Submit after Shutdown or parent cancellation
var ErrPoolClosed = errors.New("worker pool shut down")

// WorkerPool runs submitted tasks on a fixed number of goroutines. Task
// errors, including recovered panics, are delivered on Errors.
type WorkerPool struct {
	taskName string
	timeout  time.Duration

	tasks    chan func(context.Context) error
	errs     chan error
	stopping chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewWorkerPool starts workers goroutines (at least one). Each task runs
// with its own timeout.
//
//	pool := NewWorkerPool(ctx, 2, "maintenance", 10*time.Minute)
//	defer pool.Shutdown(30 * time.Second)
//	pool.Submit(job.Run)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		tasks:    make(chan func(context.Context) error, workers*2),
		errs:     make(chan error, workers*10),
		stopping: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues fn, blocking while the queue is full
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- fn:
		return nil
	case <-p.stopping:
		return ErrPoolClosed
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued and
// running tasks to finish. Running tasks are cancelled after the timeout.
// Only the first call has any effect.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopping)

		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
		}
		p.cancel()
	})
	return err
}

// Errors receives task errors. Errors are dropped, with a warning, when
// nobody drains the channel.
func (p *WorkerPool) Errors() <-chan error {
	return p.errs
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := runTask(p.ctx, p.timeout, p.taskName, fn); err != nil {
				p.report(err)
			}
		}
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errs <- err:
	default:
		currentLogger().WithError(err).WithField("task", p.taskName).Warn("Worker error channel full, dropping error")
	}
}
