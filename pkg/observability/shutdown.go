package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc is one step of a graceful shutdown
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP server and then runs the registered steps
// in registration order, so stores close after the work that uses them.
type ShutdownManager struct {
	logger          logrus.FieldLogger
	server          *http.Server
	steps           []shutdownStep
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// NewShutdownManager creates a shutdown manager. server may be nil for
// processes that do not serve HTTP.
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{
		logger:          OrNop(logger),
		server:          server,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc appends a named step
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then runs
// Shutdown
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.WithField("signal", sig.String()).Info("Received signal, starting graceful shutdown")
	case <-ctx.Done():
		sm.logger.Info("Context done, starting graceful shutdown")
	}

	return sm.Shutdown()
}

// Shutdown stops the HTTP server, then runs every step one after another
// under the shutdown timeout. A failing step does not stop later steps; once
// the timeout passes the remaining steps are skipped.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	steps := make([]shutdownStep, len(sm.steps))
	copy(steps, sm.steps)
	sm.mu.Unlock()

	for i, step := range steps {
		if ctx.Err() != nil {
			sm.logger.WithField("skipped", len(steps)-i).Warn("Shutdown timeout reached, skipping remaining steps")
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %q", step.name))
			break
		}

		start := time.Now()
		err := sm.runStep(ctx, step)
		logger := sm.logger.WithFields(logrus.Fields{
			"step":     step.name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			logger.WithError(err).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		logger.Debug("Shutdown step complete")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

// runStep returns when the step does or when ctx expires, whichever is first
func (sm *ShutdownManager) runStep(ctx context.Context, step shutdownStep) error {
	done := make(chan error, 1)
	go func() {
		defer RecoverPanicWithCallback(sm.logger, "shutdown "+step.name, func() {
			done <- errors.New("panic during shutdown step")
		})
		done <- step.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
