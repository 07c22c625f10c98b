package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	loggerMu sync.RWMutex
	logger   logrus.FieldLogger = logrus.StandardLogger()
)

// SetLogger sets the logger used for task errors and recovered panics
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		return
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func currentLogger() logrus.FieldLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// PanicError is returned in place of a task's error when the task panicked
type PanicError struct {
	Task  string
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Task, e.Value)
}

// runTask runs fn under a timeout derived from parent and turns a panic into
// a *PanicError. A parent that is already done short-circuits.
func runTask(parent context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("%s: %w", taskName, err)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: taskName, Value: r, Stack: string(debug.Stack())}
		}
	}()

	return fn(ctx)
}

func logTaskError(taskName string, err error) {
	if pe, ok := err.(*PanicError); ok {
		currentLogger().WithFields(logrus.Fields{
			"task":  taskName,
			"panic": pe.Value,
			"stack": pe.Stack,
		}).Error("PANIC recovered in background task")
		return
	}
	currentLogger().WithError(err).WithField("task", taskName).Error("Background task failed")
}

// SafeGo runs fn in a goroutine bounded by timeout. Errors and panics are
// logged, never propagated.
//
//	SafeGo(ctx, 2*time.Minute, "webhook emission", func(ctx context.Context) error {
//	    emitter.Emit(ctx, event)
//	    return nil
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		if err := runTask(parentCtx, timeout, taskName, fn); err != nil {
			logTaskError(taskName, err)
		}
	}()
}
