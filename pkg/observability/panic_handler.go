package observability

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack trace.
// Call it in a defer statement; the panic is not re-raised.
//
//	func deliver() {
//	    defer observability.RecoverPanic(logger, "webhook delivery")
//	    // ...
//	}
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		OrNop(logger).WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and runs callback.
// The callback only runs when a panic occurred.
func RecoverPanicWithCallback(logger logrus.FieldLogger, context string, callback func()) {
	if r := recover(); r != nil {
		OrNop(logger).WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}
