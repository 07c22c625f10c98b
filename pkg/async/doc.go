// Package async runs background work without leaking goroutines or crashing
// the process on a panic.
//
// SafeGo is fire and forget: the emitter's EmitAsync uses it so a caller
// never waits on delivery. WorkerPool bounds concurrency for long-lived
// producers such as the worker's cron jobs, and reports failures on Errors.
// Batch fans one slice out over a limited number of goroutines and returns
// every failure; the stream consumer uses it per batch of messages.
//
// Panics become *PanicError values. Errors from SafeGo are logged through
// the logger set with SetLogger.
package async
