// Span buffering and the background work contract shared by both flush strategies.
//
// SignalBuffer holds spans in a bounded channel and exports them once, from a
// background task, after a one-shot signal. ThresholdBuffer holds spans in a
// growable slice and exports the oldest threshold-sized batch on every Flush.
package ddtrace

import (
	"context"
)

// Buffer accepts finished spans and exports them on Flush.
type Buffer interface {
	// Accept enqueues a span without waiting for I/O.
	Accept(s SpanRecord) error
	// Flush triggers an export. What it exports depends on the strategy.
	Flush(ctx context.Context) (Outcome, error)
	// Shutdown exports what remains and stops accepting spans.
	Shutdown(ctx context.Context) error
}

// Outcome describes what a Flush did.
type Outcome struct {
	// Exported is the number of spans delivered by this call.
	Exported int
	// Dropped is the number of spans removed from the buffer whose export failed.
	Dropped int
	// Remaining is the number of spans still buffered after this call.
	Remaining int
	// Scheduled reports that the call started a background export.
	Scheduled bool
}

// Runner starts work in the background. It must call work exactly once.
// The host decides how work runs; the buffer learns that work has finished
// when work returns.
type Runner func(work func())

// GoRunner runs work on a new goroutine.
func GoRunner(work func()) {
	go work()
}

// Task is a handle on background work started through a Runner.
type Task struct {
	done chan struct{}
	err  error
}

func startTask(run Runner, fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	run(func() {
		defer close(t.done)
		t.err = fn()
	})
	return t
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
