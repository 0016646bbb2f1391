// Signal-gated buffering: one background export after a one-shot flush signal
package ddtrace

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// SignalBuffer exports everything it holds exactly once, after Signal.
//
// Spans wait in a bounded channel. A background task waits for the signal,
// drains the channel without blocking, performs one export and exits. Spans
// offered after the drain started are rejected with ErrBufferClosed, and a
// span that races the drain may be left in the channel and never exported.
type SignalBuffer struct {
	spans    chan SpanRecord
	signal   chan struct{}
	once     sync.Once
	closed   atomic.Bool
	exporter BatchExporter
	timeout  time.Duration
	logger   *zap.Logger
	task     *Task
}

var _ Buffer = (*SignalBuffer)(nil)

// NewSignalBuffer starts the background task through the configured Runner.
// A non-positive capacity uses DefaultBufferCapacity.
func NewSignalBuffer(exp BatchExporter, capacity int, opts ...Option) *SignalBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	o := newOptions(opts)
	b := &SignalBuffer{
		spans:    make(chan SpanRecord, capacity),
		signal:   make(chan struct{}),
		exporter: exp,
		timeout:  o.exportTimeout,
		logger:   o.logger,
	}
	b.task = startTask(o.runner, b.run)
	return b
}

func (b *SignalBuffer) run() error {
	<-b.signal
	b.closed.Store(true)
	batch := b.drain()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.logger.Debug("exporting buffered spans", zap.Int("spans", len(batch)))
	if err := b.exporter.Export(ctx, batch); err != nil {
		b.logger.Warn("dropping spans after failed export", zap.Int("spans", len(batch)), zap.Error(err))
		otel.Handle(err)
		return err
	}
	return nil
}

func (b *SignalBuffer) drain() []SpanRecord {
	var batch []SpanRecord
	for {
		select {
		case s := <-b.spans:
			batch = append(batch, s)
		default:
			return batch
		}
	}
}

// Accept enqueues s, failing rather than waiting when the channel is full.
func (b *SignalBuffer) Accept(s SpanRecord) error {
	if b.closed.Load() {
		return &LockError{Op: "accept span", Err: ErrBufferClosed}
	}
	select {
	case b.spans <- s:
		return nil
	default:
		return &LockError{Op: "accept span", Err: ErrBufferFull}
	}
}

// Signal fires the one-shot flush signal. It reports whether this call fired it.
func (b *SignalBuffer) Signal() bool {
	fired := false
	b.once.Do(func() {
		close(b.signal)
		fired = true
	})
	return fired
}

// Flush fires the signal. Only the first call schedules an export.
func (b *SignalBuffer) Flush(context.Context) (Outcome, error) {
	scheduled := b.Signal()
	return Outcome{Scheduled: scheduled, Remaining: len(b.spans)}, nil
}

// Shutdown fires the signal and waits for the background export to finish.
func (b *SignalBuffer) Shutdown(ctx context.Context) error {
	b.Signal()
	return b.task.Wait(ctx)
}

// Task returns the handle on the background export.
func (b *SignalBuffer) Task() *Task {
	return b.task
}

// Len returns the number of spans waiting in the channel.
func (b *SignalBuffer) Len() int {
	return len(b.spans)
}
