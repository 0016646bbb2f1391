// SDK span processors backed by the two buffer strategies.
// Failures while accepting spans go to the OTel global error handler, since
// OnEnd has no way to return them.
package ddtrace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// WorkerSpanProcessor feeds a SignalBuffer. Spans are exported once, when
// Flush or Shutdown is called.
type WorkerSpanProcessor struct {
	buf     *SignalBuffer
	logger  *zap.Logger
	metrics *exportMetrics
}

var _ sdktrace.SpanProcessor = (*WorkerSpanProcessor)(nil)

// NewWorkerSpanProcessor returns a processor that buffers into buf.
func NewWorkerSpanProcessor(buf *SignalBuffer, opts ...Option) (*WorkerSpanProcessor, error) {
	o := newOptions(opts)
	metrics, err := newExportMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}
	return &WorkerSpanProcessor{buf: buf, logger: o.logger, metrics: metrics}, nil
}

// OnStart does nothing.
func (p *WorkerSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd buffers sampled spans.
func (p *WorkerSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsSampled() {
		return
	}
	if err := p.buf.Accept(RecordFromSpan(s)); err != nil {
		reportDrop(p.logger, p.metrics, err)
	}
}

// Flush signals the background task to export. Only the first call has an effect.
func (p *WorkerSpanProcessor) Flush() bool {
	return p.buf.Signal()
}

// ForceFlush always fails: only the background task can drain the buffer.
func (p *WorkerSpanProcessor) ForceFlush(context.Context) error {
	return ErrUnsupportedOperation
}

// Shutdown signals the background task and waits for its export.
func (p *WorkerSpanProcessor) Shutdown(ctx context.Context) error {
	return p.buf.Shutdown(ctx)
}

// ThresholdSpanProcessor feeds a ThresholdBuffer and exports a batch in the
// background whenever a full batch is buffered. With WithFlushInterval it
// also flushes on a timer.
type ThresholdSpanProcessor struct {
	buf      *ThresholdBuffer
	run      Runner
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *exportMetrics
	flushing atomic.Bool
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	stopped bool
}

var _ sdktrace.SpanProcessor = (*ThresholdSpanProcessor)(nil)

// NewThresholdSpanProcessor returns a processor that buffers into buf.
func NewThresholdSpanProcessor(buf *ThresholdBuffer, opts ...Option) (*ThresholdSpanProcessor, error) {
	o := newOptions(opts)
	metrics, err := newExportMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}
	p := &ThresholdSpanProcessor{
		buf:     buf,
		run:     o.runner,
		timeout: o.exportTimeout,
		logger:  o.logger,
		metrics: metrics,
		stop:    make(chan struct{}),
	}
	if o.flushInterval > 0 {
		p.background(func() { p.tick(o.flushInterval) })
	}
	return p, nil
}

// background starts work unless Shutdown has begun, and reports whether it did.
func (p *ThresholdSpanProcessor) background(work func()) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.run(func() {
		defer p.wg.Done()
		work()
	})
	return true
}

func (p *ThresholdSpanProcessor) tick(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.flushOnce()
		}
	}
}

// OnStart does nothing.
func (p *ThresholdSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd buffers sampled spans and schedules an export once a batch is full.
func (p *ThresholdSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsSampled() {
		return
	}
	if err := p.buf.Accept(RecordFromSpan(s)); err != nil {
		reportDrop(p.logger, p.metrics, err)
		return
	}
	p.scheduleFlush()
}

func (p *ThresholdSpanProcessor) scheduleFlush() {
	if !p.buf.Ready() || !p.flushing.CompareAndSwap(false, true) {
		return
	}
	if !p.background(p.drainReady) {
		p.flushing.Store(false)
	}
}

func (p *ThresholdSpanProcessor) drainReady() {
	for p.buf.Ready() {
		if !p.flushOnce() {
			p.flushing.Store(false)
			return
		}
	}
	p.finishFlush()
}

// finishFlush clears the in-flight mark, then picks up a batch that filled
// after the last readiness check.
func (p *ThresholdSpanProcessor) finishFlush() {
	p.flushing.Store(false)
	p.scheduleFlush()
}

// flushOnce exports one batch and reports whether it succeeded.
func (p *ThresholdSpanProcessor) flushOnce() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if _, err := p.buf.Flush(ctx); err != nil {
		otel.Handle(err)
		return false
	}
	return true
}

// ForceFlush exports batches until the buffer is empty or an export fails.
// Lock failures are reported to the global error handler and end the flush
// without error.
func (p *ThresholdSpanProcessor) ForceFlush(ctx context.Context) error {
	for {
		out, err := p.buf.Flush(ctx)
		if err != nil {
			var lockErr *LockError
			if errors.As(err, &lockErr) {
				otel.Handle(err)
				return nil
			}
			return err
		}
		if out.Remaining == 0 {
			return nil
		}
	}
}

// Shutdown stops background flushing and exports everything still buffered.
func (p *ThresholdSpanProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.buf.Shutdown(ctx)
}

func reportDrop(logger *zap.Logger, metrics *exportMetrics, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrBufferFull):
		reason = "full"
	case errors.Is(err, ErrBufferClosed):
		reason = "closed"
	}
	otel.Handle(err)
	logger.Warn("dropping span", zap.String("reason", reason), zap.Error(err))
	metrics.recordDrop(context.Background(), reason)
}
