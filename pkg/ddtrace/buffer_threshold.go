// Threshold-gated buffering: exports of at most threshold spans per flush
package ddtrace

import (
	"context"
	"errors"
	"slices"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ThresholdBuffer exports its oldest spans in batches of at most threshold.
//
// The slice is guarded by a one-slot semaphore so Flush can give up on
// acquisition when its context ends. The lock is never held during export.
// Spans removed for an export that fails are not put back.
type ThresholdBuffer struct {
	lock      *semaphore.Weighted
	spans     []SpanRecord
	closed    bool
	threshold int
	exporter  BatchExporter
	logger    *zap.Logger
}

var _ Buffer = (*ThresholdBuffer)(nil)

// NewThresholdBuffer returns an empty buffer. A non-positive threshold uses
// DefaultFlushThreshold.
func NewThresholdBuffer(exp BatchExporter, threshold int, opts ...Option) *ThresholdBuffer {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	o := newOptions(opts)
	return &ThresholdBuffer{
		lock:      semaphore.NewWeighted(1),
		threshold: threshold,
		exporter:  exp,
		logger:    o.logger,
	}
}

func (b *ThresholdBuffer) acquire(ctx context.Context, op string) error {
	if err := b.lock.Acquire(ctx, 1); err != nil {
		return &LockError{Op: op, Err: err}
	}
	return nil
}

// Accept appends s.
func (b *ThresholdBuffer) Accept(s SpanRecord) error {
	if err := b.acquire(context.Background(), "accept span"); err != nil {
		return err
	}
	defer b.lock.Release(1)
	if b.closed {
		return &LockError{Op: "accept span", Err: ErrBufferClosed}
	}
	b.spans = append(b.spans, s)
	return nil
}

// Flush removes up to threshold of the oldest spans and exports them.
// It returns a *LockError without exporting if ctx ends before the lock is
// acquired.
func (b *ThresholdBuffer) Flush(ctx context.Context) (Outcome, error) {
	if err := b.acquire(ctx, "flush"); err != nil {
		return Outcome{}, err
	}
	n := min(len(b.spans), b.threshold)
	batch := slices.Clone(b.spans[:n])
	b.spans = slices.Delete(b.spans, 0, n)
	remaining := len(b.spans)
	b.lock.Release(1)

	if n == 0 {
		return Outcome{}, nil
	}
	if err := b.exporter.Export(ctx, batch); err != nil {
		b.logger.Warn("dropping spans after failed export", zap.Int("spans", n), zap.Error(err))
		return Outcome{Dropped: n, Remaining: remaining}, err
	}
	return Outcome{Exported: n, Remaining: remaining}, nil
}

// Shutdown stops accepting spans and flushes until the buffer is empty.
// Failed batches are dropped and their errors returned together.
func (b *ThresholdBuffer) Shutdown(ctx context.Context) error {
	if err := b.acquire(ctx, "shutdown"); err != nil {
		return err
	}
	b.closed = true
	b.lock.Release(1)

	var mErr *multierror.Error
	for {
		out, err := b.Flush(ctx)
		if err != nil {
			mErr = multierror.Append(mErr, err)
			var lockErr *LockError
			if errors.As(err, &lockErr) {
				break
			}
		}
		if out.Remaining == 0 {
			break
		}
	}
	return mErr.ErrorOrNil()
}

// Len returns the number of buffered spans.
func (b *ThresholdBuffer) Len() int {
	if err := b.lock.Acquire(context.Background(), 1); err != nil {
		return 0
	}
	defer b.lock.Release(1)
	return len(b.spans)
}

// Ready reports whether a full batch is buffered.
func (b *ThresholdBuffer) Ready() bool {
	return b.Len() >= b.threshold
}

// Threshold returns the maximum batch size.
func (b *ThresholdBuffer) Threshold() int {
	return b.threshold
}
