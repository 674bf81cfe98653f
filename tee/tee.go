// Package tee merges several independently produced streams into one ordered
// output stream.
//
// Each source is a pipe.Pipe whose processing function moves the item into a
// shared merge buffer. Depending on the FlushPolicy the buffer is ordered and
// dispatched downstream after every arrival or only at a drain barrier:
//
//	t := tee.New("merge", emit, tee.Ascending[int](), tee.WithFlushPolicy(tee.FlushOnDrain))
//	defer t.Close()
//
//	a, b := t.AddSource(), t.AddSource()
//	a.Write(3)
//	a.Write(1)
//	b.Write(2)
//	err := t.WaitForEmpty(ctx) // emits 1, 2, 3
//
// Lock order: a source's queue lock is released before the merge lock is
// taken, and the merge buffer is only touched through a held token that
// withLock creates. The merge lock is held across downstream calls, so
// waiting for it honors ctx. Sources, the closed flag and the failure live
// under a separate state mutex that is never held across downstream.
package tee

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/pipe"
)

// DownstreamFunc receives merged items one at a time, in flush order.
type DownstreamFunc[T any] func(ctx context.Context, item T) error

type source[T any] struct {
	pipe  *pipe.Pipe[T]
	state atomic.Int32
}

func (s *source[T]) setState(st SourceState) { s.state.Store(int32(st)) }

// TeePipe is a fan-in stage with an ordered merge buffer.
type TeePipe[T any] struct {
	name       string
	downstream DownstreamFunc[T]
	order      OrderFunc[T]
	policy     FlushPolicy
	log        *logger.Logger
	metrics    *observability.PipeMetrics
	sourceOpts []pipe.Option

	// merge is the merge lock, a one-slot semaphore guarding buffer.
	merge  chan struct{}
	buffer []T

	pending    atomic.Int64
	dispatched atomic.Int64

	// mu guards sources, closed and err.
	mu      sync.Mutex
	sources []*source[T]
	closed  bool
	err     error

	closeOnce sync.Once
}

// held is proof that the merge lock is held. Only withLock creates one.
type held struct{}

func (t *TeePipe[T]) withLock(ctx context.Context, fn func(h held) error) error {
	select {
	case t.merge <- struct{}{}:
	case <-ctx.Done():
		return errors.Canceled(fmt.Sprintf("tee %s merge", t.name), ctx.Err())
	}
	defer func() { <-t.merge }()
	return fn(held{})
}

// status reports whether the tee is closed and its recorded failure.
func (t *TeePipe[T]) status() (closed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.err
}

func (t *TeePipe[T]) setBuffer(_ held, items []T) {
	t.buffer = items
	t.pending.Store(int64(len(items)))
}

// New creates a tee. A nil downstream discards merged items; a nil order
// keeps arrival order.
func New[T any](name string, downstream DownstreamFunc[T], order OrderFunc[T], opts ...Option) *TeePipe[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("tee")
	}

	t := &TeePipe[T]{
		name:       name,
		downstream: downstream,
		order:      order,
		policy:     o.policy,
		log:        o.log.WithFields(logger.Fields(logger.FieldTee, name)),
		metrics:    o.metrics,
		sourceOpts: o.sourceOpts,
		merge:      make(chan struct{}, 1),
	}
	t.log.Debug("tee created", logger.Fields("policy", t.policy.String()))
	return t
}

// Name returns the diagnostic name.
func (t *TeePipe[T]) Name() string { return t.name }

// AddSource creates and starts a new source pipe named <name>-src-<n>. The
// tee owns it: Close closes every source. On a closed tee the returned pipe
// is already closed and drops writes.
func (t *TeePipe[T]) AddSource() *pipe.Pipe[T] {
	src := &source[T]{}

	t.mu.Lock()
	srcName := fmt.Sprintf("%s-src-%d", t.name, len(t.sources)+1)
	opts := append([]pipe.Option{pipe.WithLogger(t.log), pipe.WithMetrics(t.metrics)}, t.sourceOpts...)
	src.pipe = pipe.New(srcName, func(ctx context.Context, item T) error {
		return t.accept(ctx, src, item)
	}, opts...)

	closed := t.closed
	if !closed {
		t.sources = append(t.sources, src)
	}
	count := len(t.sources)
	t.mu.Unlock()

	if closed {
		src.pipe.Close()
		t.log.Debug("source added to closed tee", logger.Fields(logger.FieldSource, srcName))
		return src.pipe
	}
	t.log.Debug("source added", logger.Fields(logger.FieldSource, srcName, "sources", count))
	return src.pipe
}

// accept runs on a source worker for every item it pops.
func (t *TeePipe[T]) accept(ctx context.Context, src *source[T], item T) error {
	src.setState(SourceDraining)
	defer src.setState(SourceIdle)

	return t.withLock(ctx, func(h held) error {
		if _, err := t.status(); err != nil {
			return err
		}
		t.appendLocked(h, item)
		if t.policy == FlushOnDrain {
			return nil
		}
		src.setState(SourceFlushing)
		return t.flushLocked(ctx, h)
	})
}

func (t *TeePipe[T]) appendLocked(h held, item T) {
	t.setBuffer(h, append(t.buffer, item))
}

// flushLocked orders the whole buffer and dispatches it. The first
// downstream failure becomes the tee's error; undelivered items stay
// buffered. A dispatch cut short by ctx is not a failure: the item it was
// delivering stays buffered too.
func (t *TeePipe[T]) flushLocked(ctx context.Context, h held) error {
	if len(t.buffer) == 0 {
		return nil
	}

	items := t.buffer
	t.setBuffer(h, nil)
	if t.order != nil {
		t.order(items)
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanTeeFlush, trace.WithAttributes(
		attribute.String(observability.AttrTee, t.name),
		attribute.Int(observability.AttrFlushSize, len(items)),
	))

	for i, item := range items {
		if err := t.dispatch(ctx, item); err != nil {
			t.dispatched.Add(int64(i))
			if ctx.Err() != nil {
				t.setBuffer(h, items[i:])
				canceled := errors.Canceled(t.name+" flush", err)
				observability.EndSpan(span, canceled)
				t.log.WithContext(ctx).Debug("flush interrupted", logger.Fields("delivered", i))
				return canceled
			}

			t.setBuffer(h, items[i+1:])
			failure := errors.ProcessingFailure(t.name+" downstream", err)
			t.mu.Lock()
			t.err = failure
			t.mu.Unlock()
			observability.EndSpan(span, failure)
			t.log.WithContext(ctx).WithError(err).Error("downstream failed", logger.Fields(
				logger.FieldFlushSize, len(items),
				"delivered", i,
			))
			return failure
		}
	}

	t.dispatched.Add(int64(len(items)))
	observability.EndSpan(span, nil)
	t.metrics.RecordFlush(ctx, t.name, len(items))
	t.log.Debug("flushed", logger.Fields(logger.FieldFlushSize, len(items)))
	return nil
}

func (t *TeePipe[T]) dispatch(ctx context.Context, item T) (err error) {
	if t.downstream == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.downstream(ctx, item)
}

// Flush orders and dispatches whatever is buffered now. It returns a
// CANCELED error if ctx is done before the merge lock is free.
func (t *TeePipe[T]) Flush(ctx context.Context) error {
	return t.withLock(ctx, func(h held) error {
		closed, err := t.status()
		if err != nil {
			return err
		}
		if closed {
			return errors.Closed(fmt.Sprintf("tee %s", t.name))
		}
		return t.flushLocked(ctx, h)
	})
}

// WaitForEmpty drains every source, then flushes the merge buffer once. It
// returns the tee's downstream error, a source's failure, or a CANCELED error
// when ctx is done, including while a downstream call holds the merge lock.
func (t *TeePipe[T]) WaitForEmpty(ctx context.Context) (err error) {
	t.mu.Lock()
	sources := make([]*source[T], len(t.sources))
	copy(sources, t.sources)
	t.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, observability.SpanTeeDrain, trace.WithAttributes(
		attribute.String(observability.AttrTee, t.name),
		attribute.Int(observability.AttrSources, len(sources)),
	))
	defer func() { observability.EndSpan(span, err) }()

	for _, src := range sources {
		if srcErr := src.pipe.WaitForEmpty(ctx); srcErr != nil {
			if teeErr := t.Err(); teeErr != nil {
				return teeErr
			}
			return srcErr
		}
	}
	return t.Flush(ctx)
}

// Close closes every source, discarding their queued items, then releases
// the merge buffer. It is safe to call more than once.
func (t *TeePipe[T]) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		sources := t.sources
		t.mu.Unlock()

		// Closing a source cancels the ctx its downstream call runs under,
		// so the merge lock is only taken once every source is joined.
		for _, src := range sources {
			src.pipe.Close()
		}

		var discarded int
		_ = t.withLock(context.Background(), func(h held) error {
			discarded = len(t.buffer)
			t.setBuffer(h, nil)
			return nil
		})

		t.log.Debug("tee closed", logger.Fields(
			"sources", len(sources),
			"discarded", discarded,
			"dispatched", t.dispatched.Load(),
		))
	})
}

// Sources returns the number of sources added before Close.
func (t *TeePipe[T]) Sources() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sources)
}

// Pending returns the number of items in the merge buffer. It does not
// wait for a flush in progress.
func (t *TeePipe[T]) Pending() int {
	return int(t.pending.Load())
}

// Dispatched returns how many items have been delivered downstream.
func (t *TeePipe[T]) Dispatched() int64 {
	return t.dispatched.Load()
}

// SourceStates returns each source's merge state in AddSource order.
func (t *TeePipe[T]) SourceStates() []SourceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	states := make([]SourceState, len(t.sources))
	for i, src := range t.sources {
		states[i] = SourceState(src.state.Load())
	}
	return states
}

// Err returns the downstream failure that stopped the tee, or nil.
func (t *TeePipe[T]) Err() error {
	_, err := t.status()
	return err
}

// Policy returns the flush policy.
func (t *TeePipe[T]) Policy() FlushPolicy { return t.policy }
