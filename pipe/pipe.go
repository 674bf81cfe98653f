// Package pipe couples a BlockingQueue with a Worker that continuously pops
// and processes items, and a processed watermark that WaitForEmpty blocks on.
//
// A Pipe built without a processing function is queue-only: items are
// consumed by Read and nothing runs in the background.
//
//	p := pipe.New("ingest", func(ctx context.Context, v int) error {
//	    return store(ctx, v)
//	})
//	defer p.Close()
//
//	p.Write(5)
//	p.Write(7)
//	if err := p.WaitForEmpty(ctx); err != nil {
//	    return err
//	}
package pipe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/queue"
	"github.com/kbukum/pipekit/resilience"
	"github.com/kbukum/pipekit/watermark"
	"github.com/kbukum/pipekit/worker"
)

// ProcessFunc handles one item. A returned error or a panic is fatal to the
// pipe: its worker stops and never resumes.
type ProcessFunc[T any] func(ctx context.Context, item T) error

// Stats is a point-in-time view of a pipe's counters.
type Stats struct {
	Pushed    int64
	Processed int64
	Pending   int
}

// Pipe is a queue drained by one background worker.
type Pipe[T any] struct {
	name      string
	fn        ProcessFunc[T]
	queue     *queue.BlockingQueue[T]
	processed *watermark.Watermark
	worker    *worker.Worker
	log       *logger.Logger
	metrics   *observability.PipeMetrics
	retry     *resilience.RetryConfig

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a pipe and, when fn is non-nil, starts its worker.
func New[T any](name string, fn ProcessFunc[T], opts ...Option) *Pipe[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.WithComponent("pipe")
	}

	p := &Pipe[T]{
		name:      name,
		fn:        fn,
		queue:     queue.New[T](),
		processed: watermark.New(),
		log:       o.log.WithFields(logger.Fields(logger.FieldPipe, name)),
		metrics:   o.metrics,
		retry:     o.retry,
	}

	if fn != nil {
		p.worker = worker.New(name, p.loop,
			worker.WithLogger(p.log),
			worker.WithOnExit(p.onWorkerExit),
		)
		// A fresh worker with a default unit of work cannot fail to start.
		_ = p.worker.Start(nil)
	}

	p.log.Debug("pipe created", logger.Fields("queue_only", fn == nil))
	return p
}

// Name returns the diagnostic name.
func (p *Pipe[T]) Name() string { return p.name }

// Write enqueues item. It never blocks beyond the queue lock. Items written
// after Close are dropped.
func (p *Pipe[T]) Write(item T) {
	if !p.queue.TryPush(item) {
		p.log.Debug("write after close ignored")
		return
	}
	p.metrics.RecordWrite(context.Background(), p.name)
}

// Read pops the next item directly, bypassing the processing function. It
// counts the item as processed. On a pipe with a running worker the two
// consumers split items in no defined way.
func (p *Pipe[T]) Read(ctx context.Context) (T, error) {
	item, err := p.queue.Pop(ctx)
	if err != nil {
		return item, err
	}
	p.processed.Complete(1)
	return item, nil
}

// WaitForEmpty blocks until every item written before the call has been
// processed. It returns the worker's error if the worker died first, a CLOSED
// error if the pipe was closed first, and a CANCELED error when ctx is done.
func (p *Pipe[T]) WaitForEmpty(ctx context.Context) error {
	start := time.Now()
	mark := p.queue.PushedCount()

	ctx, span := observability.StartSpan(ctx, observability.SpanPipeDrain, trace.WithAttributes(
		attribute.String(observability.AttrPipe, p.name),
		attribute.Int64(observability.AttrMark, mark),
	))
	err := p.processed.WaitFor(ctx, mark)
	observability.EndSpan(span, err)

	elapsed := time.Since(start)
	p.metrics.RecordDrain(ctx, p.name, elapsed)
	if err != nil {
		p.log.WithContext(ctx).WithError(err).Debug("drain interrupted", logger.DurationFields("wait_for_empty", elapsed))
	}
	return err
}

// Close stops the worker, wakes every goroutine blocked in Read or
// WaitForEmpty and discards unprocessed items. It is safe to call more than
// once and from several goroutines.
func (p *Pipe[T]) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.worker != nil {
			p.worker.RequestStop()
		}
		discarded := p.queue.Close()
		if p.worker != nil {
			p.worker.Join()
		}
		p.processed.Abort(errors.Closed(fmt.Sprintf("pipe %s", p.name)))

		p.log.Debug("pipe closed", logger.Fields(
			"discarded", discarded,
			logger.FieldPushed, p.queue.PushedCount(),
			logger.FieldProcessed, p.processed.Completed(),
		))
	})
}

// Closed reports whether Close has been called.
func (p *Pipe[T]) Closed() bool {
	return p.closed.Load()
}

// Err returns the error that stopped the worker, or nil.
func (p *Pipe[T]) Err() error {
	if p.worker == nil {
		return nil
	}
	return p.worker.Err()
}

// State returns the worker state. Queue-only pipes report StateIdle.
func (p *Pipe[T]) State() worker.State {
	if p.worker == nil {
		return worker.StateIdle
	}
	return p.worker.State()
}

// Stats returns the pipe counters. Pushed and Processed are read separately
// and may be mutually inconsistent under concurrent use.
func (p *Pipe[T]) Stats() Stats {
	return Stats{
		Pushed:    p.queue.PushedCount(),
		Processed: p.processed.Completed(),
		Pending:   p.queue.Len(),
	}
}

func (p *Pipe[T]) loop(ctx context.Context) error {
	for {
		item, err := p.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if err := p.process(ctx, item); err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.metrics.RecordProcessed(ctx, p.name, observability.StatusFailed)
			code := string(errors.ErrCodeProcessingFailure)
			if ae, ok := errors.AsAppError(err); ok {
				code = string(ae.Code)
			}
			p.metrics.RecordFailure(ctx, p.name, code)
			return err
		}
		p.processed.Complete(1)
		p.metrics.RecordProcessed(ctx, p.name, observability.StatusOK)
	}
}

func (p *Pipe[T]) process(ctx context.Context, item T) error {
	if p.retry == nil {
		return p.fn(ctx, item)
	}
	return resilience.RetryFunc(ctx, *p.retry, func() error {
		return p.fn(ctx, item)
	})
}

// onWorkerExit runs on the worker goroutine once the loop has returned.
func (p *Pipe[T]) onWorkerExit(w *worker.Worker) {
	if err := w.Err(); err != nil {
		p.processed.Abort(err)
		return
	}
	p.processed.Abort(errors.Closed(fmt.Sprintf("pipe %s", p.name)))
}
