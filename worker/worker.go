package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
)

// Func is a unit of work. It must return once ctx is done.
type Func func(ctx context.Context) error

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *logger.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithOnExit registers a callback invoked on the worker goroutine after each
// run ends and before Join returns. The callback must not call Join or Stop.
func WithOnExit(fn func(w *Worker)) Option {
	return func(w *Worker) { w.onExit = fn }
}

// Worker owns one background goroutine.
type Worker struct {
	name   string
	id     string
	fn     Func
	log    *logger.Logger
	onExit func(w *Worker)

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started time.Time
}

// New creates an idle Worker. fn is the default unit of work used when Start
// is called without one; it may be nil.
func New(name string, fn Func, opts ...Option) *Worker {
	w := &Worker{
		name:  name,
		id:    uuid.NewString(),
		fn:    fn,
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.WithComponent("worker")
	}
	w.log = w.log.WithFields(logger.Fields(logger.FieldWorker, name, logger.FieldWorkerID, w.id))
	return w
}

// Name returns the diagnostic name.
func (w *Worker) Name() string { return w.name }

// ID returns the unique instance ID assigned at construction.
func (w *Worker) ID() string { return w.id }

// Start runs fn, or the default unit of work when fn is nil, on a new goroutine.
func (w *Worker) Start(fn Func) error {
	return w.StartContext(context.Background(), fn)
}

// StartContext is Start with a parent context; canceling parent has the same
// effect as RequestStop.
func (w *Worker) StartContext(parent context.Context, fn Func) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Active() {
		return errors.AlreadyRunning(w.name)
	}
	if fn == nil {
		fn = w.fn
	}
	if fn == nil {
		return errors.NoWorkSupplied(w.name)
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.err = nil
	w.state = StateRunning
	w.started = time.Now()

	w.log.Debug("worker started")
	go w.run(ctx, fn, done)
	return nil
}

func (w *Worker) run(ctx context.Context, fn Func, done chan struct{}) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.ProcessingFailure(w.name, fmt.Errorf("panic: %v", r))
		}
		w.finish(ctx, err, done)
	}()
	err = fn(ctx)
}

func (w *Worker) finish(ctx context.Context, err error, done chan struct{}) {
	err = classify(ctx, w.name, err)

	w.mu.Lock()
	w.state = StateStopped
	w.err = err
	w.cancel()
	elapsed := time.Since(w.started)
	w.mu.Unlock()

	if err != nil {
		w.log.WithError(err).Error("worker failed", logger.DurationFields("run", elapsed))
	} else {
		w.log.Debug("worker stopped", logger.DurationFields("run", elapsed))
	}

	if w.onExit != nil {
		w.onExit(w)
	}
	close(done)
}

// classify maps the value returned by a unit of work to the recorded error.
// Cancellation caused by a stop request is a clean exit.
func classify(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, errors.ErrCanceled)) {
		return nil
	}
	if errors.IsCode(err, errors.ErrCodeProcessingFailure) {
		return err
	}
	return errors.ProcessingFailure(name, err)
}

// RequestStop signals the running unit of work to return. It does not block
// and is a no-op when nothing is running.
func (w *Worker) RequestStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.state = StateStopRequested
	w.cancel()
	w.log.Debug("worker stop requested")
}

// Join blocks until the current run has ended. It returns immediately when
// the worker was never started or has already stopped.
func (w *Worker) Join() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// JoinContext is Join bounded by ctx.
func (w *Worker) JoinContext(ctx context.Context) error {
	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		return errors.Canceled("worker join", ctx.Err())
	}
}

// Stop requests a stop and joins. Calling it repeatedly is safe.
func (w *Worker) Stop() {
	w.RequestStop()
	w.Join()
}

// Done returns a channel closed when the current run ends. For a worker that
// was never started the returned channel is already closed.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		return closedChan
	}
	return w.done
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that ended the last run, or nil for a clean exit.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Yield gives up the calling goroutine's time slice. Tests use it to improve
// interleaving; nothing relies on it for correctness.
func Yield() {
	runtime.Gosched()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
