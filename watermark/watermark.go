// Package watermark tracks a pair of monotonically increasing counters,
// submitted and completed, and lets callers block until completed catches up
// with a mark taken earlier. It is the drain barrier behind Pipe.WaitForEmpty
// and has no dependency on queues or goroutines of its own.
package watermark

import (
	"context"
	"sync"

	"github.com/kbukum/pipekit/errors"
)

// Watermark is a (submitted, completed) counter pair.
// The zero value is not usable; call New.
type Watermark struct {
	mu        sync.Mutex
	cond      *sync.Cond
	submitted int64
	completed int64
	abortErr  error
}

// New creates an empty Watermark.
func New() *Watermark {
	w := &Watermark{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Submit advances the submitted counter by n and returns its new value.
func (w *Watermark) Submit(n int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitted += n
	return w.submitted
}

// Complete advances the completed counter by n, wakes every waiter and
// returns the new value.
func (w *Watermark) Complete(n int64) int64 {
	w.mu.Lock()
	w.completed += n
	c := w.completed
	w.mu.Unlock()
	w.cond.Broadcast()
	return c
}

// Submitted returns a snapshot of the submitted counter.
func (w *Watermark) Submitted() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted
}

// Completed returns a snapshot of the completed counter.
func (w *Watermark) Completed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}

// Snapshot returns both counters read under one lock.
func (w *Watermark) Snapshot() (submitted, completed int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted, w.completed
}

// Abort makes every current and future WaitFor call that has not yet reached
// its mark return err. The first non-nil err wins.
func (w *Watermark) Abort(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	if w.abortErr == nil {
		w.abortErr = err
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Err returns the error passed to Abort, if any.
func (w *Watermark) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.abortErr
}

// WaitFor blocks until completed >= mark. It returns early with a CANCELED
// error when ctx is done, or with the abort error once Abort has been called.
// A mark that is already reached returns nil even after an abort.
func (w *Watermark) WaitFor(ctx context.Context, mark int64) error {
	stop := context.AfterFunc(ctx, func() {
		// Taking the lock orders this broadcast after the waiter parks.
		w.mu.Lock()
		defer w.mu.Unlock()
		w.cond.Broadcast()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.completed < mark {
		if w.abortErr != nil {
			return w.abortErr
		}
		if err := ctx.Err(); err != nil {
			return errors.Canceled("watermark wait", err)
		}
		w.cond.Wait()
	}
	return nil
}

// WaitForSubmitted snapshots the submitted counter and waits for it.
func (w *Watermark) WaitForSubmitted(ctx context.Context) error {
	return w.WaitFor(ctx, w.Submitted())
}
