// Package queue provides BlockingQueue, an unbounded FIFO safe for concurrent
// producers and consumers whose Pop blocks while the queue is empty.
//
// The queue keeps a monotonically increasing pushed counter that is never
// decremented by Pop. Owners snapshot it to define "everything enqueued so
// far" for drain barriers.
package queue

import (
	"context"
	"sync"

	"github.com/kbukum/pipekit/errors"
)

// BlockingQueue is an unbounded FIFO. One mutex guards the items and both
// counters; one condition signals "became non-empty" and shutdown.
type BlockingQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []T
	pushed   int64
	popped   int64
	closed   bool
}

// New creates an empty queue.
func New[T any]() *BlockingQueue[T] {
	q := &BlockingQueue[T]{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends item at the tail. It never blocks beyond the lock; pushing to
// a closed queue drops the item.
func (q *BlockingQueue[T]) Push(item T) {
	q.TryPush(item)
}

// TryPush is Push reporting whether the item was accepted.
func (q *BlockingQueue[T]) TryPush(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.pushed++
	q.mu.Unlock()
	// Broadcast: a woken waiter may be canceled and leave the item behind.
	q.notEmpty.Broadcast()
	return true
}

// Pop blocks until an item is available and removes it from the head. When
// ctx is done or the queue is closed while waiting, Pop returns a CANCELED
// error and consumes nothing.
func (q *BlockingQueue[T]) Pop(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.notEmpty.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			var zero T
			return zero, errors.Canceled("pop", errors.Closed("queue"))
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, errors.Canceled("pop", err)
		}
		if len(q.items) > 0 {
			return q.take(), nil
		}
		q.notEmpty.Wait()
	}
}

// TryPop removes the head item without blocking.
func (q *BlockingQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// take removes the head. Caller holds q.mu and has checked len > 0.
func (q *BlockingQueue[T]) take() T {
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.popped++
	return item
}

// PushedCount returns the number of items ever accepted by Push.
func (q *BlockingQueue[T]) PushedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}

// PoppedCount returns the number of items ever removed by Pop or TryPop.
func (q *BlockingQueue[T]) PoppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popped
}

// Len returns the number of queued items. It always equals
// PushedCount() - PoppedCount() for a queue that has not been closed.
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every goroutine blocked in Pop, rejects further pushes and
// discards queued items. It returns how many items were discarded and is
// safe to call more than once.
func (q *BlockingQueue[T]) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	discarded := len(q.items)
	q.items = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	return discarded
}

// Closed reports whether Close has been called.
func (q *BlockingQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
