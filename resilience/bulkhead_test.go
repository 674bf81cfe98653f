package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/pipekit/errors"
)

// holdSlot occupies one slot of b until release is closed.
func holdSlot(b *Bulkhead, release <-chan struct{}) {
	started := make(chan struct{})
	go b.Execute(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started
}

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "producers", MaxConcurrent: 2, MaxWait: -1})

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent calls, got %d", peak.Load())
	}
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	var rejected atomic.Int32
	b := NewBulkhead(BulkheadConfig{
		Name:          "producers",
		MaxConcurrent: 1,
		OnReject:      func(string) { rejected.Add(1) },
	})
	release := make(chan struct{})
	defer close(release)
	holdSlot(b, release)

	err := b.Execute(context.Background(), func() error { return nil })
	if !stderrors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected BULKHEAD_FULL, got %v", err)
	}
	if rejected.Load() != 1 {
		t.Errorf("expected 1 reject callback, got %d", rejected.Load())
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "producers", MaxConcurrent: 1, MaxWait: time.Second})
	release := make(chan struct{})
	holdSlot(b, release)

	time.AfterFunc(20*time.Millisecond, func() { close(release) })
	if err := b.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestBulkhead_TimesOutWaiting(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "producers", MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	holdSlot(b, release)

	err := b.Execute(context.Background(), func() error { return nil })
	if !stderrors.Is(err, errors.ErrTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
}

func TestBulkhead_RespectsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "producers", MaxConcurrent: 1, MaxWait: -1})
	release := make(chan struct{})
	defer close(release)
	holdSlot(b, release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Execute(ctx, func() error { return nil })
	if !stderrors.Is(err, errors.ErrCanceled) {
		t.Errorf("expected CANCELED, got %v", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", err)
	}
}

func TestBulkhead_AvailableAndInUse(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "producers", MaxConcurrent: 3})
	if b.Available() != 3 || b.InUse() != 0 {
		t.Errorf("expected 3 available and 0 in use, got %d and %d", b.Available(), b.InUse())
	}

	release := make(chan struct{})
	holdSlot(b, release)
	if b.Available() != 2 || b.InUse() != 1 {
		t.Errorf("expected 2 available and 1 in use, got %d and %d", b.Available(), b.InUse())
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for b.InUse() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if b.Available() != 3 {
		t.Errorf("expected 3 available after release, got %d", b.Available())
	}
	if b.MaxConcurrent() != 3 {
		t.Errorf("expected max 3, got %d", b.MaxConcurrent())
	}
}

func TestDefaultBulkheadConfig(t *testing.T) {
	b := NewBulkhead(DefaultBulkheadConfig("producers"))
	if b.MaxConcurrent() != 10 {
		t.Errorf("expected 10 slots, got %d", b.MaxConcurrent())
	}
}
