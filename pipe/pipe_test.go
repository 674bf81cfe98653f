package pipe

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/resilience"
	"github.com/kbukum/pipekit/worker"
)

func newTestPipe[T any](name string, fn ProcessFunc[T], opts ...Option) *Pipe[T] {
	return New(name, fn, append([]Option{WithLogger(logger.Nop())}, opts...)...)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// collector records processed items in order.
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) process(_ context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func TestPipe_EndToEnd(t *testing.T) {
	var c collector[int]
	p := newTestPipe("numbers", c.process)
	defer p.Close()

	for _, v := range []int{5, 7, 2} {
		p.Write(v)
	}
	if err := p.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := c.snapshot()
	want := []int{5, 7, 2}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	s := p.Stats()
	if s.Pushed != 3 || s.Processed != 3 || s.Pending != 0 {
		t.Errorf("expected stats {3 3 0}, got %+v", s)
	}
}

func TestPipe_WaitForEmpty_NothingWritten(t *testing.T) {
	p := newTestPipe("idle", func(context.Context, int) error { return nil })
	defer p.Close()

	if err := p.WaitForEmpty(waitCtx(t)); err != nil {
		t.Errorf("expected immediate return, got %v", err)
	}
}

func TestPipe_WaitForEmpty_BlocksUntilProcessed(t *testing.T) {
	release := make(chan struct{})
	var done atomic.Int32
	p := newTestPipe("gated", func(ctx context.Context, _ int) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		done.Add(1)
		return nil
	})
	defer p.Close()

	p.Write(1)
	p.Write(2)

	returned := make(chan error, 1)
	go func() { returned <- p.WaitForEmpty(waitCtx(t)) }()

	select {
	case err := <-returned:
		t.Fatalf("WaitForEmpty returned early with %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForEmpty did not return after processing")
	}
	if done.Load() != 2 {
		t.Errorf("expected both items processed at return, got %d", done.Load())
	}
}

func TestPipe_WaitForEmpty_Concurrent(t *testing.T) {
	var c collector[int]
	p := newTestPipe("shared", c.process)
	defer p.Close()

	for i := range 100 {
		p.Write(i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.WaitForEmpty(waitCtx(t))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if len(c.snapshot()) != 100 {
		t.Errorf("expected 100 processed, got %d", len(c.snapshot()))
	}
}

func TestPipe_WaitForEmpty_Canceled(t *testing.T) {
	p := newTestPipe("stuck", func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer p.Close()
	p.Write(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.WaitForEmpty(ctx); !stderrors.Is(err, errors.ErrCanceled) {
		t.Errorf("expected CANCELED, got %v", err)
	}
}

func TestPipe_ConcurrentWriters(t *testing.T) {
	const writers, perWriter = 8, 250
	var c collector[int]
	p := newTestPipe("fan-in", c.process)
	defer p.Close()

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				p.Write(w*perWriter + i)
				if i%50 == 0 {
					worker.Yield()
				}
			}
		}(w)
	}
	wg.Wait()

	if err := p.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := c.snapshot()
	if len(got) != writers*perWriter {
		t.Fatalf("expected %d items, got %d", writers*perWriter, len(got))
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicated item at %d: got %d", i, v)
		}
	}
}

func TestPipe_ProcessingFailure(t *testing.T) {
	boom := fmt.Errorf("boom")
	p := newTestPipe("fragile", func(_ context.Context, v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	defer p.Close()

	p.Write(1)
	p.Write(2)
	p.Write(3)

	err := p.WaitForEmpty(waitCtx(t))
	if !stderrors.Is(err, errors.ErrProcessingFailure) {
		t.Errorf("expected PROCESSING_FAILURE, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("expected cause boom, got %v", err)
	}
	if !stderrors.Is(p.Err(), boom) {
		t.Errorf("expected Err to carry boom, got %v", p.Err())
	}
	if p.State() != worker.StateStopped {
		t.Errorf("expected stopped worker, got %s", p.State())
	}
	if s := p.Stats(); s.Processed != 1 {
		t.Errorf("expected processing to stop after the failure, got %d processed", s.Processed)
	}
}

func TestPipe_PanicIsProcessingFailure(t *testing.T) {
	p := newTestPipe("panicky", func(context.Context, int) error { panic("kaboom") })
	defer p.Close()
	p.Write(1)

	if err := p.WaitForEmpty(waitCtx(t)); !stderrors.Is(err, errors.ErrProcessingFailure) {
		t.Errorf("expected PROCESSING_FAILURE, got %v", err)
	}
}

func TestPipe_WithRetry(t *testing.T) {
	var attempts atomic.Int32
	p := newTestPipe("retrying", func(context.Context, int) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}, WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}))
	defer p.Close()

	p.Write(1)
	if err := p.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatalf("expected retry to absorb transient failures, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestPipe_WithRetry_Disabled(t *testing.T) {
	var attempts atomic.Int32
	p := newTestPipe("no-retry", func(context.Context, int) error {
		attempts.Add(1)
		return fmt.Errorf("transient")
	}, WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	defer p.Close()

	p.Write(1)
	if err := p.WaitForEmpty(waitCtx(t)); err == nil {
		t.Fatal("expected failure")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", attempts.Load())
	}
}

func TestPipe_CloseIsIdempotent(t *testing.T) {
	p := newTestPipe("twice", func(context.Context, int) error { return nil })
	p.Write(1)

	done := make(chan struct{})
	go func() {
		p.Close()
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("repeated Close deadlocked")
	}
	if !p.Closed() {
		t.Error("expected Closed() to be true")
	}
	if p.Err() != nil {
		t.Errorf("expected clean shutdown, got %v", p.Err())
	}
}

func TestPipe_CloseDiscardsBacklog(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	p := newTestPipe("backlog", func(ctx context.Context, _ int) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})
	for i := range 10 {
		p.Write(i)
	}
	<-started

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a non-empty queue")
	}
	if s := p.Stats(); s.Pending != 0 {
		t.Errorf("expected backlog discarded, got %d pending", s.Pending)
	}
}

func TestPipe_CloseUnblocksWaiters(t *testing.T) {
	p := newTestPipe("blocked", func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p.Write(1)

	returned := make(chan error, 1)
	go func() { returned <- p.WaitForEmpty(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-returned:
		if !stderrors.Is(err, errors.ErrClosed) {
			t.Errorf("expected CLOSED, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not release WaitForEmpty")
	}
}

func TestPipe_WriteAfterClose(t *testing.T) {
	var c collector[int]
	p := newTestPipe("late", c.process)
	p.Close()
	p.Write(1)

	if s := p.Stats(); s.Pushed != 0 {
		t.Errorf("expected write after close to be dropped, got %d pushed", s.Pushed)
	}
}

func TestPipe_QueueOnly(t *testing.T) {
	p := newTestPipe[string]("manual", nil)
	defer p.Close()

	if p.State() != worker.StateIdle {
		t.Errorf("expected idle state for queue-only pipe, got %s", p.State())
	}

	p.Write("a")
	p.Write("b")
	for _, want := range []string{"a", "b"} {
		got, err := p.Read(waitCtx(t))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	if err := p.WaitForEmpty(waitCtx(t)); err != nil {
		t.Errorf("expected drained after reads, got %v", err)
	}
}

func TestPipe_ReadUnblockedByClose(t *testing.T) {
	p := newTestPipe[int]("reader", nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Read(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		if !stderrors.Is(err, errors.ErrCanceled) {
			t.Errorf("expected CANCELED, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Read")
	}
}

func TestPipe_Component(t *testing.T) {
	p := newTestPipe("managed", func(context.Context, int) error { return nil })
	ctx := context.Background()

	var c component.Component = p
	if c.Name() != "managed" {
		t.Errorf("expected name 'managed', got %q", c.Name())
	}
	if err := c.Start(ctx); err != nil {
		t.Errorf("unexpected start error: %v", err)
	}
	if h := c.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	if d := p.Describe(); d.Type != "pipe" {
		t.Errorf("expected type 'pipe', got %q", d.Type)
	}

	if err := c.Stop(ctx); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
	if h := c.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("expected degraded after stop, got %s", h.Status)
	}
	if err := c.Start(ctx); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("expected CLOSED on restart, got %v", err)
	}
}

func TestPipe_HealthAfterFailure(t *testing.T) {
	p := newTestPipe("sick", func(context.Context, int) error { return fmt.Errorf("bad item") })
	defer p.Close()
	p.Write(1)
	_ = p.WaitForEmpty(waitCtx(t))

	if h := p.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
	if err := p.Stop(context.Background()); err == nil {
		t.Error("expected Stop to report the worker failure")
	}
}

func TestPipe_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := observability.NewPipeMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}

	p := newTestPipe("metered", func(_ context.Context, v int) error {
		if v < 0 {
			return fmt.Errorf("negative")
		}
		return nil
	}, WithMetrics(m))
	defer p.Close()

	p.Write(1)
	p.Write(2)
	if err := p.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	p.Write(-1)
	_ = p.WaitForEmpty(waitCtx(t))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if s, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[metric.Name] += dp.Value
				}
			}
		}
	}

	if sums[observability.MetricItemsWritten] != 3 {
		t.Errorf("expected 3 writes, got %d", sums[observability.MetricItemsWritten])
	}
	if sums[observability.MetricItemsProcessed] != 3 {
		t.Errorf("expected 3 processed (2 ok, 1 failed), got %d", sums[observability.MetricItemsProcessed])
	}
	if sums[observability.MetricItemsFailed] != 1 {
		t.Errorf("expected 1 failure, got %d", sums[observability.MetricItemsFailed])
	}
}
