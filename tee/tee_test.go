package tee

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
)

// sink collects downstream items in dispatch order.
type sink[T any] struct {
	mu    sync.Mutex
	items []T
}

func (s *sink[T]) downstream(_ context.Context, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *sink[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...)
}

// blockingDownstream signals entered on its first call and then holds the
// merge lock until its ctx is done.
func blockingDownstream() (DownstreamFunc[int], <-chan struct{}) {
	entered := make(chan struct{})
	var once sync.Once
	return func(ctx context.Context, _ int) error {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return ctx.Err()
	}, entered
}

// returnsWithin runs fn and fails the test if it has not returned after d.
func returnsWithin(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for %v", what, d)
	}
}

func newTestTee[T any](downstream DownstreamFunc[T], order OrderFunc[T], opts ...Option) *TeePipe[T] {
	return New("merge", downstream, order, append([]Option{WithLogger(logger.Nop())}, opts...)...)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTee_FlushOnDrain_MergesInOrder(t *testing.T) {
	var out sink[int]
	tp := newTestTee(out.downstream, Ascending[int](), WithFlushPolicy(FlushOnDrain))
	defer tp.Close()

	a := tp.AddSource()
	b := tp.AddSource()
	a.Write(3)
	a.Write(1)
	b.Write(2)

	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.snapshot()
	if !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
	if tp.Pending() != 0 {
		t.Errorf("expected empty merge buffer, got %d", tp.Pending())
	}
	if tp.Dispatched() != 3 {
		t.Errorf("expected 3 dispatched, got %d", tp.Dispatched())
	}
}

func TestTee_FlushOnDrain_BuffersUntilBarrier(t *testing.T) {
	var out sink[int]
	tp := newTestTee(out.downstream, Ascending[int](), WithFlushPolicy(FlushOnDrain))
	defer tp.Close()

	src := tp.AddSource()
	for _, v := range []int{9, 4, 6} {
		src.Write(v)
	}
	if err := src.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	if n := len(out.snapshot()); n != 0 {
		t.Errorf("expected nothing dispatched before the barrier, got %d", n)
	}
	if tp.Pending() != 3 {
		t.Errorf("expected 3 buffered, got %d", tp.Pending())
	}

	if err := tp.Flush(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if got := out.snapshot(); !slices.Equal(got, []int{4, 6, 9}) {
		t.Errorf("expected [4 6 9], got %v", got)
	}
}

func TestTee_FlushOnArrival_SingleSource(t *testing.T) {
	var out sink[int]
	tp := newTestTee(out.downstream, Ascending[int]())
	defer tp.Close()

	if tp.Policy() != FlushOnArrival {
		t.Errorf("expected default policy on_arrival, got %s", tp.Policy())
	}

	src := tp.AddSource()
	for _, v := range []int{5, 7, 2} {
		src.Write(v)
	}
	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	// Each arrival is flushed on its own, so arrival order survives.
	if got := out.snapshot(); !slices.Equal(got, []int{5, 7, 2}) {
		t.Errorf("expected [5 7 2], got %v", got)
	}
}

func TestTee_FlushOnArrival_ManySources(t *testing.T) {
	const sources, perSource = 4, 200
	var out sink[int]
	tp := newTestTee(out.downstream, Ascending[int]())
	defer tp.Close()

	var wg sync.WaitGroup
	for s := range sources {
		src := tp.AddSource()
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := range perSource {
				src.Write(s*perSource + i)
			}
		}(s)
	}
	wg.Wait()

	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	got := out.snapshot()
	if len(got) != sources*perSource {
		t.Fatalf("expected %d items, got %d", sources*perSource, len(got))
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicated item at %d: got %d", i, v)
		}
	}
}

func TestTee_PerSourceOrderPreserved(t *testing.T) {
	type tagged struct{ src, seq int }
	var out sink[tagged]
	tp := newTestTee[tagged](out.downstream, nil)
	defer tp.Close()

	const perSource = 100
	var wg sync.WaitGroup
	for s := range 3 {
		src := tp.AddSource()
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := range perSource {
				src.Write(tagged{s, i})
			}
		}(s)
	}
	wg.Wait()
	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	last := map[int]int{0: -1, 1: -1, 2: -1}
	for _, item := range out.snapshot() {
		if item.seq <= last[item.src] {
			t.Fatalf("source %d out of order: %d after %d", item.src, item.seq, last[item.src])
		}
		last[item.src] = item.seq
	}
}

func TestTee_DownstreamNeverInterleaves(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	overlap := false
	tp := newTestTee(func(context.Context, int) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(100 * time.Microsecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}, Ascending[int]())
	defer tp.Close()

	for range 3 {
		src := tp.AddSource()
		for i := range 20 {
			src.Write(i)
		}
	}
	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if overlap {
		t.Error("downstream calls overlapped")
	}
}

func TestTee_DownstreamFailureIsFatal(t *testing.T) {
	boom := fmt.Errorf("sink unavailable")
	var out sink[int]
	tp := newTestTee(func(ctx context.Context, v int) error {
		if v == 2 {
			return boom
		}
		return out.downstream(ctx, v)
	}, Ascending[int](), WithFlushPolicy(FlushOnDrain))
	defer tp.Close()

	src := tp.AddSource()
	for _, v := range []int{3, 1, 2} {
		src.Write(v)
	}

	err := tp.WaitForEmpty(waitCtx(t))
	if !stderrors.Is(err, errors.ErrProcessingFailure) {
		t.Errorf("expected PROCESSING_FAILURE, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("expected cause, got %v", err)
	}
	if !stderrors.Is(tp.Err(), boom) {
		t.Errorf("expected Err to carry the cause, got %v", tp.Err())
	}
	if got := out.snapshot(); !slices.Equal(got, []int{1}) {
		t.Errorf("expected [1] delivered before failure, got %v", got)
	}
	if tp.Pending() != 1 {
		t.Errorf("expected undelivered item to stay buffered, got %d", tp.Pending())
	}
	if err := tp.Flush(waitCtx(t)); !stderrors.Is(err, boom) {
		t.Errorf("expected Flush to keep failing, got %v", err)
	}
}

func TestTee_DownstreamFailureStopsSource(t *testing.T) {
	tp := newTestTee(func(context.Context, int) error { return fmt.Errorf("rejected") }, nil)
	defer tp.Close()

	src := tp.AddSource()
	src.Write(1)

	if err := tp.WaitForEmpty(waitCtx(t)); err == nil {
		t.Fatal("expected failure")
	}
	if src.Err() == nil {
		t.Error("expected source pipe to record the failure")
	}
}

func TestTee_DownstreamPanicIsRecovered(t *testing.T) {
	tp := newTestTee(func(context.Context, int) error { panic("bad sink") }, nil)
	defer tp.Close()

	tp.AddSource().Write(1)
	err := tp.WaitForEmpty(waitCtx(t))
	if !stderrors.Is(err, errors.ErrProcessingFailure) {
		t.Errorf("expected PROCESSING_FAILURE, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad sink") {
		t.Errorf("expected panic value in error, got %v", err)
	}
}

func TestTee_NilDownstreamDiscards(t *testing.T) {
	tp := newTestTee[int](nil, nil)
	defer tp.Close()

	src := tp.AddSource()
	src.Write(1)
	src.Write(2)
	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if tp.Dispatched() != 2 || tp.Pending() != 0 {
		t.Errorf("expected 2 discarded and none pending, got %d and %d", tp.Dispatched(), tp.Pending())
	}
}

func TestTee_CloseIsIdempotent(t *testing.T) {
	var out sink[int]
	tp := newTestTee(out.downstream, Ascending[int](), WithFlushPolicy(FlushOnDrain))
	src := tp.AddSource()
	src.Write(1)
	if err := src.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		tp.Close()
		tp.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("repeated Close deadlocked")
	}

	if !src.Closed() {
		t.Error("expected sources to be closed")
	}
	if tp.Pending() != 0 {
		t.Errorf("expected buffer released, got %d", tp.Pending())
	}
	if n := len(out.snapshot()); n != 0 {
		t.Errorf("expected Close not to flush, got %d dispatched", n)
	}
	if err := tp.Flush(waitCtx(t)); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("expected CLOSED, got %v", err)
	}
}

func TestTee_CloseWithBusyDownstream(t *testing.T) {
	downstream, entered := blockingDownstream()
	tp := newTestTee(downstream, nil)

	a := tp.AddSource()
	b := tp.AddSource()
	a.Write(1)
	b.Write(2)
	<-entered

	returnsWithin(t, 2*time.Second, "Close with a source inside downstream", tp.Close)

	if err := tp.Err(); err != nil {
		t.Errorf("expected an interrupted flush not to fail the tee, got %v", err)
	}
	if a.Err() != nil || b.Err() != nil {
		t.Errorf("expected clean source shutdown, got %v and %v", a.Err(), b.Err())
	}
	if tp.Pending() != 0 {
		t.Errorf("expected buffer released, got %d", tp.Pending())
	}
}

func TestTee_StopWithBusyDownstream(t *testing.T) {
	downstream, entered := blockingDownstream()
	tp := newTestTee(downstream, nil)

	tp.AddSource().Write(1)
	<-entered

	if err := tp.Stop(waitCtx(t)); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
}

func TestTee_AddSourceAfterClose(t *testing.T) {
	tp := newTestTee[int](nil, nil)
	tp.Close()

	src := tp.AddSource()
	if !src.Closed() {
		t.Error("expected source of a closed tee to be closed")
	}
	src.Write(1)
	if tp.Sources() != 0 {
		t.Errorf("expected no sources registered, got %d", tp.Sources())
	}
}

func TestTee_SourceNamesAndStates(t *testing.T) {
	tp := newTestTee[int](nil, nil)
	defer tp.Close()

	a := tp.AddSource()
	b := tp.AddSource()
	if a.Name() != "merge-src-1" || b.Name() != "merge-src-2" {
		t.Errorf("unexpected source names %q, %q", a.Name(), b.Name())
	}
	if tp.Sources() != 2 {
		t.Errorf("expected 2 sources, got %d", tp.Sources())
	}

	states := tp.SourceStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	for i, s := range states {
		if s != SourceIdle {
			t.Errorf("source %d: expected idle, got %s", i, s)
		}
	}
}

func TestTee_SourceStateDuringFlush(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	tp := newTestTee(func(context.Context, int) error {
		close(entered)
		<-release
		return nil
	}, nil)
	defer tp.Close()

	src := tp.AddSource()
	src.Write(1)
	<-entered

	if got := SourceState(tp.sources[0].state.Load()); got != SourceFlushing {
		t.Errorf("expected flushing, got %s", got)
	}
	close(release)
	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
}

func TestTee_WaitForEmptyCanceled(t *testing.T) {
	downstream, entered := blockingDownstream()
	tp := newTestTee(downstream, nil)
	defer tp.Close()

	tp.AddSource().Write(1)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var err error
	returnsWithin(t, 2*time.Second, "WaitForEmpty with an expired ctx", func() {
		err = tp.WaitForEmpty(ctx)
	})
	if !stderrors.Is(err, errors.ErrCanceled) {
		t.Errorf("expected CANCELED, got %v", err)
	}
}

func TestTee_FlushCanceledWhileDownstreamBusy(t *testing.T) {
	downstream, entered := blockingDownstream()
	tp := newTestTee(downstream, nil)
	defer tp.Close()

	tp.AddSource().Write(1)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var err error
	returnsWithin(t, 2*time.Second, "Flush with an expired ctx", func() {
		err = tp.Flush(ctx)
	})
	if !stderrors.Is(err, errors.ErrCanceled) {
		t.Errorf("expected CANCELED, got %v", err)
	}
}

func TestTee_QueriesDoNotWaitForDownstream(t *testing.T) {
	downstream, entered := blockingDownstream()
	tp := newTestTee(downstream, nil)
	defer tp.Close()

	tp.AddSource().Write(1)
	<-entered

	returnsWithin(t, 2*time.Second, "tee queries during a flush", func() {
		if h := tp.Health(context.Background()); h.Status != component.StatusHealthy {
			t.Errorf("expected healthy, got %s", h.Status)
		}
		if n := tp.Pending(); n != 0 {
			t.Errorf("expected the in-flight item outside the buffer, got %d pending", n)
		}
		if n := tp.Dispatched(); n != 0 {
			t.Errorf("expected nothing dispatched yet, got %d", n)
		}
		if states := tp.SourceStates(); len(states) != 1 || states[0] != SourceFlushing {
			t.Errorf("expected [flushing], got %v", states)
		}
		if d := tp.Describe(); !strings.Contains(d.Details, "sources=1") {
			t.Errorf("unexpected description %+v", d)
		}
		if err := tp.Err(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestTee_InterruptedFlushKeepsItems(t *testing.T) {
	release := make(chan struct{})
	var out sink[int]
	tp := newTestTee(func(ctx context.Context, v int) error {
		if v == 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
			}
		}
		return out.downstream(ctx, v)
	}, Ascending[int](), WithFlushPolicy(FlushOnDrain))
	defer tp.Close()

	src := tp.AddSource()
	for _, v := range []int{3, 2, 1} {
		src.Write(v)
	}
	if err := src.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tp.Flush(ctx); !stderrors.Is(err, errors.ErrCanceled) {
		t.Fatalf("expected CANCELED, got %v", err)
	}
	if tp.Err() != nil {
		t.Errorf("expected no recorded failure, got %v", tp.Err())
	}
	if tp.Pending() != 2 {
		t.Errorf("expected 2 and 3 to stay buffered, got %d", tp.Pending())
	}

	close(release)
	if err := tp.Flush(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
	if got := out.snapshot(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
	if tp.Dispatched() != 3 {
		t.Errorf("expected 3 dispatched, got %d", tp.Dispatched())
	}
}

func TestTee_Component(t *testing.T) {
	tp := newTestTee[int](nil, nil, WithFlushPolicy(FlushOnDrain))
	ctx := context.Background()

	var c component.Component = tp
	if err := c.Start(ctx); err != nil {
		t.Errorf("unexpected start error: %v", err)
	}
	tp.AddSource()
	if h := c.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	if d := tp.Describe(); d.Type != "tee" || !strings.Contains(d.Details, "policy=on_drain") {
		t.Errorf("unexpected description %+v", d)
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

func TestTee_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := observability.NewPipeMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}

	tp := newTestTee[int](nil, Ascending[int](), WithFlushPolicy(FlushOnDrain), WithMetrics(m))
	defer tp.Close()
	a, b := tp.AddSource(), tp.AddSource()
	a.Write(2)
	b.Write(1)
	if err := tp.WaitForEmpty(waitCtx(t)); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var flushes, written int64
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch metric.Name {
				case observability.MetricTeeFlushes:
					flushes += dp.Value
				case observability.MetricItemsWritten:
					written += dp.Value
				}
			}
		}
	}
	if flushes != 1 {
		t.Errorf("expected 1 flush, got %d", flushes)
	}
	if written != 2 {
		t.Errorf("expected source writes to be counted, got %d", written)
	}
}

func TestOrderFuncs(t *testing.T) {
	tests := []struct {
		name  string
		order OrderFunc[int]
		want  []int
	}{
		{"ascending", Ascending[int](), []int{1, 2, 3, 4}},
		{"descending", Descending[int](), []int{4, 3, 2, 1}},
		{"custom", SortFunc(func(a, b int) int { return a%2 - b%2 }), []int{4, 2, 3, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items := []int{3, 4, 1, 2}
			tc.order(items)
			if !slices.Equal(items, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, items)
			}
		})
	}
}

func TestParseFlushPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FlushPolicy
		wantErr bool
	}{
		{"", FlushOnArrival, false},
		{"on_arrival", FlushOnArrival, false},
		{"ON_DRAIN", FlushOnDrain, false},
		{"sometimes", FlushOnArrival, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFlushPolicy(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestStateStrings(t *testing.T) {
	if SourceIdle.String() != "idle" || SourceDraining.String() != "draining" || SourceFlushing.String() != "flushing" {
		t.Error("unexpected source state names")
	}
	if SourceState(9).String() != "unknown" {
		t.Errorf("expected unknown, got %s", SourceState(9))
	}
	if FlushPolicy(7).String() != "FlushPolicy(7)" {
		t.Errorf("unexpected policy name %s", FlushPolicy(7))
	}
}
