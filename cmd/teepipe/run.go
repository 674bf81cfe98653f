package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/kbukum/pipekit/bootstrap"
	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/pipe"
	"github.com/kbukum/pipekit/resilience"
	"github.com/kbukum/pipekit/tee"
	"github.com/kbukum/pipekit/worker"
)

// run merges cfg.Inputs through a tee in ascending order and writes one
// value per line to out.
func run(ctx context.Context, cfg *Config, out io.Writer, opts ...bootstrap.Option) error {
	app, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return err
	}
	log := app.Logger.WithComponent(serviceName)

	// Instruments created on the global meter are rebound once telemetry
	// installs a real provider.
	metrics, err := observability.NewPipeMetrics(observability.Meter("github.com/kbukum/pipekit/cmd/teepipe"))
	if err != nil {
		return err
	}

	emit := func(_ context.Context, v int64) error {
		_, err := fmt.Fprintln(out, v)
		return err
	}
	merge := tee.New(cfg.Name, emit, tee.Ascending[int64](),
		tee.WithLogger(log),
		tee.WithMetrics(metrics),
		tee.WithFlushPolicy(cfg.Pipe.Policy()),
		tee.WithSourceOptions(pipe.WithRetry(cfg.Pipe.Retry)),
	)

	// Stopped in reverse: the tee closes before telemetry flushes.
	if err := app.RegisterComponent(newTelemetry(&cfg.ServiceConfig)); err != nil {
		return err
	}
	if err := app.RegisterComponent(merge); err != nil {
		return err
	}

	return app.RunTask(ctx, func(ctx context.Context) error {
		if err := produce(ctx, cfg, merge, log); err != nil {
			return err
		}

		drainCtx := ctx
		if cfg.Pipe.DrainTimeout > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(ctx, cfg.Pipe.DrainTimeout)
			defer cancel()
		}
		if err := merge.WaitForEmpty(drainCtx); err != nil {
			return err
		}

		log.Info("merge complete", logger.Fields(
			"inputs", len(cfg.Inputs),
			"dispatched", merge.Dispatched(),
		))
		return nil
	})
}

// produce starts one producer worker per input and waits for all of them.
// Producers share a bulkhead and, when configured, a rate limiter.
func produce(ctx context.Context, cfg *Config, merge *tee.TeePipe[int64], log *logger.Logger) error {
	bulkhead := resilience.NewBulkhead(cfg.Pipe.Bulkhead)
	var limiter *resilience.RateLimiter
	if cfg.Pipe.Throttled() {
		limiter = resilience.NewRateLimiter(cfg.Pipe.RateLimit)
	}

	workers := make([]*worker.Worker, 0, len(cfg.Inputs))
	for i, path := range cfg.Inputs {
		p := &producer{path: path, src: merge.AddSource(), limiter: limiter, log: log}
		w := worker.New(fmt.Sprintf("producer-%d", i+1), func(ctx context.Context) error {
			return bulkhead.Execute(ctx, func() error { return p.run(ctx) })
		}, worker.WithLogger(log))
		if err := w.StartContext(ctx, nil); err != nil {
			return err
		}
		workers = append(workers, w)
	}

	var errs []error
	for _, w := range workers {
		w.Join()
		if err := w.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return err
	}
	// Producers exit cleanly on cancellation; the merge is still incomplete.
	if err := ctx.Err(); err != nil {
		return errors.Canceled("produce", err)
	}
	return nil
}
