package main

import (
	"context"
	stderrors "errors"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/config"
	"github.com/kbukum/pipekit/observability"
)

// newTelemetry returns a component that installs the OTLP tracer and meter
// providers on Start when observability is enabled, and flushes them on
// Stop. Disabled telemetry leaves the global noop providers in place.
func newTelemetry(cfg *config.ServiceConfig) *component.LazyComponent {
	return component.NewLazyComponent("telemetry", "telemetry", func(ctx context.Context) (func(context.Context) error, error) {
		if !cfg.Observability.Enabled {
			return nil, nil
		}

		tc := cfg.Observability.TracerConfig(cfg.Name, cfg.Version, cfg.Environment)
		tp, err := observability.InitTracer(ctx, &tc)
		if err != nil {
			return nil, err
		}

		mc := cfg.Observability.MeterConfig(cfg.Name, cfg.Version, cfg.Environment)
		mp, err := observability.InitMeter(ctx, &mc)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}

		return func(ctx context.Context) error {
			return stderrors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
		}, nil
	})
}
