// Package observability provides OpenTelemetry tracing and metrics for pipes
// and tees.
//
// Nothing is exported unless the application installs providers; until then
// the global otel providers are no-ops and instrumentation costs a few
// interface calls.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("merge"))
//	defer tp.Shutdown(ctx)
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("merge"))
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewPipeMetrics(observability.Meter("pipekit"))
//	p := pipe.New("ingest", fn, pipe.WithMetrics(metrics))
package observability
