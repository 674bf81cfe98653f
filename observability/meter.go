package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/pipekit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metric names.
const (
	MetricItemsWritten   = "pipe.items.written"
	MetricItemsProcessed = "pipe.items.processed"
	MetricItemsFailed    = "pipe.items.failed"
	MetricDrainDuration  = "pipe.drain.duration"
	MetricTeeFlushes     = "tee.flushes"
	MetricTeeFlushSize   = "tee.flush.size"
)

// Status attribute values for processed items.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// PipeMetrics holds the instruments shared by pipes and tees. A nil
// *PipeMetrics is valid and records nothing.
type PipeMetrics struct {
	itemsWritten   metric.Int64Counter
	itemsProcessed metric.Int64Counter
	itemsFailed    metric.Int64Counter
	drainDuration  metric.Float64Histogram
	teeFlushes     metric.Int64Counter
	teeFlushSize   metric.Int64Histogram
}

// NewPipeMetrics creates metric instruments on the given meter.
func NewPipeMetrics(meter metric.Meter) (*PipeMetrics, error) {
	itemsWritten, err := meter.Int64Counter(MetricItemsWritten,
		metric.WithDescription("Items written to a pipe"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricItemsWritten, err)
	}

	itemsProcessed, err := meter.Int64Counter(MetricItemsProcessed,
		metric.WithDescription("Items handed to a processing function, by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricItemsProcessed, err)
	}

	itemsFailed, err := meter.Int64Counter(MetricItemsFailed,
		metric.WithDescription("Items whose processing function failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricItemsFailed, err)
	}

	drainDuration, err := meter.Float64Histogram(MetricDrainDuration,
		metric.WithDescription("Time spent blocked in WaitForEmpty"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricDrainDuration, err)
	}

	teeFlushes, err := meter.Int64Counter(MetricTeeFlushes,
		metric.WithDescription("Merge-and-flush evaluations that dispatched items"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricTeeFlushes, err)
	}

	teeFlushSize, err := meter.Int64Histogram(MetricTeeFlushSize,
		metric.WithDescription("Items dispatched downstream per flush"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricTeeFlushSize, err)
	}

	return &PipeMetrics{
		itemsWritten:   itemsWritten,
		itemsProcessed: itemsProcessed,
		itemsFailed:    itemsFailed,
		drainDuration:  drainDuration,
		teeFlushes:     teeFlushes,
		teeFlushSize:   teeFlushSize,
	}, nil
}

// RecordWrite counts one item accepted by a pipe.
func (m *PipeMetrics) RecordWrite(ctx context.Context, pipe string) {
	if m == nil {
		return
	}
	m.itemsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPipe, pipe)))
}

// RecordProcessed counts one item handed to a processing function.
func (m *PipeMetrics) RecordProcessed(ctx context.Context, pipe, status string) {
	if m == nil {
		return
	}
	m.itemsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipe, pipe),
		attribute.String(AttrStatus, status),
	))
}

// RecordFailure counts one item whose processing function failed.
func (m *PipeMetrics) RecordFailure(ctx context.Context, pipe, code string) {
	if m == nil {
		return
	}
	m.itemsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipe, pipe),
		attribute.String(AttrErrorCode, code),
	))
}

// RecordDrain records how long a WaitForEmpty call blocked.
func (m *PipeMetrics) RecordDrain(ctx context.Context, pipe string, d time.Duration) {
	if m == nil {
		return
	}
	m.drainDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(AttrPipe, pipe)))
}

// RecordFlush records one tee flush of size items.
func (m *PipeMetrics) RecordFlush(ctx context.Context, tee string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrTee, tee))
	m.teeFlushes.Add(ctx, 1, attrs)
	m.teeFlushSize.Record(ctx, int64(size), attrs)
}
