package pipe

import (
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/resilience"
)

type options struct {
	log     *logger.Logger
	metrics *observability.PipeMetrics
	retry   *resilience.RetryConfig
}

// Option configures a Pipe.
type Option func(*options)

// WithLogger sets the logger for pipe and worker lifecycle events.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records writes, processed items and drain waits.
func WithMetrics(m *observability.PipeMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRetry re-runs a failing processing function according to cfg before
// the failure becomes fatal. A cfg allowing a single attempt disables retry.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) {
		if !cfg.Enabled() {
			o.retry = nil
			return
		}
		o.retry = &cfg
	}
}
