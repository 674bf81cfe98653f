package tee

import (
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/pipe"
)

type options struct {
	log        *logger.Logger
	metrics    *observability.PipeMetrics
	policy     FlushPolicy
	sourceOpts []pipe.Option
}

// Option configures a TeePipe.
type Option func(*options)

// WithLogger sets the logger for the tee and its sources.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records flushes and is passed on to every source pipe.
func WithMetrics(m *observability.PipeMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFlushPolicy selects when the merge buffer is flushed.
func WithFlushPolicy(p FlushPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithSourceOptions adds options applied to every source pipe, after the
// tee's own logger and metrics.
func WithSourceOptions(opts ...pipe.Option) Option {
	return func(o *options) { o.sourceOpts = append(o.sourceOpts, opts...) }
}
