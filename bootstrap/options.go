package bootstrap

import (
	"os"
	"time"

	"github.com/kbukum/pipekit/logger"
)

// Option configures the App during creation.
// Options are non-generic so they can be used with any config type.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	signals         []os.Signal
}

func resolveOptions(opts []Option) *appOptions {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger for the application.
// If not set, the logger is initialized from the config's Logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout sets the maximum duration for shutdown. It defaults to
// the config's pipe.stop_timeout.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) {
		o.gracefulTimeout = &d
	}
}

// WithSignals replaces the signals that cancel a running task. No signals
// disables signal handling.
func WithSignals(sigs ...os.Signal) Option {
	return func(o *appOptions) {
		o.signals = sigs
		if o.signals == nil {
			o.signals = []os.Signal{}
		}
	}
}
