package config

import (
	"time"

	"github.com/kbukum/pipekit/resilience"
	"github.com/kbukum/pipekit/tee"
	"github.com/kbukum/pipekit/validation"
)

// PipeConfig configures the pipes and tees a driver builds.
type PipeConfig struct {
	// FlushPolicy is "on_arrival" or "on_drain".
	FlushPolicy string `yaml:"flush_policy" mapstructure:"flush_policy"`
	// StopTimeout bounds component shutdown.
	StopTimeout time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout" validate:"gte=0"`
	// DrainTimeout bounds a WaitForEmpty call. Zero waits until shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout" validate:"gte=0"`
	// Retry is applied to source processing. MaxAttempts <= 1 disables it.
	Retry resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	// RateLimit throttles producers. A zero rate disables throttling.
	RateLimit resilience.RateLimiterConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	// Bulkhead bounds how many producers run at once.
	Bulkhead resilience.BulkheadConfig `yaml:"bulkhead" mapstructure:"bulkhead"`
}

// ApplyDefaults applies default values to pipe configuration.
func (c *PipeConfig) ApplyDefaults() {
	if c.FlushPolicy == "" {
		c.FlushPolicy = tee.FlushOnArrival.String()
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.RateLimit.Name == "" {
		c.RateLimit.Name = "producers"
	}
	if c.Bulkhead.Name == "" {
		c.Bulkhead.Name = "producers"
	}
	if c.Bulkhead.MaxConcurrent == 0 {
		c.Bulkhead.MaxConcurrent = 4
	}
	if c.Bulkhead.MaxWait == 0 {
		c.Bulkhead.MaxWait = -1
	}
}

// Validate validates pipe configuration.
func (c *PipeConfig) Validate() error {
	v := validation.New()
	v.OneOf("flush_policy", c.FlushPolicy, []string{
		tee.FlushOnArrival.String(),
		tee.FlushOnDrain.String(),
	})
	v.NonNegative("stop_timeout", c.StopTimeout)
	v.NonNegative("drain_timeout", c.DrainTimeout)
	v.Merge("retry", validation.Validate(c.Retry))
	v.Merge("rate_limit", validation.Validate(c.RateLimit))
	v.Merge("bulkhead", validation.Validate(c.Bulkhead))
	return v.Err()
}

// Policy returns the parsed flush policy. Call Validate first.
func (c *PipeConfig) Policy() tee.FlushPolicy {
	p, err := tee.ParseFlushPolicy(c.FlushPolicy)
	if err != nil {
		return tee.FlushOnArrival
	}
	return p
}

// Throttled reports whether producers should go through a rate limiter.
func (c *PipeConfig) Throttled() bool {
	return c.RateLimit.Rate > 0
}
