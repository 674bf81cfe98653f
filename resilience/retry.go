package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kbukum/pipekit/errors"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	// InitialBackoff is the initial delay between retries.
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor" validate:"gte=0"`
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool `yaml:"-" mapstructure:"-"`
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, backoff time.Duration) `yaml:"-" mapstructure:"-"`
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// Enabled reports whether the config asks for more than one attempt.
func (c RetryConfig) Enabled() bool {
	return c.MaxAttempts > 1
}

// DefaultRetryIf retries plain errors and retryable AppErrors. Cancellation
// and shutdown are never retried.
func DefaultRetryIf(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if ae, ok := errors.AsAppError(err); ok {
		return ae.Retryable
	}
	return true
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
	return c
}

// Retry executes fn until it succeeds, returns a non-retryable error or
// MaxAttempts is reached. The last error is returned unchanged; a canceled
// ctx yields a CANCELED error.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	cfg = cfg.withDefaults()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Canceled("retry", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts {
			break
		}

		backoff := calculateBackoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Canceled("retry", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// RetryFunc executes a function that returns only an error.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// calculateBackoff returns initial * factor^(attempt-1), jittered and capped.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1))

	if cfg.Jitter > 0 {
		spread := backoff * cfg.Jitter
		backoff += (rand.Float64()*2 - 1) * spread
	}
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if backoff < 0 {
		backoff = float64(cfg.InitialBackoff)
	}
	return time.Duration(backoff)
}
