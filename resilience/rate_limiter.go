package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/pipekit/errors"
)

// ErrRateLimited is returned by Execute when no token is available.
var ErrRateLimited = errors.New(errors.ErrCodeRateLimited, "rate limit exceeded")

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	// Name identifies this rate limiter in logs.
	Name string `yaml:"name" mapstructure:"name"`
	// Rate is the number of tokens added per second.
	Rate float64 `yaml:"rate" mapstructure:"rate" validate:"gte=0"`
	// Burst is the bucket size.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	// OnLimit is called when a call finds the bucket empty.
	OnLimit func(name string) `yaml:"-" mapstructure:"-"`
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig(name string) RateLimiterConfig {
	return RateLimiterConfig{
		Name:  name,
		Rate:  10.0,
		Burst: 20,
	}
}

// RateLimiter is a token bucket. Producers call Wait before each Write to
// bound their throughput.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 10.0
	}
	if config.Burst <= 0 {
		config.Burst = max(1, int(config.Rate))
	}

	return &RateLimiter{
		config:     config,
		tokens:     float64(config.Burst),
		lastRefill: time.Now(),
	}
}

// Allow reports whether one token was available and takes it.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n tokens were available and takes them.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}

	if rl.config.OnLimit != nil {
		rl.config.OnLimit(rl.config.Name)
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available or ctx is done. Tokens are
// reserved up front, so concurrent waiters are served in reservation order.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	waitTime := rl.reserveN(n)
	if waitTime <= 0 {
		return nil
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Canceled("rate limiter wait", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Execute runs fn if a token is available, otherwise returns ErrRateLimited.
func (rl *RateLimiter) Execute(fn func() error) error {
	if !rl.Allow() {
		return ErrRateLimited
	}
	return fn()
}

// ExecuteWait blocks until a token is available, then runs fn.
func (rl *RateLimiter) ExecuteWait(ctx context.Context, fn func() error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return fn()
}

// refill adds tokens for the time elapsed. Caller holds rl.mu.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.config.Rate
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// reserveN takes n tokens, letting the balance go negative, and returns how
// long the caller must wait for the debt to be repaid.
func (rl *RateLimiter) reserveN(n int) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	rl.tokens -= float64(n)
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.config.Rate * float64(time.Second))
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate returns the refill rate in tokens per second.
func (rl *RateLimiter) Rate() float64 {
	return rl.config.Rate
}

// Burst returns the bucket size.
func (rl *RateLimiter) Burst() int {
	return rl.config.Burst
}
