package resilience

import (
	"context"
	"time"

	"github.com/kbukum/pipekit/errors"
)

// Bulkhead rejection errors.
var (
	ErrBulkheadFull    = errors.New(errors.ErrCodeBulkheadFull, "bulkhead is full")
	ErrBulkheadTimeout = errors.New(errors.ErrCodeTimeout, "bulkhead wait timeout")
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead in logs.
	Name string `yaml:"name" mapstructure:"name"`
	// MaxConcurrent is the maximum number of concurrent calls.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`
	// MaxWait is how long to wait for a slot. 0 means fail immediately,
	// a negative value waits until ctx is done.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	// OnReject is called when a call is rejected.
	OnReject func(name string) `yaml:"-" mapstructure:"-"`
}

// DefaultBulkheadConfig returns sensible defaults.
func DefaultBulkheadConfig(name string) BulkheadConfig {
	return BulkheadConfig{
		Name:          name,
		MaxConcurrent: 10,
	}
}

// Bulkhead limits how many calls run at the same time.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Execute runs fn while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquire(ctx); err != nil {
		if b.config.OnReject != nil {
			b.config.OnReject(b.config.Name)
		}
		return err
	}
	defer b.release()
	return fn()
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}

	if b.config.MaxWait == 0 {
		return ErrBulkheadFull
	}

	var expired <-chan time.Time
	if b.config.MaxWait > 0 {
		timer := time.NewTimer(b.config.MaxWait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-expired:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return errors.Canceled("bulkhead acquire", ctx.Err())
	}
}

func (b *Bulkhead) release() {
	<-b.sem
}

// Available returns the number of free slots.
func (b *Bulkhead) Available() int {
	return b.config.MaxConcurrent - len(b.sem)
}

// InUse returns the number of slots currently held.
func (b *Bulkhead) InUse() int {
	return len(b.sem)
}

// MaxConcurrent returns the slot count.
func (b *Bulkhead) MaxConcurrent() int {
	return b.config.MaxConcurrent
}
