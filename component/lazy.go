package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/pipekit/logger"
)

// LazyComponent defers an expensive initializer until Start and adapts it to
// Component. The initializer returns the matching shutdown function.
type LazyComponent struct {
	name        string
	kind        string
	mu          sync.Mutex
	initialized bool
	lastError   error
	initializer func(ctx context.Context) (func(context.Context) error, error)
	shutdown    func(context.Context) error
}

// NewLazyComponent creates a lazy component with the given initializer.
func NewLazyComponent(name, kind string, initializer func(context.Context) (func(context.Context) error, error)) *LazyComponent {
	return &LazyComponent{name: name, kind: kind, initializer: initializer}
}

// Name returns the component name.
func (c *LazyComponent) Name() string { return c.name }

// Start runs the initializer once. A failed initialization may be retried.
func (c *LazyComponent) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if c.initializer == nil {
		return fmt.Errorf("no initializer for component: %s", c.name)
	}

	shutdown, err := c.initializer(ctx)
	if err != nil {
		c.lastError = err
		return fmt.Errorf("failed to initialize %s: %w", c.name, err)
	}
	c.shutdown = shutdown
	c.initialized = true
	c.lastError = nil

	logger.Debug("lazy component initialized", logger.Fields(logger.FieldComponent, c.name))
	return nil
}

// Stop runs the shutdown function returned by the initializer.
func (c *LazyComponent) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}
	c.initialized = false
	if c.shutdown == nil {
		return nil
	}
	return c.shutdown(ctx)
}

// Health reports unhealthy until Start has succeeded.
func (c *LazyComponent) Health(context.Context) Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.initialized:
		return Health{Name: c.name, Status: StatusHealthy}
	case c.lastError != nil:
		return Health{Name: c.name, Status: StatusUnhealthy, Message: c.lastError.Error()}
	default:
		return Health{Name: c.name, Status: StatusUnhealthy, Message: "not initialized"}
	}
}

// Describe implements Describable.
func (c *LazyComponent) Describe() Description {
	return Description{Name: c.name, Type: c.kind}
}
