package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
)

// DefaultStopTimeout bounds each component's Stop during StopAll.
const DefaultStopTimeout = 10 * time.Second

// componentEntry holds a component and its started state.
type componentEntry struct {
	component Component
	started   bool
}

// Registry manages component lifecycle with deterministic ordering.
// Components are started in registration order and stopped in reverse order,
// so register upstream stages after the stages they feed.
type Registry struct {
	entries     []*componentEntry
	lookup      map[string]*componentEntry
	mu          sync.RWMutex
	log         *logger.Logger
	stopTimeout time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// NewRegistry creates a new component registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:     make([]*componentEntry, 0),
		lookup:      make(map[string]*componentEntry),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.WithComponent("registry")
	}
	return r
}

// Register adds a component to the registry.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.lookup[name]; exists {
		return errors.InvalidInput("component", fmt.Sprintf("%s already registered", name))
	}

	entry := &componentEntry{component: c}
	r.entries = append(r.entries, entry)
	r.lookup[name] = entry

	r.log.Debug("component registered", logger.Fields(logger.FieldComponent, name))
	return nil
}

// StartAll starts all components in registration order. It stops at the
// first failure; components already started stay started.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("starting components", logger.Fields("count", len(r.entries)))

	for _, entry := range r.entries {
		name := entry.component.Name()
		if err := entry.component.Start(ctx); err != nil {
			r.log.WithError(err).Error("component start failed", logger.Fields(logger.FieldComponent, name))
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		entry.started = true

		fields := logger.Fields(logger.FieldComponent, name)
		if d, ok := entry.component.(Describable); ok {
			desc := d.Describe()
			fields["type"] = desc.Type
			fields["details"] = desc.Details
		}
		r.log.Debug("component started", fields)
	}
	return nil
}

// StopAll stops all started components in reverse registration order. Every
// component is attempted; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if !entry.started {
			continue
		}

		name := entry.component.Name()
		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		if err := entry.component.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			r.log.WithError(err).Error("component stop failed", logger.Fields(logger.FieldComponent, name))
		} else {
			r.log.Debug("component stopped", logger.Fields(logger.FieldComponent, name))
		}
		entry.started = false
		cancel()
	}
	return stderrors.Join(errs...)
}

// HealthAll returns health status for all registered components.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]Health, 0, len(r.entries))
	for _, entry := range r.entries {
		results = append(results, entry.component.Health(ctx))
	}
	return results
}

// Get returns a registered component by name, or nil if not found.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.lookup[name]; exists {
		return entry.component
	}
	return nil
}

// All returns all registered components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Component, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry.component)
	}
	return result
}
