package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed stage or service.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start starts the component. Starting a running component is a no-op.
	Start(ctx context.Context) error

	// Stop shuts the component down and releases its goroutines.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Description is a component's self-reported summary.
type Description struct {
	// Name is the display name. If empty, the component's Name() is used.
	Name string
	// Type categorizes the component: "pipe", "tee", "telemetry".
	Type string
	// Details is a one-liner logged at startup, e.g. "sources=3 policy=on_drain".
	Details string
}

// Describable is optionally implemented by Components to provide
// startup summary information.
type Describable interface {
	Describe() Description
}
