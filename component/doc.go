// Package component defines the lifecycle interface shared by pipes, tees
// and the infrastructure they depend on, and a Registry that starts them in
// registration order and stops them in reverse.
//
// # Interfaces
//
//   - Component: Name/Start/Stop/Health
//   - Describable: optional one-line summary for startup logs
//
// LazyComponent adapts a deferred initializer (for example an OpenTelemetry
// provider) to Component.
package component
