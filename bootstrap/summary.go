package bootstrap

import (
	"context"
	"time"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/logger"
)

// ComponentStatus is one component's entry in the startup summary.
type ComponentStatus struct {
	Name    string
	Type    string // from component.Describable, empty otherwise
	Details string
	Status  component.HealthStatus
	Message string
}

// Healthy reports whether the component was healthy when tracked.
func (s ComponentStatus) Healthy() bool {
	return s.Status == component.StatusHealthy
}

// Summary collects what happened during startup and logs it once the
// application is ready. It is not safe for concurrent use.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	startHooks      int
	components      []ComponentStatus
}

// NewSummary creates an empty summary for a service.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// StartupDuration returns the recorded startup time.
func (s *Summary) StartupDuration() time.Duration {
	return s.startupDuration
}

// TrackStartHooks records how many start hooks ran.
func (s *Summary) TrackStartHooks(n int) {
	s.startHooks = n
}

// TrackComponent records c together with the health it reported.
func (s *Summary) TrackComponent(c component.Component, h component.Health) {
	st := ComponentStatus{Name: c.Name(), Status: h.Status, Message: h.Message}
	if d, ok := c.(component.Describable); ok {
		desc := d.Describe()
		st.Type = desc.Type
		st.Details = desc.Details
	}
	s.components = append(s.components, st)
}

// Components returns the tracked components in registration order.
func (s *Summary) Components() []ComponentStatus {
	return append([]ComponentStatus(nil), s.components...)
}

// Unhealthy returns the names of tracked components that were not healthy.
func (s *Summary) Unhealthy() []string {
	var names []string
	for _, c := range s.components {
		if !c.Healthy() {
			names = append(names, c.Name)
		}
	}
	return names
}

// Log writes one debug line per component and one info line for the
// application.
func (s *Summary) Log(log *logger.Logger) {
	for _, c := range s.components {
		fields := logger.Fields(logger.FieldComponent, c.Name, "status", string(c.Status))
		if c.Type != "" {
			fields["type"] = c.Type
		}
		if c.Details != "" {
			fields["details"] = c.Details
		}
		if c.Message != "" {
			fields["message"] = c.Message
		}
		log.Debug("component ready", fields)
	}

	fields := logger.Fields(
		"name", s.serviceName,
		"version", s.version,
		"components", len(s.components),
		"start_hooks", s.startHooks,
		logger.FieldDuration, s.startupDuration.Milliseconds(),
	)
	if unhealthy := s.Unhealthy(); len(unhealthy) > 0 {
		fields["unhealthy"] = unhealthy
	}
	log.Info("application started", fields)
}

// logSummary builds a fresh summary from the registry's live health and logs it.
func (a *App[C]) logSummary(ctx context.Context, startup time.Duration) {
	health := make(map[string]component.Health)
	for _, h := range a.Components.HealthAll(ctx) {
		health[h.Name] = h
	}

	s := NewSummary(a.Name, a.Version)
	for _, c := range a.Components.All() {
		s.TrackComponent(c, health[c.Name()])
	}
	s.TrackStartHooks(len(a.onStart))
	s.SetStartupDuration(startup)

	a.Summary = s
	s.Log(a.Logger)
}
