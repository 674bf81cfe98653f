package tee

import (
	"context"
	"fmt"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/errors"
)

var _ component.Component = (*TeePipe[int])(nil)

// Start is a no-op for an open tee; sources start as they are added.
func (t *TeePipe[T]) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Closed(fmt.Sprintf("tee %s", t.name))
	}
	return nil
}

// Stop closes the tee, giving up waiting once ctx is done.
func (t *TeePipe[T]) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.Close()
		close(done)
	}()
	select {
	case <-done:
		return t.Err()
	case <-ctx.Done():
		return errors.Canceled(fmt.Sprintf("tee %s stop", t.name), ctx.Err())
	}
}

// Health is unhealthy after a downstream failure and degraded once closed.
func (t *TeePipe[T]) Health(context.Context) component.Health {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := component.Health{Name: t.name, Status: component.StatusHealthy}
	switch {
	case t.err != nil:
		h.Status = component.StatusUnhealthy
		h.Message = t.err.Error()
	case t.closed:
		h.Status = component.StatusDegraded
		h.Message = "closed"
	}
	return h
}

// Describe implements component.Describable.
func (t *TeePipe[T]) Describe() component.Description {
	return component.Description{
		Type:    "tee",
		Details: fmt.Sprintf("sources=%d policy=%s pending=%d", t.Sources(), t.policy, t.Pending()),
	}
}
