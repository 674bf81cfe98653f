package pipe

import (
	"context"
	"fmt"

	"github.com/kbukum/pipekit/component"
	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/worker"
)

var _ component.Component = (*Pipe[int])(nil)

// Start is a no-op: the worker is started by New. It fails once the pipe has
// been closed.
func (p *Pipe[T]) Start(context.Context) error {
	if p.Closed() {
		return errors.Closed(fmt.Sprintf("pipe %s", p.name))
	}
	return nil
}

// Stop closes the pipe, giving up waiting once ctx is done. It returns the
// error that stopped the worker, if any.
func (p *Pipe[T]) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
		return p.Err()
	case <-ctx.Done():
		return errors.Canceled(fmt.Sprintf("pipe %s stop", p.name), ctx.Err())
	}
}

// Health reports a failed worker as unhealthy and a closed pipe as degraded.
func (p *Pipe[T]) Health(context.Context) component.Health {
	h := component.Health{Name: p.name, Status: component.StatusHealthy}
	switch {
	case p.Err() != nil:
		h.Status = component.StatusUnhealthy
		h.Message = p.Err().Error()
	case p.Closed():
		h.Status = component.StatusDegraded
		h.Message = "closed"
	case p.worker != nil && p.State() != worker.StateRunning:
		h.Status = component.StatusDegraded
		h.Message = p.State().String()
	}
	return h
}

// Describe implements component.Describable.
func (p *Pipe[T]) Describe() component.Description {
	s := p.Stats()
	return component.Description{
		Type:    "pipe",
		Details: fmt.Sprintf("pushed=%d processed=%d pending=%d", s.Pushed, s.Processed, s.Pending),
	}
}
