package tee

import (
	"fmt"
	"strings"

	"github.com/kbukum/pipekit/errors"
)

// SourceState is where a source's worker is in the merge cycle.
type SourceState int32

const (
	// SourceIdle: waiting for the next item from its queue.
	SourceIdle SourceState = iota
	// SourceDraining: adding a popped item to the merge buffer.
	SourceDraining
	// SourceFlushing: ordering the buffer and dispatching it downstream.
	SourceFlushing
)

func (s SourceState) String() string {
	switch s {
	case SourceIdle:
		return "idle"
	case SourceDraining:
		return "draining"
	case SourceFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// FlushPolicy decides when the merge buffer is ordered and dispatched.
type FlushPolicy int

const (
	// FlushOnArrival flushes after every item a source adds. Output is
	// ordered only within the items that happened to be buffered together.
	FlushOnArrival FlushPolicy = iota
	// FlushOnDrain buffers until Flush or WaitForEmpty, so everything that
	// arrived before the barrier is dispatched in one ordered run.
	FlushOnDrain
)

func (p FlushPolicy) String() string {
	switch p {
	case FlushOnArrival:
		return "on_arrival"
	case FlushOnDrain:
		return "on_drain"
	default:
		return fmt.Sprintf("FlushPolicy(%d)", int(p))
	}
}

// ParseFlushPolicy maps "on_arrival" or "on_drain" (case-insensitive) to a
// FlushPolicy. The empty string selects FlushOnArrival.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "on_arrival":
		return FlushOnArrival, nil
	case "on_drain":
		return FlushOnDrain, nil
	default:
		return FlushOnArrival, errors.InvalidInput("flush_policy", fmt.Sprintf("unknown flush policy %q", s))
	}
}
