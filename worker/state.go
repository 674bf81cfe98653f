package worker

// State is the lifecycle state of a Worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether a goroutine may still be executing in this state.
func (s State) Active() bool {
	return s == StateRunning || s == StateStopRequested
}
