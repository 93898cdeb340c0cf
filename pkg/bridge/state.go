package bridge

// State is the lifecycle of a bridge session
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateProcessing
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// CanStart reports whether Start may be called from s
func (s State) CanStart() bool {
	return s == StateNotStarted || s == StateFailed || s == StateStopped
}
