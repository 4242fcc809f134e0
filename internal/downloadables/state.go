package downloadables

// State is the lifecycle position of a Handle.
type State int

const (
	StateIdle State = iota
	StateDownloading
	StatePaused
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name so status payloads stay readable.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the scheduler will never pick the state up again
// without host intervention.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
