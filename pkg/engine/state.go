package engine

// State is the lifecycle state of a Server.
type State int32

// Server states.
const (
	StateUnstarted State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
