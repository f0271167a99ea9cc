package relay

// State is the controller's position in its connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
