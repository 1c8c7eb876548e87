package scale

// State is the authoritative process-wide mode of the scale connection.
// The UI and the sale commit path both gate on it.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateWeighing
	StateStable
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateWeighing:
		return "weighing"
	case StateStable:
		return "stable"
	default:
		return "unknown"
	}
}
