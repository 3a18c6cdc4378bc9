// Package replica keeps a local SQLite copy of the primary, reports row
// count drift between the two, repairs local corruption and watches the
// primary's liveness.
package replica

// State is the coordinator's position in its lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSyncing
	StateConsistent
	StateDrifted
	StatePrimaryDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateConsistent:
		return "consistent"
	case StateDrifted:
		return "drifted"
	case StatePrimaryDown:
		return "primary_down"
	default:
		return "unknown"
	}
}
