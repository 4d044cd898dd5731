package relay

// State is the lifecycle state of the relay connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDegraded
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON health responses.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// expected lists the transitions of the normal lifecycle. Anything else is
// still applied but logged at warn level.
var expected = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateReady, StateDisconnected},
	StateReady:        {StateDegraded, StateDisconnected},
	StateDegraded:     {StateReconnecting, StateReady, StateDisconnected},
	StateReconnecting: {StateReady, StateDisconnected},
}

func expectedTransition(from, to State) bool {
	for _, s := range expected[from] {
		if s == to {
			return true
		}
	}
	return false
}
