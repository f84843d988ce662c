package realtime

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Disconnect reasons that callers act on.
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonNoSession      = "no session"
	ReasonStopped        = "stopped"
	ReasonDialFailed     = "dial failed"
	ReasonConnectionLost = "connection lost"
)

// StateChange is published on every transition. Reason and Err are set only
// for Disconnected.
type StateChange struct {
	State  State
	Reason string
	Err    error
}

func (s StateChange) String() string {
	if s.Reason == "" {
		return s.State.String()
	}
	return s.State.String() + "(" + s.Reason + ")"
}

// Unauthorized reports whether the server refused the access token. The
// channel does not reconnect by itself after this.
func (s StateChange) Unauthorized() bool {
	return s.State == Disconnected && s.Reason == ReasonUnauthorized
}
