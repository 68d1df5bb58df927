package session

// State is a session lifecycle state. Transitions only move forward:
// Connecting -> Established -> Closing -> Closed. Connecting may go
// straight to Closing when a session is closed before it starts.
type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
