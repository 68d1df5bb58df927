package metrics

// SessionMetrics observes traffic and failures on individual sessions.
//
// Implementations must be safe for concurrent use: sessions on different
// event loops report into the same instance.
type SessionMetrics interface {
	// RecordFrameReceived counts one inbound frame with its body size.
	RecordFrameReceived(bytes int)

	// RecordFrameSent counts one outbound frame with its total wire size.
	RecordFrameSent(bytes int)

	// RecordHeartbeatSent counts one keepalive frame queued.
	RecordHeartbeatSent()

	// RecordSessionError counts a session failure by error class
	// ("io", "protocol", "timeout", "connect").
	RecordSessionError(class string)
}

// ServerMetrics observes the connection lifecycle of a server in addition
// to the traffic of its sessions.
type ServerMetrics interface {
	SessionMetrics

	// RecordConnectionAccepted counts one accepted connection.
	RecordConnectionAccepted()

	// RecordConnectionClosed counts one session removed from the registry.
	RecordConnectionClosed()

	// RecordConnectionRejected counts a connection dropped before a session
	// was created (server stopping, no loop available).
	RecordConnectionRejected()

	// SetActiveSessions updates the live session gauge.
	SetActiveSessions(count int)
}

// NewNoopServerMetrics returns a ServerMetrics that records nothing.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

type noopServerMetrics struct{}

func (noopServerMetrics) RecordFrameReceived(int)     {}
func (noopServerMetrics) RecordFrameSent(int)         {}
func (noopServerMetrics) RecordHeartbeatSent()        {}
func (noopServerMetrics) RecordSessionError(string)   {}
func (noopServerMetrics) RecordConnectionAccepted()   {}
func (noopServerMetrics) RecordConnectionClosed()     {}
func (noopServerMetrics) RecordConnectionRejected()   {}
func (noopServerMetrics) SetActiveSessions(count int) {}
