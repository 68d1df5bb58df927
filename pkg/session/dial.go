package session

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/dittonet/internal/logger"
	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/metrics"
)

// Dial opens an outbound connection and wraps it in a session bound to loop.
// The session is returned in StateConnecting so handlers can be installed
// before Start. Connection failures are returned as *Error with
// ErrorConnect; there is no retry.
func Dial(ctx context.Context, loop *eventloop.Loop, address string, config Config, m metrics.SessionMetrics) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		logger.Error("Failed to connect to %s: %v", address, err)
		if m != nil {
			m.RecordSessionError(ErrorConnect.String())
		}
		return nil, &Error{Code: ErrorConnect, Err: fmt.Errorf("dial %s: %w", address, err)}
	}
	return New(conn, loop, config, m), nil
}
