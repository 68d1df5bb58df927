package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/marmos91/dittonet/pkg/frame"
)

var (
	// ErrSessionClosed is returned by Send once the session is closing.
	ErrSessionClosed = errors.New("session closed")

	// ErrIdleTimeout is reported when no frame header arrives within the
	// configured idle timeout.
	ErrIdleTimeout = errors.New("idle read timeout")
)

// ErrorCode classifies a session failure.
type ErrorCode int

const (
	// ErrorNone means no error.
	ErrorNone ErrorCode = iota
	// ErrorClosed is an orderly or peer-initiated close: EOF, reset,
	// aborted, or an operation cancelled because the socket was closed.
	ErrorClosed
	// ErrorIO is any other read or write failure.
	ErrorIO
	// ErrorProtocol is a framing violation, such as an oversized body.
	ErrorProtocol
	// ErrorTimeout is an idle read timeout.
	ErrorTimeout
	// ErrorConnect is a failure to establish an outbound connection.
	ErrorConnect
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorClosed:
		return "closed"
	case ErrorIO:
		return "io"
	case ErrorProtocol:
		return "protocol"
	case ErrorTimeout:
		return "timeout"
	case ErrorConnect:
		return "connect"
	default:
		return "unknown"
	}
}

// Error pairs a classified code with its cause.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an error from a session operation to an ErrorCode.
func Classify(err error) ErrorCode {
	var se *Error
	switch {
	case err == nil:
		return ErrorNone
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, frame.ErrFrameTooLarge):
		return ErrorProtocol
	case errors.Is(err, ErrIdleTimeout):
		return ErrorTimeout
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return ErrorClosed
	default:
		return ErrorIO
	}
}
