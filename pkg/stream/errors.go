package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors for stream operations.
var (
	// ErrStreamClosed is returned when sending on a stream that is not open.
	ErrStreamClosed = errors.New("stream: closed")

	// ErrInvalidHandshake is returned when the first inbound frame is not a
	// valid handshake.
	ErrInvalidHandshake = errors.New("stream: invalid handshake")

	// ErrAlreadyStarted is returned by Serve when the read loop is running.
	ErrAlreadyStarted = errors.New("stream: already started")

	// ErrNilConn is returned when a stream is constructed without a connection.
	ErrNilConn = errors.New("stream: nil connection")
)

// ConnectionError reports a transport failure on a stream. It is also the
// value returned by Err after the connection was lost.
type ConnectionError struct {
	StreamID string
	Op       string // "handshake", "read", "write" or "ping"
	Err      error
}

// Error returns the error message with stream context.
func (e *ConnectionError) Error() string {
	if e.StreamID == "" {
		return fmt.Sprintf("stream: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("stream %s: %s: %v", e.StreamID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
