package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for transport operations.
var (
	// ErrInvalidBaseURL is returned by New when the base URL is not an
	// absolute http or https URL.
	ErrInvalidBaseURL = errors.New("transport: invalid base URL")

	// ErrInvalidResponse is returned when a successful response body is not
	// valid JSON or does not decode into the expected type.
	ErrInvalidResponse = errors.New("transport: invalid response body")
)

// RemoteError is a failure reported by the server: any response whose status
// is not 200. Payload is the decoded response body.
//
// MakeRequest returns *RemoteError[json.RawMessage]; Call decodes the payload
// into the endpoint's error type.
type RemoteError[T any] struct {
	Status  int
	Payload T
}

// Error returns the status and the JSON form of the payload.
func (e *RemoteError[T]) Error() string {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Sprintf("transport: remote error (status %d)", e.Status)
	}
	return fmt.Sprintf("transport: remote error (status %d): %s", e.Status, data)
}

// ConnectionError reports that the request or stream never produced a
// server response: DNS, connect, TLS, or a rejected WebSocket upgrade.
type ConnectionError struct {
	Op     string // "request", "read" or "dial"
	URL    string
	Status int // HTTP status of a rejected upgrade, 0 otherwise
	Err    error
}

// Error returns the error message with request context.
func (e *ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRemoteError reports whether err carries a server error payload.
func IsRemoteError(err error) bool {
	var re *RemoteError[json.RawMessage]
	return errors.As(err, &re)
}

// IsConnectionError reports whether err is a transport failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
