package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by DecodeError.
var (
	// ErrInvalidFrame is returned when a frame is not valid JSON of the expected shape.
	ErrInvalidFrame = errors.New("protocol: invalid frame")

	// ErrMissingKind is returned when an event frame has no kind.
	ErrMissingKind = errors.New("protocol: event frame missing kind")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrEmptyKind is returned when encoding an event with an empty name.
	ErrEmptyKind = errors.New("protocol: empty event kind")
)

// DecodeError describes an inbound frame that could not be decoded.
// Streams drop such frames instead of failing the connection.
type DecodeError struct {
	Op    string // "event", "handshake", "content"
	Frame []byte // Offending frame, truncated to 64 bytes
	Err   error  // Underlying error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(op string, frame []byte, err error) *DecodeError {
	const maxExcerpt = 64
	if len(frame) > maxExcerpt {
		frame = frame[:maxExcerpt]
	}
	excerpt := make([]byte, len(frame))
	copy(excerpt, frame)
	return &DecodeError{Op: op, Frame: excerpt, Err: err}
}

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
