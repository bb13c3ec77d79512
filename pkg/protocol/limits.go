package protocol

// Size limits applied to stream frames.
const (
	// MaxFrameSize is the default maximum size of a single text frame.
	// Streams install it as the connection read limit.
	MaxFrameSize = 1 << 20

	// MaxHandshakeSize bounds the handshake frame, which carries only metadata.
	MaxHandshakeSize = 64 * 1024
)

// checkSize returns ErrFrameTooLarge if data exceeds max. A non-positive max disables the check.
func checkSize(data []byte, max int) error {
	if max > 0 && len(data) > max {
		return ErrFrameTooLarge
	}
	return nil
}
