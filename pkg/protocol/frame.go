package protocol

import "encoding/json"

// FrameType identifies the shape of a stream frame.
type FrameType uint8

const (
	FrameHandshake FrameType = 0x00 // First frame of a connection
	FrameEvent     FrameType = 0x01 // Every frame after the handshake
)

// String returns the string representation of the frame type.
func (ft FrameType) String() string {
	switch ft {
	case FrameHandshake:
		return "Handshake"
	case FrameEvent:
		return "Event"
	default:
		return "Unknown"
	}
}

// Frame is a decoded stream frame: either a handshake payload or an event.
// Exactly one of Handshake and Event is set, according to Type.
type Frame struct {
	Type      FrameType
	Handshake json.RawMessage
	Event     *EventFrame
}

// DecodeFrame decodes data as the frame type expected at this point of the
// connection. The first inbound frame on a server is a handshake; every
// other frame is an event no larger than maxSize bytes. Handshakes are
// always bounded by MaxHandshakeSize.
func DecodeFrame(data []byte, expect FrameType, maxSize int) (*Frame, error) {
	switch expect {
	case FrameHandshake:
		raw, err := DecodeHandshake(data)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: FrameHandshake, Handshake: raw}, nil
	case FrameEvent:
		ev, err := DecodeEventLimit(data, maxSize)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: FrameEvent, Event: ev}, nil
	default:
		return nil, newDecodeError("frame", data, ErrInvalidFrame)
	}
}
