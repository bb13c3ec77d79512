package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonNull is the encoding of an absent content value.
var jsonNull = json.RawMessage("null")

// EventFrame is a tagged event exchanged on a stream after the handshake.
type EventFrame struct {
	Kind    string          `json:"kind"`
	Content json.RawMessage `json:"content"`
}

// EncodeEvent encodes an event frame with the given kind and content.
// A nil content is encoded as JSON null.
func EncodeEvent(kind string, content any) ([]byte, error) {
	if kind == "" {
		return nil, ErrEmptyKind
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %q content: %w", kind, err)
	}

	return json.Marshal(&EventFrame{Kind: kind, Content: raw})
}

// DecodeEvent decodes an event frame of at most MaxFrameSize bytes.
// Frames that are not JSON objects, or lack a non-empty string kind, are
// rejected with a *DecodeError. A missing content decodes as JSON null.
func DecodeEvent(data []byte) (*EventFrame, error) {
	return DecodeEventLimit(data, MaxFrameSize)
}

// DecodeEventLimit is DecodeEvent with a caller-chosen size limit.
// A non-positive maxSize disables the check.
func DecodeEventLimit(data []byte, maxSize int) (*EventFrame, error) {
	if err := checkSize(data, maxSize); err != nil {
		return nil, newDecodeError("event", data, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, newDecodeError("event", data, fmt.Errorf("%w: %v", ErrInvalidFrame, err))
	}
	if fields == nil {
		return nil, newDecodeError("event", data, ErrInvalidFrame)
	}

	rawKind, ok := fields["kind"]
	if !ok {
		return nil, newDecodeError("event", data, ErrMissingKind)
	}
	var kind string
	if err := json.Unmarshal(rawKind, &kind); err != nil || kind == "" {
		return nil, newDecodeError("event", data, ErrMissingKind)
	}

	content, ok := fields["content"]
	if !ok || len(bytes.TrimSpace(content)) == 0 {
		content = jsonNull
	}

	return &EventFrame{Kind: kind, Content: content}, nil
}

// DecodeContent decodes an event's content into T.
// This is the typed boundary between a frame and a subscriber.
func DecodeContent[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		raw = jsonNull
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, newDecodeError("content", raw, err)
	}
	return v, nil
}
