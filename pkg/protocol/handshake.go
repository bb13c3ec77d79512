package protocol

import (
	"bytes"
	"encoding/json"
)

// EncodeHandshake encodes the metadata sent as a stream's first frame.
// A nil md encodes as an empty object.
func EncodeHandshake(md *Metadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	return md.MarshalJSON()
}

// DecodeHandshake validates the first frame of a stream.
// Any JSON value is accepted; the shape is application-defined.
func DecodeHandshake(data []byte) (json.RawMessage, error) {
	if err := checkSize(data, MaxHandshakeSize); err != nil {
		return nil, newDecodeError("handshake", data, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, newDecodeError("handshake", data, ErrInvalidFrame)
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return raw, nil
}

// MetadataFromHandshake extracts the string entries of a handshake payload.
// Payloads that are not objects yield empty Metadata.
func MetadataFromHandshake(raw json.RawMessage) *Metadata {
	pairs, err := decodePairs(raw, false)
	if err != nil {
		return &Metadata{}
	}
	return &Metadata{pairs: pairs}
}
