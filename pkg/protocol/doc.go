// Package protocol implements the wire format shared by lugma transports.
//
// Two kinds of payload cross the wire: unary request/response bodies, which
// are plain JSON values carried by HTTP, and the text frames exchanged on a
// stream connection. This package owns the latter along with the Metadata
// type that accompanies both.
//
// # Stream Frames
//
// A stream connection carries two frame shapes, both UTF-8 JSON text:
//
//	Handshake  any JSON value, sent exactly once as the first frame
//	Event      {"kind": <string>, "content": <any JSON>}
//
// The handshake travels from the client (the side that opened the
// connection) to the server. Every frame after it is an Event frame. The
// field name "kind" is used in both directions.
//
//	Client                          Server
//	  │                                │
//	  │──── {"user":"ana"} ──────────>│   handshake (metadata)
//	  │                                │
//	  │<──── {"kind":"Message", ...} ──│   events, either direction
//	  │───── {"kind":"Typing", ...} ──>│
//	  │                                │
//
// # Metadata
//
// Metadata is an ordered string to string mapping. For unary calls each
// entry travels as an HTTP header named "lugma-<key>"; for streams the whole
// mapping is the handshake payload.
//
// # Decoding Policy
//
// DecodeEvent rejects frames that are not JSON objects or that lack a kind.
// The returned *DecodeError lets callers drop the frame without tearing down
// the connection.
//
// # Usage Example
//
//	data, err := protocol.EncodeEvent("MessageReceived", msg)
//	if err != nil {
//	    return err
//	}
//
//	frame, err := protocol.DecodeEvent(data)
//	if err != nil {
//	    // drop the frame
//	}
//	m, err := protocol.DecodeContent[Message](frame.Content)
//
// # File Structure
//
//   - frame.go: Frame tagged union and FrameType
//   - event.go: Event frame encoding/decoding
//   - handshake.go: Handshake encoding/decoding
//   - metadata.go: Ordered Metadata and header mapping
//   - error.go: DecodeError and sentinel errors
//   - limits.go: Size limits
package protocol
