// Package transport carries unary calls and event streams between generated
// stubs and servers.
//
// The client side is the Transport interface and its HTTP implementation:
//
//	t, err := transport.New("https://api.example.com")
//	resp, err := transport.Call[Message, ChatError](ctx, t,
//	    "Example.lugma/Chat/SendMessage", req, nil)
//
// A unary call is a POST of the JSON request to <base>/<endpoint>, with
// metadata sent as "lugma-<key>" headers. Status 200 carries the response;
// any other status carries an error payload, returned as *RemoteError.
// Failures that never reach the server are *ConnectionError. There is no
// built-in timeout; use a context deadline.
//
// Streams are opened on the same URL with the scheme switched to ws or wss.
// The metadata travels as the handshake frame.
//
// The server side is Router, which binds MethodHandler and StreamHandler
// values to paths on a chi router.
package transport
