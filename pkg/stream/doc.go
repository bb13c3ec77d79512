// Package stream implements the Event Stream: a long-lived, bidirectional
// channel of named JSON events over a WebSocket.
//
// # Lifecycle
//
// A stream moves Connecting -> Open -> Closed and never leaves Closed.
// The client sends a handshake as its first frame; the server reads it
// before handing the stream to application code:
//
//	s, err := stream.NewClient(conn, protocol.NewMetadata("user", "ana"))
//	s.Subscribe("chat", func(content json.RawMessage) { ... })
//	s.SubscribeToClose(func() { ... })
//	s.Start()
//
// Close callbacks run exactly once, after which every subscription is
// released.
//
// # Dispatch
//
// Subscriptions live in a Registry keyed by Topic. Event names and the
// open/close lifecycle topics are separate namespaces. Dispatch snapshots the
// subscribers of a topic before invoking them, in subscription order, so a
// callback may subscribe or unsubscribe freely. Callbacks run on the read
// goroutine; a slow callback delays later frames on the same stream.
//
// Frames that are not valid event frames are dropped and logged. They never
// close the stream.
package stream
