package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lugma-dev/lugma/pkg/protocol"
)

// Conn is the subset of *websocket.Conn a Stream needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Role tells which side of the connection a stream is.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// String returns the role name used in logs and metric labels.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the connection state of a stream.
type State uint32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives stream lifecycle and frame notifications.
// Implementations must be safe for concurrent use.
type Observer interface {
	StreamOpened(role Role)
	StreamClosed(role Role, lifetime time.Duration)
	FrameReceived(role Role, kind string, size int)
	FrameSent(role Role, kind string, size int)
	FrameDropped(role Role, reason string)
}

type nopObserver struct{}

func (nopObserver) StreamOpened(Role)                {}
func (nopObserver) StreamClosed(Role, time.Duration) {}
func (nopObserver) FrameReceived(Role, string, int)  {}
func (nopObserver) FrameSent(Role, string, int)      {}
func (nopObserver) FrameDropped(Role, string)        {}

// Drop reasons reported to Observer.FrameDropped.
const (
	DropDecode  = "decode"
	DropContent = "content"
	DropBinary  = "binary"
)

// Option configures a Stream.
type Option func(*Stream)

// WithConfig sets the stream configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Stream) {
		s.config = cfg.withDefaults()
	}
}

// WithLogger sets the base logger. The stream adds its own attributes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver attaches an Observer, typically a metrics collector.
func WithObserver(o Observer) Option {
	return func(s *Stream) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithID overrides the generated stream ID.
func WithID(id string) Option {
	return func(s *Stream) {
		if id != "" {
			s.id = id
		}
	}
}

// Stats is a snapshot of stream counters.
type Stats struct {
	FramesReceived uint64
	FramesSent     uint64
	FramesDropped  uint64
	BytesReceived  uint64
	BytesSent      uint64
	Subscriptions  int
}

// Stream is a bidirectional event channel over one WebSocket connection.
//
// A Stream is created already past its handshake: NewClient sends it and
// NewServer receives it. Frames are only read once Start or Serve runs, so
// subscriptions registered before that never miss a frame. Callbacks run on
// the read goroutine in frame order.
type Stream struct {
	id       string
	role     Role
	conn     Conn
	config   *Config
	logger   *slog.Logger
	observer Observer
	registry *Registry

	handshake json.RawMessage
	metadata  *protocol.Metadata

	state       atomic.Uint32
	closed      atomic.Bool
	started     atomic.Bool
	lifecycleMu sync.Mutex
	writeMu     sync.Mutex
	done        chan struct{}
	openedAt    time.Time

	errMu sync.Mutex
	err   error

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	dropped   atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

func newStream(conn Conn, role Role, opts []Option) *Stream {
	s := &Stream{
		id:       uuid.NewString(),
		role:     role,
		conn:     conn,
		config:   DefaultConfig(),
		logger:   slog.Default().With("component", "stream"),
		observer: nopObserver{},
		registry: NewRegistry(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("stream_id", s.id, "role", role.String())
	s.registry.SetPanicHandler(func(id HandlerID, topic Topic, rec any) {
		s.logger.Error("subscriber panic",
			"handler_id", uint64(id),
			"topic", topic.String(),
			"panic", rec,
			"stack", string(debug.Stack()))
	})
	s.state.Store(uint32(StateConnecting))
	return s
}

// NewClient creates the client side of a stream over an established
// connection and sends handshake as the first frame. A nil handshake is sent
// as an empty object. The returned stream is Open.
func NewClient(conn Conn, handshake *protocol.Metadata, opts ...Option) (*Stream, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	s := newStream(conn, RoleClient, opts)
	s.prepareConn()

	data, err := protocol.EncodeHandshake(handshake)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{StreamID: s.id, Op: "handshake", Err: err}
	}
	if err := s.writeText(data); err != nil {
		cerr := &ConnectionError{StreamID: s.id, Op: "handshake", Err: err}
		s.shutdown(cerr)
		return nil, cerr
	}

	s.handshake = data
	s.metadata = handshake.Clone()
	s.open()
	return s, nil
}

// NewServer creates the server side of a stream over an accepted
// connection. It blocks until the handshake frame arrives or
// Config.HandshakeTimeout elapses. The returned stream is Open.
func NewServer(conn Conn, opts ...Option) (*Stream, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	s := newStream(conn, RoleServer, opts)
	s.prepareConn()

	raw, err := s.readHandshake()
	if err != nil {
		cerr := &ConnectionError{StreamID: s.id, Op: "handshake", Err: err}
		s.shutdown(cerr)
		return nil, cerr
	}

	s.handshake = raw
	s.metadata = protocol.MetadataFromHandshake(raw)
	s.open()
	return s, nil
}

func (s *Stream) prepareConn() {
	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
}

func (s *Stream) readHandshake() (json.RawMessage, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		s.bytesIn.Add(uint64(len(data)))
		if mt != websocket.TextMessage {
			continue
		}
		frame, err := protocol.DecodeFrame(data, protocol.FrameHandshake, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
		}
		s.conn.SetReadDeadline(time.Time{})
		return frame.Handshake, nil
	}
}

func (s *Stream) open() {
	s.lifecycleMu.Lock()
	s.openedAt = time.Now()
	s.state.Store(uint32(StateOpen))
	s.lifecycleMu.Unlock()

	s.observer.StreamOpened(s.role)
	s.logger.Debug("stream opened")
	s.registry.Dispatch(OpenTopic, s.handshake)
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Role returns which side of the connection this stream is.
func (s *Stream) Role() Role { return s.role }

// State returns the current connection state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Handshake returns the raw handshake payload: the one sent by a client
// stream, or the one received by a server stream.
func (s *Stream) Handshake() json.RawMessage { return s.handshake }

// Metadata returns a copy of the string pairs carried by the handshake.
func (s *Stream) Metadata() *protocol.Metadata { return s.metadata.Clone() }

// Done returns a channel that is closed once the stream has closed and its
// close callbacks have run.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns why the stream closed: nil for a local Close or a normal
// close frame from the peer, otherwise a *ConnectionError. It returns nil
// while the stream is open.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	return Stats{
		FramesReceived: s.framesIn.Load(),
		FramesSent:     s.framesOut.Load(),
		FramesDropped:  s.dropped.Load(),
		BytesReceived:  s.bytesIn.Load(),
		BytesSent:      s.bytesOut.Load(),
		Subscriptions:  s.registry.Len(),
	}
}

// Subscribe registers cb for frames whose kind equals event.
// It is valid in any state; subscriptions on a closed stream never fire.
func (s *Stream) Subscribe(event string, cb Callback) HandlerID {
	return s.registry.Add(EventTopic(event), cb)
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (s *Stream) Unsubscribe(id HandlerID) {
	s.registry.Remove(id)
}

// SubscribeToClose registers fn to run once when the stream closes, whether
// by Close or by connection loss. If the stream is already closed, fn runs
// immediately.
func (s *Stream) SubscribeToClose(fn func()) HandlerID {
	s.lifecycleMu.Lock()
	if s.State() != StateClosed {
		id := s.registry.Add(CloseTopic, func(json.RawMessage) { fn() })
		s.lifecycleMu.Unlock()
		return id
	}
	s.lifecycleMu.Unlock()

	id := s.registry.Reserve()
	fn()
	return id
}

// SubscribeToOpen registers fn to run with the handshake metadata when the
// stream opens. Streams returned by NewClient and NewServer are already
// open, so fn runs immediately with the metadata.
func (s *Stream) SubscribeToOpen(fn func(md *protocol.Metadata)) HandlerID {
	s.lifecycleMu.Lock()
	if s.State() == StateConnecting {
		id := s.registry.Add(OpenTopic, func(raw json.RawMessage) {
			fn(protocol.MetadataFromHandshake(raw))
		})
		s.lifecycleMu.Unlock()
		return id
	}
	s.lifecycleMu.Unlock()

	id := s.registry.Reserve()
	fn(s.Metadata())
	return id
}

// Send encodes content and writes one event frame.
// It returns ErrStreamClosed unless the stream is open, an encoding error
// without touching the connection, or a *ConnectionError if the write fails,
// in which case the stream is closed.
func (s *Stream) Send(event string, content any) error {
	if s.State() != StateOpen {
		return ErrStreamClosed
	}
	data, err := protocol.EncodeEvent(event, content)
	if err != nil {
		return err
	}
	if err := s.writeText(data); err != nil {
		if errors.Is(err, ErrStreamClosed) {
			return err
		}
		cerr := &ConnectionError{StreamID: s.id, Op: "write", Err: err}
		s.shutdown(cerr)
		return cerr
	}
	s.framesOut.Add(1)
	s.observer.FrameSent(s.role, event, len(data))
	return nil
}

func (s *Stream) writeText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.bytesOut.Add(uint64(len(data)))
	return nil
}

// Close closes the stream. Close callbacks run once and every subscription
// is released. Calling Close again, or after the connection was lost, is a
// no-op.
func (s *Stream) Close() error {
	s.shutdown(nil)
	return nil
}

// shutdown is the single close path; cause is nil for a clean close.
func (s *Stream) shutdown(cause error) {
	if s.closed.Swap(true) {
		return
	}

	s.errMu.Lock()
	s.err = cause
	s.errMu.Unlock()

	s.lifecycleMu.Lock()
	wasOpen := s.State() == StateOpen
	s.state.Store(uint32(StateClosed))
	s.lifecycleMu.Unlock()

	if cause == nil {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	s.conn.Close()

	s.registry.Dispatch(CloseTopic, nil)
	s.registry.Reset()
	close(s.done)

	if wasOpen {
		s.observer.StreamClosed(s.role, time.Since(s.openedAt))
	}
	s.logger.Info("stream closed",
		"frames_recv", s.framesIn.Load(),
		"frames_sent", s.framesOut.Load(),
		"frames_dropped", s.dropped.Load(),
		"bytes_recv", s.bytesIn.Load(),
		"bytes_sent", s.bytesOut.Load(),
		"error", cause)
}
