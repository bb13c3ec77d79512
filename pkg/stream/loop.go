package stream

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lugma-dev/lugma/pkg/protocol"
)

// Start runs the read loop and heartbeat in background goroutines.
// Calling Start more than once has no effect.
func (s *Stream) Start() {
	if s.started.Swap(true) {
		return
	}
	go s.readLoop()
	go s.heartbeatLoop()
}

// Serve runs the read loop on the calling goroutine until the stream closes
// and returns Err. Server handlers typically call Serve after subscribing.
func (s *Stream) Serve() error {
	if s.started.Swap(true) {
		return ErrAlreadyStarted
	}
	go s.heartbeatLoop()
	s.readLoop()
	return s.Err()
}

// readLoop reads frames and dispatches them in arrival order.
// It returns when the connection fails or the stream is closed.
func (s *Stream) readLoop() {
	for {
		s.extendReadDeadline()

		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("peer closed stream", "error", err)
				s.shutdown(nil)
				return
			}
			s.shutdown(&ConnectionError{StreamID: s.id, Op: "read", Err: err})
			return
		}

		s.bytesIn.Add(uint64(len(data)))
		if mt != websocket.TextMessage {
			s.drop(DropBinary, nil)
			continue
		}
		s.handleFrame(data)
	}
}

// handleFrame decodes one event frame and dispatches it. Frames that fail
// to decode are dropped; the stream stays open.
func (s *Stream) handleFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data, protocol.FrameEvent, int(s.config.MaxMessageSize))
	if err != nil {
		s.drop(DropDecode, err)
		return
	}
	ev := frame.Event

	s.framesIn.Add(1)
	s.observer.FrameReceived(s.role, ev.Kind, len(data))

	if n := s.registry.Dispatch(EventTopic(ev.Kind), ev.Content); n == 0 {
		s.logger.Debug("no subscribers", "kind", ev.Kind)
	}
}

func (s *Stream) drop(reason string, err error) {
	s.dropped.Add(1)
	s.observer.FrameDropped(s.role, reason)
	if err != nil {
		s.logger.Warn("frame dropped", "reason", reason, "error", err)
	}
}

func (s *Stream) extendReadDeadline() {
	if s.config.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
}

// heartbeatLoop pings the peer until the stream closes.
func (s *Stream) heartbeatLoop() {
	if s.config.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(s.config.WriteTimeout))
			if err != nil {
				if !s.closed.Load() {
					s.logger.Error("ping error", "error", err)
					s.shutdown(&ConnectionError{StreamID: s.id, Op: "ping", Err: err})
				}
				return
			}

		case <-s.done:
			return
		}
	}
}
