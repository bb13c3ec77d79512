package server

import (
	"sync/atomic"
	"time"

	"github.com/lugma-dev/lugma/pkg/stream"
)

// ServerMetrics aggregates stream metrics across the server.
type ServerMetrics struct {
	// Streams
	ActiveStreams int64
	TotalStreams  int64
	PeakStreams   int64

	// Frames
	FramesReceived int64
	FramesSent     int64
	FramesDropped  int64

	// Network
	BytesSent     int64
	BytesReceived int64

	// Timestamp
	CollectedAt time.Time
}

// streamStats counts stream activity. It is attached to every accepted
// stream as a stream.Observer.
type streamStats struct {
	active   atomic.Int64
	total    atomic.Int64
	peak     atomic.Int64
	received atomic.Int64
	sent     atomic.Int64
	dropped  atomic.Int64
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

var _ stream.Observer = (*streamStats)(nil)

func (s *streamStats) StreamOpened(stream.Role) {
	s.total.Add(1)
	n := s.active.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *streamStats) StreamClosed(stream.Role, time.Duration) {
	s.active.Add(-1)
}

func (s *streamStats) FrameReceived(_ stream.Role, _ string, size int) {
	s.received.Add(1)
	s.bytesIn.Add(int64(size))
}

func (s *streamStats) FrameSent(_ stream.Role, _ string, size int) {
	s.sent.Add(1)
	s.bytesOut.Add(int64(size))
}

func (s *streamStats) FrameDropped(stream.Role, string) {
	s.dropped.Add(1)
}

// Metrics collects and returns server metrics.
func (s *Server) Metrics() *ServerMetrics {
	st := s.stats
	return &ServerMetrics{
		ActiveStreams:  st.active.Load(),
		TotalStreams:   st.total.Load(),
		PeakStreams:    st.peak.Load(),
		FramesReceived: st.received.Load(),
		FramesSent:     st.sent.Load(),
		FramesDropped:  st.dropped.Load(),
		BytesSent:      st.bytesOut.Load(),
		BytesReceived:  st.bytesIn.Load(),
		CollectedAt:    time.Now(),
	}
}
