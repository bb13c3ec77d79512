package stream

import (
	"time"

	"github.com/lugma-dev/lugma/pkg/protocol"
)

// Config holds per-stream timing and size limits.
type Config struct {
	// ReadTimeout is how long the read loop waits for any frame or pong.
	// Zero disables the read deadline.
	// Default: 60s.
	ReadTimeout time.Duration

	// WriteTimeout bounds every frame write and ping.
	// Default: 10s.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds how long a server stream waits for the
	// handshake frame.
	// Default: 10s.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the ping interval. Zero disables heartbeats.
	// Default: 30s.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the largest inbound frame accepted.
	// Default: protocol.MaxFrameSize.
	MaxMessageSize int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    protocol.MaxFrameSize,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults fills unset write and handshake limits. Read timeout and
// heartbeat keep zero as "disabled".
func (c *Config) withDefaults() *Config {
	out := c.Clone()
	if out == nil {
		return DefaultConfig()
	}
	def := DefaultConfig()
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = def.MaxMessageSize
	}
	return out
}
