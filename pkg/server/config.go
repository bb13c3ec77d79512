package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lugma-dev/lugma/pkg/stream"
)

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s.
	ShutdownTimeout time.Duration

	// CheckOrigin is called to validate the origin of stream upgrades.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// StreamConfig configures accepted streams.
	// Default: stream.DefaultConfig().
	StreamConfig *stream.Config

	// HealthPath serves a JSON liveness report. Empty disables it.
	// Default: "/healthz".
	HealthPath string

	// MetricsPath serves Prometheus metrics from MetricsGatherer.
	// Empty disables it.
	// Default: "" (disabled).
	MetricsPath string

	// MetricsGatherer is scraped on MetricsPath.
	// Default: prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		CheckOrigin:       SameOriginCheck,
		StreamConfig:      stream.DefaultConfig(),
		HealthPath:        "/healthz",
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
// Requests without an Origin header (non-browser clients) are allowed.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}
	return originURL.Host == host
}

// AllowAllOrigins accepts every origin. Use only in development.
func AllowAllOrigins(*http.Request) bool { return true }

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.StreamConfig = c.StreamConfig.Clone()
	return &clone
}

// withDefaults fills zero fields from DefaultServerConfig.
func (c *ServerConfig) withDefaults() *ServerConfig {
	def := DefaultServerConfig()
	if c == nil {
		return def
	}
	out := c.Clone()
	if out.Address == "" {
		out.Address = def.Address
	}
	if out.ReadHeaderTimeout <= 0 {
		out.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = def.ShutdownTimeout
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = def.CheckOrigin
	}
	if out.StreamConfig == nil {
		out.StreamConfig = def.StreamConfig
	}
	if out.MetricsPath != "" && out.MetricsGatherer == nil {
		out.MetricsGatherer = prometheus.DefaultGatherer
	}
	return out
}

// ValidateConfig reports configuration errors that would make the server
// misbehave.
func (c *ServerConfig) ValidateConfig() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidConfig)
	}
	for name, p := range map[string]string{"health path": c.HealthPath, "metrics path": c.MetricsPath} {
		if p != "" && !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: %s %q must start with /", ErrInvalidConfig, name, p)
		}
	}
	if c.HealthPath != "" && c.HealthPath == c.MetricsPath {
		return fmt.Errorf("%w: health and metrics paths are both %q", ErrInvalidConfig, c.HealthPath)
	}
	if s := c.StreamConfig; s != nil {
		if s.ReadTimeout > 0 && s.HeartbeatInterval >= s.ReadTimeout {
			return fmt.Errorf("%w: heartbeat interval %v must be below read timeout %v",
				ErrInvalidConfig, s.HeartbeatInterval, s.ReadTimeout)
		}
	}
	return nil
}
