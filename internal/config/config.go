package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lugma-dev/lugma/internal/errors"
	"github.com/lugma-dev/lugma/pkg/server"
	"github.com/lugma-dev/lugma/pkg/stream"
	"github.com/lugma-dev/lugma/pkg/transport"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "lugma.yaml"

	// DefaultAddress is the default server listen address.
	DefaultAddress = ":8080"

	// DefaultBaseURL is the default base URL for lugma call and listen.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultMetricsPath is where metrics are served when enabled.
	DefaultMetricsPath = "/metrics"

	// DefaultNamespace is the default Prometheus namespace and tracer name.
	DefaultNamespace = "lugma"
)

// Environment variables that override the file.
const (
	EnvAddress = "LUGMA_ADDRESS"
	EnvBaseURL = "LUGMA_BASE_URL"
)

// Config represents the complete lugma.yaml configuration.
type Config struct {
	// Name is the service name.
	Name string `yaml:"name,omitempty"`

	// Version is the service version.
	Version string `yaml:"version,omitempty"`

	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Client  ClientConfig  `yaml:"client"`

	configPath string
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	// Address is the listen address.
	Address string `yaml:"address"`

	// ShutdownTimeout bounds graceful shutdown (e.g. "30s").
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists browser origins allowed to open streams.
	// Empty means same-origin only; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// StreamConfig contains event stream limits. A zero read_timeout or
// heartbeat_interval disables it.
type StreamConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TracerName string `yaml:"tracer_name,omitempty"`
}

// ClientConfig contains settings for lugma call and listen.
type ClientConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns a Config with default values.
func Default() *Config {
	sc := stream.DefaultConfig()
	return &Config{
		Version: "0.1.0",
		Server: ServerConfig{
			Address:         DefaultAddress,
			ShutdownTimeout: 30 * time.Second,
		},
		Stream: StreamConfig{
			ReadTimeout:       sc.ReadTimeout,
			WriteTimeout:      sc.WriteTimeout,
			HandshakeTimeout:  sc.HandshakeTimeout,
			HeartbeatInterval: sc.HeartbeatInterval,
			MaxMessageSize:    sc.MaxMessageSize,
		},
		Metrics: MetricsConfig{
			Path:      DefaultMetricsPath,
			Namespace: DefaultNamespace,
		},
		Tracing: TracingConfig{
			TracerName: DefaultNamespace,
		},
		Client: ClientConfig{
			BaseURL: DefaultBaseURL,
		},
	}
}

// Load reads lugma.yaml from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from path, fills unset fields from Default
// and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("L101").
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("L102").Wrap(err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.New("L102").
			WithLocationFromError(path, err).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv overrides fields from LUGMA_ADDRESS and LUGMA_BASE_URL.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvAddress); ok && v != "" {
		c.Server.Address = v
	}
	if v, ok := os.LookupEnv(EnvBaseURL); ok && v != "" {
		c.Client.BaseURL = v
	}
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.New("L104").Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return errors.New("L104").Wrap(err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.New("L104").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from or saved to.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills values the file set to empty. Zero durations in the
// stream section are kept: they disable the timeout.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Stream.MaxMessageSize == 0 {
		c.Stream.MaxMessageSize = def.Stream.MaxMessageSize
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = def.Tracing.TracerName
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = def.Client.BaseURL
	}
}

// Validate checks that the configuration can start a server and a client.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		e := errors.New("L103").WithDetail(fmt.Sprintf(format, args...))
		if c.configPath != "" {
			e.Location = &errors.Location{File: c.configPath}
		}
		return e
	}

	for name, d := range map[string]time.Duration{
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"stream.read_timeout":       c.Stream.ReadTimeout,
		"stream.write_timeout":      c.Stream.WriteTimeout,
		"stream.handshake_timeout":  c.Stream.HandshakeTimeout,
		"stream.heartbeat_interval": c.Stream.HeartbeatInterval,
	} {
		if d < 0 {
			return invalid("%s must not be negative, got %v", name, d)
		}
	}
	if c.Stream.MaxMessageSize < 0 {
		return invalid("stream.max_message_size must not be negative")
	}
	for _, o := range c.Server.AllowedOrigins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Host == "" {
			return invalid("server.allowed_origins entry %q is not an origin URL", o)
		}
	}
	if err := c.ServerConfig().ValidateConfig(); err != nil {
		return invalid("%v", err)
	}
	if _, err := transport.New(c.Client.BaseURL); err != nil {
		return invalid("client.base_url: %v", err)
	}
	return nil
}

// StreamConfig converts the stream section for pkg/stream.
func (c *Config) StreamConfig() *stream.Config {
	return &stream.Config{
		ReadTimeout:       c.Stream.ReadTimeout,
		WriteTimeout:      c.Stream.WriteTimeout,
		HandshakeTimeout:  c.Stream.HandshakeTimeout,
		HeartbeatInterval: c.Stream.HeartbeatInterval,
		MaxMessageSize:    c.Stream.MaxMessageSize,
	}
}

// ServerConfig converts the server, stream and metrics sections for
// pkg/server. MetricsGatherer is left for the caller.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = c.Server.Address
	if c.Server.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = c.Server.ShutdownTimeout
	}
	sc.CheckOrigin = originCheck(c.Server.AllowedOrigins)
	sc.StreamConfig = c.StreamConfig()
	if c.Metrics.Enabled {
		sc.MetricsPath = c.Metrics.Path
	}
	return sc
}

// originCheck allows same-origin requests plus the listed origins.
func originCheck(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return server.SameOriginCheck
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return server.AllowAllOrigins
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := set[r.Header.Get("Origin")]; ok {
			return true
		}
		return server.SameOriginCheck(r)
	}
}

// Exists reports whether dir holds a lugma.yaml.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up from startDir to the directory holding
// lugma.yaml.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("L101").
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}
