package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
	"github.com/lugma-dev/lugma/pkg/transport"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Address != ":8080" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.HealthPath != "/healthz" || cfg.MetricsPath != "" {
		t.Errorf("paths = %q %q", cfg.HealthPath, cfg.MetricsPath)
	}
	if err := cfg.ValidateConfig(); err != nil {
		t.Errorf("ValidateConfig() error = %v", err)
	}

	clone := cfg.Clone()
	clone.StreamConfig.ReadTimeout = time.Hour
	if cfg.StreamConfig.ReadTimeout == time.Hour {
		t.Error("Clone() shares StreamConfig")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"empty_address", func(c *ServerConfig) { c.Address = "" }},
		{"relative_health", func(c *ServerConfig) { c.HealthPath = "healthz" }},
		{"same_paths", func(c *ServerConfig) { c.MetricsPath = c.HealthPath }},
		{"heartbeat_after_timeout", func(c *ServerConfig) {
			c.StreamConfig.ReadTimeout = time.Second
			c.StreamConfig.HeartbeatInterval = 2 * time.Second
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tc.mutate(cfg)
			if err := cfg.ValidateConfig(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ValidateConfig() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com", true},
		{"https://example.com", "example.com", true},
		{"https://evil.com", "example.com", false},
		{"http://example.com:8080", "example.com:8080", true},
		{"://bad", "example.com", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := SameOriginCheck(r); got != tc.want {
			t.Errorf("SameOriginCheck(%q, %q) = %v, want %v", tc.origin, tc.host, got, tc.want)
		}
	}
}

func newTestServer(t *testing.T, cfg *ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	router := transport.NewRouter()
	router.BindMethod("Echo/Say", transport.Method(func(_ context.Context, req map[string]string, _ *protocol.Metadata) transport.Result {
		return transport.Ok(req)
	}))
	router.BindStream("Echo/Events", func(s *stream.Stream) {
		s.Subscribe("say", func(content json.RawMessage) {
			s.Send("said", content)
		})
	})

	srv := New(cfg, router)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthAndMethods(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	resp, err = http.Post(ts.URL+"/Echo/Say", "application/json", strings.NewReader(`{"a":"b"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(body) != `{"a":"b"}` {
		t.Errorf("POST = %d %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "lugma_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	_, ts := newTestServer(t, &ServerConfig{MetricsPath: "/metrics", MetricsGatherer: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "lugma_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}
}

func TestStreamsCountedAndClosedOnShutdown(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	tr, err := transport.New(ts.URL)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	s, err := tr.OpenStream(context.Background(), "Echo/Events", nil)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	said := make(chan string, 1)
	s.Subscribe("said", func(content json.RawMessage) { said <- string(content) })
	closed := make(chan struct{})
	s.SubscribeToClose(func() { close(closed) })

	if err := s.Send("say", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-said:
		if got != `"hello"` {
			t.Errorf("said = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}

	// The reply can arrive before the server records its send.
	deadline := time.Now().Add(2 * time.Second)
	m := srv.Metrics()
	for m.FramesSent == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		m = srv.Metrics()
	}
	if m.ActiveStreams != 1 || m.TotalStreams != 1 || m.PeakStreams != 1 {
		t.Errorf("stream metrics = %+v", m)
	}
	if m.FramesReceived != 1 || m.FramesSent != 1 {
		t.Errorf("frame metrics = %+v", m)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client stream not closed by Shutdown")
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv := New(&ServerConfig{Address: "127.0.0.1:0"}, nil)

	if _, err := srv.Addr(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Addr() before Serve error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	deadline := time.Now().Add(2 * time.Second)
	var addr net.Addr
	for time.Now().Before(deadline) {
		if addr, err = srv.Addr(); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("server never reported an address")
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestRunContextStopsOnCancel(t *testing.T) {
	srv := New(&ServerConfig{Address: "127.0.0.1:0"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.RunContext(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := srv.Addr(); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never reported an address")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunContext() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunContext did not return after cancel")
	}
}

func TestRunContextAlreadyCancelled(t *testing.T) {
	for i := 0; i < 20; i++ {
		srv := New(&ServerConfig{Address: "127.0.0.1:0"}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan error, 1)
		go func() { done <- srv.RunContext(ctx) }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("RunContext() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: RunContext hung with a cancelled context", i)
		}
	}
}

func TestServeAfterShutdown(t *testing.T) {
	srv := New(&ServerConfig{Address: "127.0.0.1:0"}, nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve ran after Shutdown")
	}
	if _, err := net.Dial("tcp", ln.Addr().String()); err == nil {
		t.Error("listener still accepting after Serve returned")
	}
}

func TestRunContextInvalidConfig(t *testing.T) {
	srv := New(&ServerConfig{
		Address:      ":0",
		StreamConfig: &stream.Config{ReadTimeout: time.Second, HeartbeatInterval: time.Second},
	}, nil)
	if err := srv.RunContext(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("RunContext() error = %v, want ErrInvalidConfig", err)
	}
}
