package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	lugmamw "github.com/lugma-dev/lugma/pkg/middleware"
	"github.com/lugma-dev/lugma/pkg/transport"
)

// Server hosts a transport.Router over HTTP, with health and metrics
// endpoints beside it.
type Server struct {
	config *ServerConfig
	router *transport.Router
	root   chi.Router
	logger *slog.Logger
	stats  *streamStats

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	shutdown   bool
}

// New creates a Server for router. A nil config uses DefaultServerConfig;
// zero fields are filled from it.
func New(config *ServerConfig, router *transport.Router) *Server {
	config = config.withDefaults()
	if router == nil {
		router = transport.NewRouter()
	}

	s := &Server{
		config: config,
		router: router,
		logger: slog.Default().With("component", "server"),
		stats:  &streamStats{},
	}

	router.Apply(
		transport.WithCheckOrigin(config.CheckOrigin),
		transport.WithServerStreamConfig(config.StreamConfig),
		transport.WithStreamObserver(s.stats),
	)

	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(middleware.RealIP)
	root.Use(middleware.Recoverer)
	root.Use(lugmamw.TracePropagation)

	if config.HealthPath != "" {
		root.Get(config.HealthPath, s.handleHealth)
	}
	if config.MetricsPath != "" {
		root.Handle(config.MetricsPath, promhttp.HandlerFor(config.MetricsGatherer, promhttp.HandlerOpts{}))
	}
	root.Mount("/", router)
	s.root = root

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"streams": s.router.ActiveStreams(),
	})
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.root
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.root.ServeHTTP(w, r)
}

// Router returns the bound transport router.
func (s *Server) Router() *transport.Router {
	return s.router
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.config.Address,
		Handler:           s.root,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown, including one that happened before Serve was called.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = s.newHTTPServer()
	s.listener = ln
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server starting", "address", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run listens on Config.Address and serves until SIGINT or SIGTERM, then
// shuts down gracefully.
func (s *Server) Run() error {
	return s.RunContext(context.Background())
}

// RunContext is Run that also shuts down when ctx is done.
func (s *Server) RunContext(ctx context.Context) error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return s.Serve(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	})
	return g.Wait()
}

// Addr returns the listening address once Serve or Run has started.
func (s *Server) Addr() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil, ErrNotRunning
	}
	return s.listener.Addr(), nil
}

// Shutdown closes every live stream, then gracefully shuts down the HTTP
// server within Config.ShutdownTimeout. A Server that has been shut down
// does not serve again.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	s.shutdown = true
	srv := s.httpServer
	s.mu.Unlock()

	s.router.CloseStreams()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogger sets the server logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
