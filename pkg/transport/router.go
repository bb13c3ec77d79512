package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
)

// DefaultMaxBodySize caps unary request bodies.
const DefaultMaxBodySize = 1 << 20

// Result is the outcome of a unary method: Ok answers 200, Err answers 400.
type Result struct {
	value any
	ok    bool
}

// Ok returns a successful Result.
func Ok(v any) Result { return Result{value: v, ok: true} }

// Err returns a failed Result carrying the error payload.
func Err(v any) Result { return Result{value: v} }

// IsOK reports whether r is a success.
func (r Result) IsOK() bool { return r.ok }

// Value returns the success value or error payload.
func (r Result) Value() any { return r.value }

// Status returns the HTTP status the Result is written with.
func (r Result) Status() int {
	if r.ok {
		return http.StatusOK
	}
	return http.StatusBadRequest
}

// ErrorBody is the payload written for requests the router rejects itself.
type ErrorBody struct {
	Error string `json:"error"`
}

// InvalidBody is the Result for a body that is not valid JSON or does not
// match the method's request type.
var InvalidBody = Err(ErrorBody{Error: "invalid request body"})

// MethodHandler serves one unary endpoint. body is the raw request JSON
// ("null" for an empty body) and md the lugma- headers.
type MethodHandler func(ctx context.Context, body json.RawMessage, md *protocol.Metadata) Result

// MethodMiddleware wraps a MethodHandler.
type MethodMiddleware func(next MethodHandler) MethodHandler

// Method adapts a typed handler, answering InvalidBody when the request does
// not decode as Req.
func Method[Req any](fn func(ctx context.Context, req Req, md *protocol.Metadata) Result) MethodHandler {
	return func(ctx context.Context, body json.RawMessage, md *protocol.Metadata) Result {
		var req Req
		if err := json.Unmarshal(body, &req); err != nil {
			return InvalidBody
		}
		return fn(ctx, req, md)
	}
}

// StreamHandler receives a server stream that has completed its handshake.
// The router runs the stream's read loop after the handler returns, so
// subscriptions made in the handler see every frame.
type StreamHandler func(s *stream.Stream)

type methodPathKey struct{}

// MethodPath returns the bound path of the method serving ctx.
func MethodPath(ctx context.Context) string {
	p, _ := ctx.Value(methodPathKey{}).(string)
	return p
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCheckOrigin sets the WebSocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) RouterOption {
	return func(r *Router) {
		if fn != nil {
			r.upgrader.CheckOrigin = fn
		}
	}
}

// WithServerStreamConfig sets the configuration of accepted streams.
func WithServerStreamConfig(cfg *stream.Config) RouterOption {
	return func(r *Router) {
		if cfg != nil {
			r.streamCfg = cfg.Clone()
		}
	}
}

// WithStreamObserver attaches an observer to every accepted stream.
// Repeated use adds observers.
func WithStreamObserver(o stream.Observer) RouterOption {
	return func(r *Router) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxBodySize sets the largest accepted unary request body.
func WithMaxBodySize(n int64) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxBody = n
		}
	}
}

// Router binds unary methods and stream endpoints to paths.
type Router struct {
	mux      chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
	maxBody  int64

	mu          sync.RWMutex
	middlewares []MethodMiddleware
	streamCfg   *stream.Config
	observers   []stream.Observer
	streams     map[string]*stream.Stream
}

// NewRouter creates an empty Router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		mux: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:  slog.Default().With("component", "router"),
		maxBody: DefaultMaxBodySize,
		streams: make(map[string]*stream.Stream),
	}
	r.mux.Use(middleware.Recoverer)
	r.Apply(opts...)
	return r
}

// Apply applies options to an existing Router. Options affect streams
// accepted afterwards.
func (r *Router) Apply(opts ...RouterOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opt := range opts {
		opt(r)
	}
}

// Use appends middleware to every unary method, bound before or after.
func (r *Router) Use(mw ...MethodMiddleware) {
	r.mu.Lock()
	r.middlewares = append(r.middlewares, mw...)
	r.mu.Unlock()
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func routePath(path string) string {
	return "/" + strings.TrimPrefix(path, "/")
}

// BindMethod serves h for POST requests to path.
func (r *Router) BindMethod(path string, h MethodHandler) {
	path = routePath(path)
	r.mux.Post(path, func(w http.ResponseWriter, req *http.Request) {
		r.serveMethod(w, req, path, h)
	})
}

func (r *Router) chain(h MethodHandler) MethodHandler {
	r.mu.RLock()
	mws := r.middlewares
	r.mu.RUnlock()
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (r *Router) serveMethod(w http.ResponseWriter, req *http.Request, path string, h MethodHandler) {
	ctx := context.WithValue(req.Context(), methodPathKey{}, path)
	md := protocol.MetadataFromHeaders(req.Header)

	body, ok := r.readBody(w, req)
	if !ok {
		// Middleware still observes rejected bodies.
		h = func(context.Context, json.RawMessage, *protocol.Metadata) Result { return InvalidBody }
	}

	r.writeResult(w, path, r.chain(h)(ctx, body, md))
}

// readBody reads the request body, reporting false when it is too large or
// not JSON. An empty body reads as null.
func (r *Router) readBody(w http.ResponseWriter, req *http.Request) (json.RawMessage, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		return nil, false
	}
	body := bytes.TrimSpace(data)
	if len(body) == 0 {
		return json.RawMessage("null"), true
	}
	if !json.Valid(body) {
		return nil, false
	}
	return json.RawMessage(body), true
}

func (r *Router) writeResult(w http.ResponseWriter, path string, res Result) {
	data, err := json.Marshal(res.Value())
	if err != nil {
		r.logger.Error("encode result", "path", path, "error", err)
		writeJSON(w, http.StatusInternalServerError, []byte(`{"error":"internal error"}`))
		return
	}
	writeJSON(w, res.Status(), data)
}

func writeJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// BindStream serves h for WebSocket upgrades on path.
func (r *Router) BindStream(path string, h StreamHandler) {
	path = routePath(path)
	r.mux.Get(path, func(w http.ResponseWriter, req *http.Request) {
		r.serveStream(w, req, path, h)
	})
}

func (r *Router) streamOptions() []stream.Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var opts []stream.Option
	if r.streamCfg != nil {
		opts = append(opts, stream.WithConfig(r.streamCfg))
	}
	if len(r.observers) > 0 {
		opts = append(opts, stream.WithObserver(stream.Observers(r.observers...)))
	}
	return opts
}

func (r *Router) serveStream(w http.ResponseWriter, req *http.Request, path string, h StreamHandler) {
	r.mu.RLock()
	upgrader := r.upgrader
	r.mu.RUnlock()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		r.logger.Warn("upgrade failed", "path", path, "error", err)
		return
	}

	s, err := stream.NewServer(conn, r.streamOptions()...)
	if err != nil {
		r.logger.Warn("stream handshake failed", "path", path, "error", err)
		return
	}

	r.track(s)
	defer r.untrack(s)

	if !r.runStreamHandler(s, path, h) {
		return
	}
	if err := s.Serve(); err != nil && !errors.Is(err, stream.ErrAlreadyStarted) {
		r.logger.Debug("stream ended", "path", path, "stream_id", s.ID(), "error", err)
	}
	<-s.Done()
}

// runStreamHandler calls h, closing the stream if it panics.
func (r *Router) runStreamHandler(s *stream.Stream, path string, h StreamHandler) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("stream handler panic",
				"path", path,
				"stream_id", s.ID(),
				"panic", rec,
				"stack", string(debug.Stack()))
			s.Close()
			ok = false
		}
	}()
	h(s)
	return true
}

func (r *Router) track(s *stream.Stream) {
	r.mu.Lock()
	r.streams[s.ID()] = s
	r.mu.Unlock()
}

func (r *Router) untrack(s *stream.Stream) {
	r.mu.Lock()
	delete(r.streams, s.ID())
	r.mu.Unlock()
}

// ActiveStreams returns the number of accepted streams still open.
func (r *Router) ActiveStreams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// CloseStreams closes every accepted stream.
func (r *Router) CloseStreams() {
	r.mu.RLock()
	streams := make([]*stream.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	for _, s := range streams {
		s.Close()
	}
}
