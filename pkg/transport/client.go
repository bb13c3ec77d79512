package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
)

const tracerName = "github.com/lugma-dev/lugma/pkg/transport"

// MaxResponseSize caps how much of a response body MakeRequest reads.
const MaxResponseSize = 16 << 20

// Transport carries unary calls and opens event streams. Generated stubs
// depend only on this interface.
type Transport interface {
	// MakeRequest posts body as JSON to endpoint and returns the response
	// body. Non-200 responses yield *RemoteError[json.RawMessage].
	MakeRequest(ctx context.Context, endpoint string, body any, md *protocol.Metadata) (json.RawMessage, error)

	// OpenStream opens an event stream on endpoint, sending md as the
	// handshake. The returned stream is open and reading.
	OpenStream(ctx context.Context, endpoint string, md *protocol.Metadata) (*stream.Stream, error)
}

// HTTPTransport implements Transport over HTTP POST and WebSocket.
type HTTPTransport struct {
	base       *url.URL
	client     *http.Client
	dialer     *websocket.Dialer
	streamCfg  *stream.Config
	observer   stream.Observer
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

var _ Transport = (*HTTPTransport)(nil)

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient sets the client used for unary calls.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithDialer sets the WebSocket dialer used by OpenStream.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *HTTPTransport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithStreamConfig sets the configuration of opened streams.
func WithStreamConfig(cfg *stream.Config) Option {
	return func(t *HTTPTransport) {
		t.streamCfg = cfg.Clone()
	}
}

// WithObserver attaches an observer to every opened stream.
func WithObserver(o stream.Observer) Option {
	return func(t *HTTPTransport) {
		t.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *HTTPTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTracer sets the tracer provider for client spans.
// Default: the global provider.
func WithTracer(tp trace.TracerProvider) Option {
	return func(t *HTTPTransport) {
		if tp != nil {
			t.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an HTTPTransport rooted at baseURL.
func New(baseURL string, opts ...Option) (*HTTPTransport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	t := &HTTPTransport{
		base:       base,
		client:     http.DefaultClient,
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default().With("component", "transport"),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// BaseURL returns the base URL the transport was created with.
func (t *HTTPTransport) BaseURL() string {
	return t.base.String()
}

// endpointURL joins the base URL and endpoint with exactly one slash.
func (t *HTTPTransport) endpointURL(endpoint string) string {
	return strings.TrimSuffix(t.base.String(), "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

// streamURL is endpointURL with http mapped to ws and https to wss.
func (t *HTTPTransport) streamURL(endpoint string) string {
	u := t.endpointURL(endpoint)
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// MakeRequest implements Transport.
func (t *HTTPTransport) MakeRequest(ctx context.Context, endpoint string, body any, md *protocol.Metadata) (json.RawMessage, error) {
	target := t.endpointURL(endpoint)

	ctx, span := t.tracer.Start(ctx, "lugma.call "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("lugma.endpoint", endpoint),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode request")
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConnectionError{Op: "request", URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	md.ApplyHeaders(req.Header)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, &ConnectionError{Op: "request", URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response")
		return nil, &ConnectionError{Op: "read", URL: target, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		rerr := &RemoteError[json.RawMessage]{Status: resp.StatusCode, Payload: errorPayload(data)}
		span.SetStatus(codes.Error, "remote error")
		t.logger.Debug("remote error", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, rerr
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		span.SetStatus(codes.Error, "invalid response")
		return nil, ErrInvalidResponse
	}
	return json.RawMessage(data), nil
}

// errorPayload returns data when it is JSON, otherwise data as a JSON
// string, so a RemoteError payload is always valid JSON.
func errorPayload(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

// OpenStream implements Transport.
func (t *HTTPTransport) OpenStream(ctx context.Context, endpoint string, md *protocol.Metadata) (*stream.Stream, error) {
	target := t.streamURL(endpoint)

	header := make(http.Header)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(header))

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		ce := &ConnectionError{Op: "dial", URL: target, Err: err}
		if resp != nil {
			ce.Status = resp.StatusCode
		}
		return nil, ce
	}

	var opts []stream.Option
	if t.streamCfg != nil {
		opts = append(opts, stream.WithConfig(t.streamCfg))
	}
	if t.observer != nil {
		opts = append(opts, stream.WithObserver(t.observer))
	}

	s, err := stream.NewClient(conn, md, opts...)
	if err != nil {
		return nil, err
	}
	s.Start()
	t.logger.Debug("stream opened", "endpoint", endpoint, "stream_id", s.ID())
	return s, nil
}
