package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/lugma-dev/lugma/pkg/protocol"
)

func newTransport(t *testing.T, srv *httptest.Server, opts ...Option) *HTTPTransport {
	t.Helper()
	tr, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr
}

func TestMakeRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/Example.lugma/Chat/SendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if u := r.Header.Get("lugma-user"); u != "ana" {
			t.Errorf("lugma-user = %q, want ana", u)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"message":{"id":"1"}}` {
			t.Errorf("body = %s", body)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := newTransport(t, srv)
	raw, err := tr.MakeRequest(context.Background(), "Example.lugma/Chat/SendMessage",
		map[string]any{"message": map[string]string{"id": "1"}},
		protocol.NewMetadata("user", "ana"))
	if err != nil {
		t.Fatalf("MakeRequest() error = %v", err)
	}
	if string(raw) != `{}` {
		t.Errorf("MakeRequest() = %s, want {}", raw)
	}
}

func TestMakeRequestRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"NoPermissions":{"needed":"admin"}}`))
	}))
	defer srv.Close()

	tr := newTransport(t, srv)
	_, err := tr.MakeRequest(context.Background(), "Example.lugma/Chat/SendMessage", struct{}{}, nil)

	var re *RemoteError[json.RawMessage]
	if !errors.As(err, &re) {
		t.Fatalf("MakeRequest() error = %v, want *RemoteError", err)
	}
	if re.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", re.Status)
	}
	if string(re.Payload) != `{"NoPermissions":{"needed":"admin"}}` {
		t.Errorf("Payload = %s", re.Payload)
	}
	if !IsRemoteError(err) || IsConnectionError(err) {
		t.Error("error classification mismatch")
	}
}

func TestMakeRequestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := newTransport(t, srv)
	_, err := tr.MakeRequest(context.Background(), "x", nil, nil)

	var re *RemoteError[json.RawMessage]
	if !errors.As(err, &re) {
		t.Fatalf("MakeRequest() error = %v, want *RemoteError", err)
	}
	if re.Status != http.StatusBadGateway || string(re.Payload) != `"bad gateway"` {
		t.Errorf("RemoteError = %d %s", re.Status, re.Payload)
	}
}

func TestMakeRequestInvalidSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	tr := newTransport(t, srv)
	if _, err := tr.MakeRequest(context.Background(), "x", nil, nil); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("MakeRequest() error = %v, want ErrInvalidResponse", err)
	}
}

func TestMakeRequestConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := New(url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = tr.MakeRequest(context.Background(), "x", nil, nil)
	if !IsConnectionError(err) {
		t.Errorf("MakeRequest() error = %v, want *ConnectionError", err)
	}
}

func TestMakeRequestHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := newTransport(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.MakeRequest(ctx, "slow", nil, nil)
	if !IsConnectionError(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("MakeRequest() error = %v, want deadline *ConnectionError", err)
	}
}

func TestMakeRequestUnencodableBody(t *testing.T) {
	tr, err := New("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = tr.MakeRequest(context.Background(), "x", make(chan int), nil)
	if err == nil || IsConnectionError(err) {
		t.Errorf("MakeRequest(chan) error = %v, want encode error", err)
	}
}

func TestURLJoin(t *testing.T) {
	tests := []struct {
		base     string
		endpoint string
		want     string
		wantWS   string
	}{
		{"http://h", "A/B", "http://h/A/B", "ws://h/A/B"},
		{"http://h/", "A/B", "http://h/A/B", "ws://h/A/B"},
		{"http://h/", "/A/B", "http://h/A/B", "ws://h/A/B"},
		{"https://h/api", "Example.lugma/Chat/SendMessage", "https://h/api/Example.lugma/Chat/SendMessage", "wss://h/api/Example.lugma/Chat/SendMessage"},
		{"https://h:8443/api/", "/x", "https://h:8443/api/x", "wss://h:8443/api/x"},
	}

	for _, tc := range tests {
		t.Run(tc.base+"|"+tc.endpoint, func(t *testing.T) {
			tr, err := New(tc.base)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := tr.endpointURL(tc.endpoint); got != tc.want {
				t.Errorf("endpointURL() = %q, want %q", got, tc.want)
			}
			if got := tr.streamURL(tc.endpoint); got != tc.wantWS {
				t.Errorf("streamURL() = %q, want %q", got, tc.wantWS)
			}
		})
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "localhost:8080", "ftp://h", "://bad", "http://"} {
		if _, err := New(base); !errors.Is(err, ErrInvalidBaseURL) {
			t.Errorf("New(%q) error = %v, want ErrInvalidBaseURL", base, err)
		}
	}
}

type message struct {
	ID            string  `json:"id"`
	OptionalField *string `json:"optionalField,omitempty"`
}

type chatError struct {
	NoPermissions *struct {
		Needed string `json:"needed"`
	} `json:"NoPermissions,omitempty"`
}

func TestCallDecodesResultAndError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("lugma-role") == "admin" {
			w.Write([]byte(`{"id":"42"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"NoPermissions":{"needed":"admin"}}`))
	}))
	defer srv.Close()
	tr := newTransport(t, srv)
	ctx := context.Background()

	got, err := Call[message, chatError](ctx, tr, "m", nil, protocol.NewMetadata("role", "admin"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got.ID != "42" {
		t.Errorf("Call() = %+v", got)
	}

	_, err = Call[message, chatError](ctx, tr, "m", nil, nil)
	var re *RemoteError[chatError]
	if !errors.As(err, &re) {
		t.Fatalf("Call() error = %v, want *RemoteError[chatError]", err)
	}
	if re.Payload.NoPermissions == nil || re.Payload.NoPermissions.Needed != "admin" {
		t.Errorf("Payload = %+v", re.Payload)
	}
}

func TestCallKeepsRawErrorOnMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	_, err := Call[message, chatError](context.Background(), newTransport(t, srv), "m", nil, nil)
	var re *RemoteError[json.RawMessage]
	if !errors.As(err, &re) || string(re.Payload) != `[1,2,3]` {
		t.Errorf("Call() error = %v, want raw RemoteError", err)
	}
}

func TestUnaryMergesHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id": r.Header.Get("lugma-user") + "/" + r.Header.Get("lugma-trace"),
		})
	}))
	defer srv.Close()

	u := NewUnary[message, message, chatError](newTransport(t, srv), "Example.lugma/Chat/SendMessage")
	u.SetHeader("user", "ana").SetHeader("trace", "base")

	got, err := u.Do(context.Background(), message{ID: "1"}, protocol.NewMetadata("trace", "call"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got.ID != "ana/call" {
		t.Errorf("Do() id = %q, want ana/call", got.ID)
	}
	if u.Endpoint() != "Example.lugma/Chat/SendMessage" {
		t.Errorf("Endpoint() = %q", u.Endpoint())
	}
}

func TestMakeRequestRecordsSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	tr := newTransport(t, srv, WithTracer(tp))
	tr.MakeRequest(context.Background(), "Chat/SendMessage", nil, nil)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "lugma.call Chat/SendMessage" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindClient {
		t.Errorf("span kind = %v", span.SpanKind())
	}
	if span.Status().Description != "remote error" {
		t.Errorf("span status = %+v", span.Status())
	}
}
