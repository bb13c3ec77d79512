package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
)

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func post(t *testing.T, url, body string, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(data)
}

type sendMessageRequest struct {
	Message message `json:"message"`
}

func chatRouter() *Router {
	r := NewRouter()
	r.BindMethod("Example.lugma/Chat/SendMessage", Method(func(ctx context.Context, req sendMessageRequest, md *protocol.Metadata) Result {
		if role, _ := md.Get("role"); role != "admin" {
			return Err(map[string]any{"NoPermissions": map[string]string{"needed": "admin"}})
		}
		return Ok(struct{}{})
	}))
	return r
}

func TestRouterMethodResults(t *testing.T) {
	srv := httptest.NewServer(chatRouter())
	defer srv.Close()
	url := srv.URL + "/Example.lugma/Chat/SendMessage"

	tests := []struct {
		name       string
		body       string
		header     map[string]string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ok",
			body:       `{"message":{"id":"1"}}`,
			header:     map[string]string{"lugma-role": "admin"},
			wantStatus: http.StatusOK,
			wantBody:   `{}`,
		},
		{
			name:       "error_union",
			body:       `{"message":{"id":"1"}}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"NoPermissions":{"needed":"admin"}}`,
		},
		{
			name:       "not_json",
			body:       `{"message":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid request body"}`,
		},
		{
			name:       "wrong_shape",
			body:       `{"message":"not an object"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid request body"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, url, tc.body, tc.header)
			if status != tc.wantStatus {
				t.Errorf("status = %d, want %d", status, tc.wantStatus)
			}
			if body != tc.wantBody {
				t.Errorf("body = %s, want %s", body, tc.wantBody)
			}
		})
	}
}

func TestRouterPanicIs500(t *testing.T) {
	r := NewRouter()
	r.BindMethod("boom", func(context.Context, json.RawMessage, *protocol.Metadata) Result {
		panic("boom")
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	if status, _ := post(t, srv.URL+"/boom", `{}`, nil); status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
}

func TestRouterMiddlewareSeesPathAndResult(t *testing.T) {
	r := chatRouter()

	var mu sync.Mutex
	var seen []string
	r.Use(func(next MethodHandler) MethodHandler {
		return func(ctx context.Context, body json.RawMessage, md *protocol.Metadata) Result {
			res := next(ctx, body, md)
			mu.Lock()
			seen = append(seen, MethodPath(ctx)+":"+http.StatusText(res.Status()))
			mu.Unlock()
			return res
		}
	})

	srv := httptest.NewServer(r)
	defer srv.Close()
	url := srv.URL + "/Example.lugma/Chat/SendMessage"

	post(t, url, `{"message":{"id":"1"}}`, map[string]string{"lugma-role": "admin"})
	post(t, url, `garbage`, nil)

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"/Example.lugma/Chat/SendMessage:OK",
		"/Example.lugma/Chat/SendMessage:Bad Request",
	}
	if len(seen) != 2 || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("middleware saw %v, want %v", seen, want)
	}
}

func TestRouterEmptyBodyIsNull(t *testing.T) {
	r := NewRouter()
	r.BindMethod("echo", func(_ context.Context, body json.RawMessage, _ *protocol.Metadata) Result {
		return Ok(body)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	if status, body := post(t, srv.URL+"/echo", "", nil); status != 200 || body != "null" {
		t.Errorf("empty body: %d %s", status, body)
	}
}

func TestClientAgainstRouter(t *testing.T) {
	srv := httptest.NewServer(chatRouter())
	defer srv.Close()
	tr := newTransport(t, srv)

	req := sendMessageRequest{Message: message{ID: "1"}}
	_, err := Call[struct{}, chatError](context.Background(), tr, "Example.lugma/Chat/SendMessage", req, nil)
	var re *RemoteError[chatError]
	if !errors.As(err, &re) || re.Payload.NoPermissions.Needed != "admin" {
		t.Fatalf("Call() error = %v, want NoPermissions", err)
	}

	_, err = Call[struct{}, chatError](context.Background(), tr, "Example.lugma/Chat/SendMessage", req,
		protocol.NewMetadata("role", "admin"))
	if err != nil {
		t.Errorf("Call() as admin error = %v", err)
	}
}

func echoStreamRouter(handshakes chan<- string) *Router {
	r := NewRouter()
	r.BindStream("Example.lugma/Chat/SubscribeToEvents", func(s *stream.Stream) {
		user, _ := s.Metadata().Get("user")
		handshakes <- user
		stream.On(s, "ping", func(n int) {
			stream.Emit(s, "pong", n+1)
		})
	})
	return r
}

func TestOpenStreamRoundTrip(t *testing.T) {
	handshakes := make(chan string, 1)
	r := echoStreamRouter(handshakes)
	srv := httptest.NewServer(r)
	defer srv.Close()
	tr := newTransport(t, srv)

	s, err := tr.OpenStream(context.Background(), "Example.lugma/Chat/SubscribeToEvents",
		protocol.NewMetadata("user", "ana"))
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer s.Close()

	if s.State() != stream.StateOpen {
		t.Errorf("State() = %v, want open", s.State())
	}
	if user := wait(t, handshakes); user != "ana" {
		t.Errorf("server saw user %q", user)
	}

	pongs := make(chan int, 1)
	stream.On(s, "pong", func(n int) { pongs <- n })
	if err := s.Send("ping", 41); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := wait(t, pongs); n != 42 {
		t.Errorf("pong = %d, want 42", n)
	}
	if r.ActiveStreams() != 1 {
		t.Errorf("ActiveStreams() = %d, want 1", r.ActiveStreams())
	}
}

func TestCloseStreamsClosesClients(t *testing.T) {
	handshakes := make(chan string, 1)
	r := echoStreamRouter(handshakes)
	srv := httptest.NewServer(r)
	defer srv.Close()
	tr := newTransport(t, srv)

	s, err := tr.OpenStream(context.Background(), "Example.lugma/Chat/SubscribeToEvents", nil)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	closed := make(chan struct{}, 1)
	s.SubscribeToClose(func() { closed <- struct{}{} })
	wait(t, handshakes)

	r.CloseStreams()
	wait(t, closed)

	deadline := time.Now().Add(2 * time.Second)
	for r.ActiveStreams() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := r.ActiveStreams(); n != 0 {
		t.Errorf("ActiveStreams() = %d after close, want 0", n)
	}
}

func TestOpenStreamRejectedUpgrade(t *testing.T) {
	srv := httptest.NewServer(chatRouter())
	defer srv.Close()
	tr := newTransport(t, srv)

	_, err := tr.OpenStream(context.Background(), "Example.lugma/Chat/SendMessage", nil)
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("OpenStream() error = %v, want *ConnectionError", err)
	}
	if ce.Op != "dial" || ce.Status != http.StatusMethodNotAllowed {
		t.Errorf("ConnectionError = %+v", ce)
	}
}

func TestStreamHandlerPanicClosesStream(t *testing.T) {
	r := NewRouter()
	r.BindStream("bad", func(s *stream.Stream) { panic("handler bug") })
	srv := httptest.NewServer(r)
	defer srv.Close()

	s, err := newTransport(t, srv).OpenStream(context.Background(), "bad", nil)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	wait(t, s.Done())
}
