package integration_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lugma-dev/lugma/examples/chat"
	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
	"github.com/lugma-dev/lugma/pkg/transport"
)

// TestUser represents a user for testing.
type TestUser struct {
	ID   string
	Role string
}

type userContextKey struct{}

// mockAuthMiddleware simulates authentication middleware.
func mockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer valid-token" {
			user := &TestUser{ID: "user-123", Role: "admin"}
			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authRoom takes the caller's role from the HTTP auth context instead of
// call metadata.
type authRoom struct {
	*chat.Room
}

func (a authRoom) SendMessage(ctx context.Context, req chat.SendMessageRequest, md *protocol.Metadata) error {
	user, _ := ctx.Value(userContextKey{}).(*TestUser)
	if user == nil || user.Role != "admin" {
		return &chat.Error{NoPermissions: &chat.NoPermissions{Needed: "admin"}}
	}
	a.Broadcast(req.Message)
	return nil
}

func authClient(token string) *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+token)
		return http.DefaultTransport.RoundTrip(r)
	})}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TestChiRouterIntegration mounts a lugma router inside an existing chi app.
func TestChiRouterIntegration(t *testing.T) {
	room := authRoom{chat.NewRoom("")}
	rpc := transport.NewRouter()
	chat.Bind(rpc, room)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mockAuthMiddleware)
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount("/rpc", rpc)

	srv := httptest.NewServer(r)
	defer srv.Close()
	defer rpc.CloseStreams()

	t.Run("API health endpoint", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("auth context reaches method handlers", func(t *testing.T) {
		anon, err := transport.New(srv.URL + "/rpc")
		if err != nil {
			t.Fatal(err)
		}
		err = chat.NewClient(anon).SendMessage(context.Background(), chat.Message{ID: "1"}, chat.Message{}, nil)
		var re *transport.RemoteError[chat.Error]
		if !errors.As(err, &re) || re.Payload.NoPermissions == nil {
			t.Fatalf("anonymous SendMessage error = %v, want NoPermissions", err)
		}

		authed, err := transport.New(srv.URL+"/rpc", transport.WithHTTPClient(authClient("valid-token")))
		if err != nil {
			t.Fatal(err)
		}
		if err := chat.NewClient(authed).SendMessage(context.Background(), chat.Message{ID: "1"}, chat.Message{}, nil); err != nil {
			t.Errorf("authenticated SendMessage error = %v", err)
		}
	})

	t.Run("streams work under a mount", func(t *testing.T) {
		tr, err := transport.New(srv.URL + "/rpc/")
		if err != nil {
			t.Fatal(err)
		}
		s, err := chat.NewClient(tr).SubscribeToEvents(context.Background(), protocol.NewMetadata("user", "ana"))
		if err != nil {
			t.Fatalf("SubscribeToEvents() error = %v", err)
		}
		defer s.Close()

		got := make(chan chat.Message, 1)
		s.OnMessageReceived(func(m chat.Message) { got <- m })

		deadline := time.Now().Add(2 * time.Second)
		for room.Subscribers() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("stream never reached the room")
			}
			time.Sleep(5 * time.Millisecond)
		}
		room.Broadcast(chat.Message{ID: "42"})

		select {
		case m := <-got:
			if m.ID != "42" {
				t.Errorf("got %+v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	})
}

// TestStdlibMuxIntegration mounts a lugma router under a stdlib ServeMux.
func TestStdlibMuxIntegration(t *testing.T) {
	rpc := transport.NewRouter()
	rpc.BindStream("Echo", func(s *stream.Stream) {
		stream.On(s, "ping", func(n int) { stream.Emit(s, "pong", n) })
	})
	rpc.BindMethod("Add", transport.Method(func(_ context.Context, req [2]int, _ *protocol.Metadata) transport.Result {
		return transport.Ok(req[0] + req[1])
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("api"))
	})
	mux.Handle("/rpc/", http.StripPrefix("/rpc", rpc))

	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer rpc.CloseStreams()

	tr, err := transport.New(srv.URL + "/rpc")
	if err != nil {
		t.Fatal(err)
	}

	sum, err := transport.Call[int, string](context.Background(), tr, "Add", [2]int{2, 3}, nil)
	if err != nil || sum != 5 {
		t.Errorf("Add = %d, %v", sum, err)
	}

	s, err := tr.OpenStream(context.Background(), "Echo", nil)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer s.Close()
	pongs := make(chan int, 1)
	stream.On(s, "pong", func(n int) {
		select {
		case pongs <- n:
		default:
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.Send("ping", 9); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		select {
		case n := <-pongs:
			if n != 9 {
				t.Errorf("pong = %d", n)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no pong")
		}
	}
}
