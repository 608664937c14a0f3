package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	auth    []string
	tokens  []string
	accepts int
}

// newWSServer serves /connections and writes frames to each client, then
// either holds the socket open or drops it when hangup is set.
func newWSServer(t *testing.T, frames []string, hangup bool) *wsServer {
	t.Helper()
	s := &wsServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.accepts++
		s.mu.Unlock()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if hangup {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, secret, want string
		wantErr            bool
	}{
		{"http://127.0.0.1:9090", "", "ws://127.0.0.1:9090/connections", false},
		{"https://router.lan/api/", "", "wss://router.lan/api/connections", false},
		{"127.0.0.1:9090", "s3cret", "ws://127.0.0.1:9090/connections?token=s3cret", false},
		{"ftp://host", "", "", true},
		{"http://", "", "", true},
	}
	for _, tt := range tests {
		got, err := streamURL(tt.base, tt.secret)
		if tt.wantErr {
			if err == nil {
				t.Errorf("streamURL(%q) = %q, want error", tt.base, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("streamURL(%q) = %q, %v; want %q", tt.base, got, err, tt.want)
		}
	}
}

func TestRedactHidesToken(t *testing.T) {
	got := redact("ws://h:1/connections?token=s3cret")
	if strings.Contains(got, "s3cret") {
		t.Errorf("redact leaked token: %s", got)
	}
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	frames := []string{
		`{"uploadTotal":1,"downloadTotal":1,"connections":[]}`,
		`not json`,
		`{"uploadTotal":2,"downloadTotal":2,"connections":[{"id":"a","start":"2026-01-02T03:04:05Z","upload":5,"download":6}]}`,
		`{"uploadTotal":3,"downloadTotal":3,"connections":[]}`,
	}
	srv := newWSServer(t, frames, false)

	var states []State
	var smu sync.Mutex
	ws, err := DialWebSocket(context.Background(), WebSocketOptions{
		URL:    srv.URL,
		Secret: "s3cret",
		OnState: func(s State, _ error) {
			smu.Lock()
			states = append(states, s)
			smu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := newCollector()
	unsub := ws.Subscribe(c.handle)
	c.waitSnapshots(t, 3)

	if got := c.totals(); got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("totals = %v, want [1 2 3]", got)
	}
	srv.mu.Lock()
	if srv.auth[0] != "Bearer s3cret" || srv.tokens[0] != "s3cret" {
		t.Errorf("auth = %q token = %q", srv.auth[0], srv.tokens[0])
	}
	srv.mu.Unlock()

	unsub()
	unsub()
	if err := ws.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	smu.Lock()
	defer smu.Unlock()
	if len(states) < 3 || states[0] != StateConnecting || states[1] != StateConnected || states[len(states)-1] != StateClosed {
		t.Errorf("states = %v", states)
	}
}

func TestWebSocketReconnects(t *testing.T) {
	srv := newWSServer(t, []string{`{"uploadTotal":9,"connections":[]}`}, true)
	ws, err := DialWebSocket(context.Background(), WebSocketOptions{
		URL:        srv.URL,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	c := newCollector()
	ws.Subscribe(c.handle)

	c.waitSnapshots(t, 2)
	if srv.acceptCount() < 2 {
		t.Errorf("accepts = %d, want a reconnect", srv.acceptCount())
	}
}

func TestDialWebSocketFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := DialWebSocket(context.Background(), WebSocketOptions{URL: srv.URL, Secret: "bad"})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if strings.Contains(err.Error(), "token=bad") {
		t.Errorf("error leaks secret: %v", err)
	}
}
