package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ftahirops/xconn/model"
	"github.com/gorilla/websocket"
)

// WebSocketOptions configures a controller stream.
type WebSocketOptions struct {
	URL        string // controller base URL, e.g. http://127.0.0.1:9090
	Secret     string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	OnState    StateFunc
}

// WebSocket streams snapshots from the controller's /connections endpoint
// and reconnects with capped exponential backoff when the stream drops.
type WebSocket struct {
	*hub
	opts   WebSocketOptions
	target string
	header http.Header

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	start   sync.Once
	runWG   sync.WaitGroup
	closing sync.Once
}

// DialWebSocket connects to the controller. The first dial is synchronous so
// a bad URL or secret is reported to the caller instead of retried forever.
// Reading starts with the first Subscribe.
func DialWebSocket(ctx context.Context, opts WebSocketOptions) (*WebSocket, error) {
	target, err := streamURL(opts.URL, opts.Secret)
	if err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}

	header := http.Header{}
	if opts.Secret != "" {
		header.Set("Authorization", "Bearer "+opts.Secret)
	}

	w := &WebSocket{
		opts:   opts,
		target: target,
		header: header,
	}
	w.notify(StateConnecting, nil)
	conn, err := w.dial(ctx)
	if err != nil {
		return nil, err
	}
	w.hub = newHub(maxBatch)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.setConn(conn)
	w.notify(StateConnected, nil)
	return w, nil
}

// WebSocketFactory returns a Factory for DialWebSocket.
func WebSocketFactory(opts WebSocketOptions) Factory {
	return func(ctx context.Context) (Source, error) {
		return DialWebSocket(ctx, opts)
	}
}

// streamURL turns a controller base URL into the ws(s) connections endpoint.
func streamURL(base, secret string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid controller url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid controller url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid controller url: missing host in %q", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/connections"
	if secret != "" {
		q := u.Query()
		q.Set("token", secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Subscribe registers h and starts reading on first use.
func (w *WebSocket) Subscribe(h Handler) func() {
	unsub := w.hub.Subscribe(h)
	w.start.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.conn == nil || w.ctx.Err() != nil {
			return
		}
		w.runWG.Add(1)
		go w.run(w.conn)
	})
	return unsub
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := w.opts.Dialer.DialContext(ctx, w.target, w.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", redact(w.target), err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(w.target), err)
	}
	return conn, nil
}

func (w *WebSocket) run(conn *websocket.Conn) {
	defer w.runWG.Done()
	backoff := w.opts.MinBackoff
	for {
		err := w.readLoop(conn)
		conn.Close()
		if w.ctx.Err() != nil || w.hub.closed() {
			return
		}
		log.Printf("xconn: stream dropped: %v", err)
		w.notify(StateReconnecting, err)

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := w.dial(w.ctx)
			if err == nil {
				if !w.setConn(next) {
					return
				}
				conn = next
				backoff = w.opts.MinBackoff
				w.notify(StateConnected, nil)
				break
			}
			if w.ctx.Err() != nil {
				return
			}
			w.notify(StateReconnecting, err)
			backoff *= 2
			if backoff > w.opts.MaxBackoff {
				backoff = w.opts.MaxBackoff
			}
		}
	}
}

func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var snap model.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Printf("xconn: skipping undecodable snapshot: %v", err)
			continue
		}
		if !w.hub.publish(snap) {
			return ErrClosed
		}
	}
}

// setConn publishes the live socket for Close. It refuses (and closes conn)
// once Close has started.
func (w *WebSocket) setConn(conn *websocket.Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		conn.Close()
		return false
	}
	w.conn = conn
	return true
}

func (w *WebSocket) notify(s State, err error) {
	if w.opts.OnState != nil {
		w.opts.OnState(s, err)
	}
}

// Close stops reconnecting, closes the socket and stops delivery.
func (w *WebSocket) Close() error {
	w.closing.Do(func() {
		w.cancel()
		w.mu.Lock()
		if w.conn != nil {
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			w.conn.Close()
		}
		w.mu.Unlock()
		w.hub.close()
		w.runWG.Wait()
		w.notify(StateClosed, nil)
	})
	return nil
}

// redact hides the token query parameter in log and error output.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "xxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
