// Package testhelpers provides WebSocket and HTTP utilities shared by the
// transport tests.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the Origin header sent by ConnectWebSocket.
const DefaultOrigin = "http://localhost:8080"

// Frame is a decoded server frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebSocketURL turns an httptest server URL into the /ws endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the given Origin header; an empty origin
// sends DefaultOrigin.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	if origin == "" {
		origin = DefaultOrigin
	}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Peer is a test client whose frames are read by a background goroutine, so
// waiting for a frame never leaves the connection in a timed-out state.
type Peer struct {
	Conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}
}

// Dial connects with DefaultOrigin and starts reading. The connection is
// closed when the test ends.
func Dial(t *testing.T, url string) *Peer {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, "")
	require.NoError(t, err)
	p := NewPeer(conn)
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

// NewPeer starts reading frames from conn.
func NewPeer(conn *websocket.Conn) *Peer {
	p := &Peer{
		Conn:   conn,
		frames: make(chan Frame, 256),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Peer) readLoop() {
	defer close(p.done)
	for {
		var f Frame
		if err := p.Conn.ReadJSON(&f); err != nil {
			return
		}
		p.frames <- f
	}
}

// Send writes a client envelope.
func (p *Peer) Send(event string, data any) error {
	return SendEvent(p.Conn, event, data)
}

// Next returns the next frame or fails the test after timeout.
func (p *Peer) Next(t *testing.T, timeout time.Duration) Frame {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("timed out after %s waiting for a frame", timeout)
	}
	return Frame{}
}

// Until skips frames until one with the given event name arrives.
func (p *Peer) Until(t *testing.T, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-p.frames:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out after %s waiting for %q frame", timeout, event)
			return Frame{}
		}
	}
}

// Drain returns every frame received until the connection stays quiet for idle.
func (p *Peer) Drain(idle time.Duration) []Frame {
	var frames []Frame
	for {
		select {
		case f := <-p.frames:
			frames = append(frames, f)
		case <-time.After(idle):
			return frames
		}
	}
}

// ExpectNone fails if a frame arrives within timeout.
func (p *Peer) ExpectNone(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case f := <-p.frames:
		t.Fatalf("expected no frame, got %q: %s", f.Event, string(f.Data))
	case <-time.After(timeout):
	}
}

// WaitClosed reports whether the server closed the connection within timeout.
func (p *Peer) WaitClosed(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SendEvent writes a client envelope.
func SendEvent(conn *websocket.Conn, event string, data any) error {
	return conn.WriteJSON(map[string]any{"event": event, "data": data})
}

// Decode unmarshals a frame's data into T.
func Decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}
