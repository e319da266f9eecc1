// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers groups the HTTP endpoints that share the hub.
type Handlers struct {
	log      *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
	now      func() time.Time
}

// HealthResponse is the body served by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	OnlineUsers int       `json:"onlineUsers"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewHandlers(log *slog.Logger, hub *Hub) *Handlers {
	origins := newOriginPolicy(log, hub.cfg.AllowedOrigins)
	return &Handlers{
		log: log,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WebSocket upgrades the request and hands the new client to the hub, which
// launches its pumps.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr)
	if !h.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Health reports the number of joined users. It has no side effects.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(HealthResponse{
		Status:      "ok",
		OnlineUsers: h.hub.OnlineCount(),
		Timestamp:   h.now(),
	})
	if err != nil {
		h.log.Warn("Error writing health response", "error", err)
	}
}

// TestPage serves a small HTML client that speaks the relay protocol.
func (h *Handlers) TestPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	if _, err := fmt.Fprintf(w, testPageHTML, scheme+"://"+r.Host+"/ws"); err != nil {
		h.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Presence Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .system { color: gray; font-style: italic; }
        .error { color: #721c24; }
        #typing { color: gray; height: 1.2em; }
    </style>
</head>
<body>
    <h1>Presence Chat Test</h1>
    <div id="roster">Online: 0</div>

    <div>
        <input type="text" id="nameInput" placeholder="Display name">
        <button onclick="join()">Join</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="messages"></div>
    <div id="typing"></div>

    <script>
        const ws = new WebSocket('%s');
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const typingDiv = document.getElementById('typing');
        let typing = false;

        function add(text, cls) {
            const el = document.createElement('div');
            el.className = cls || '';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function emit(event, data) {
            ws.send(JSON.stringify({event: event, data: data}));
        }

        ws.onmessage = function(e) {
            const frame = JSON.parse(e.data);
            const d = frame.data;
            switch (frame.event) {
            case 'system': add(d.text, 'system'); break;
            case 'message': add(d.displayName + ': ' + d.text); break;
            case 'error': add('Error: ' + d.message, 'error'); break;
            case 'typing': typingDiv.textContent = d.isTyping ? d.displayName + ' is typing...' : ''; break;
            case 'users':
                document.getElementById('roster').textContent =
                    'Online: ' + d.count + ' ' + d.users.map(u => u.displayName).join(', ');
                break;
            }
        };
        ws.onclose = function() { add('Connection closed', 'system'); };

        function join() {
            emit('join', {displayName: document.getElementById('nameInput').value});
        }

        function sendMessage() {
            emit('message', {text: messageInput.value});
            messageInput.value = '';
            if (typing) { typing = false; emit('typing', {isTyping: false}); }
        }

        messageInput.addEventListener('input', function() {
            const now = messageInput.value.length > 0;
            if (now !== typing) { typing = now; emit('typing', {isTyping: now}); }
        });
        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
