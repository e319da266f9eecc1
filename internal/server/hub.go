// Package server coordinates client registration, event delivery, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/relay"
	"github.com/gorilla/websocket"
)

// Hub owns the open WebSocket clients and the relay engine. Its Run loop is
// the single point through which every connection event reaches the engine.
type Hub struct {
	log        *slog.Logger
	cfg        Config
	engine     *relay.Engine
	clients    map[presence.ConnID]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan relay.Event
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// Clients whose send queue overflowed during the current event.
	slow []*Client
}

// NewHub creates a Hub and the relay engine it drives.
func NewHub(log *slog.Logger, cfg *Config) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		log:        log,
		cfg:        sanitizeConfig(*cfg),
		clients:    make(map[presence.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan relay.Event),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.engine = relay.NewEngine(log, h, relay.Limits{
		MaxNameLength: h.cfg.MaxNameLength,
		MaxTextLength: h.cfg.MaxTextLength,
	})
	return h
}

// OnlineCount returns how many connections have joined the chat.
func (h *Hub) OnlineCount() int {
	return h.engine.OnlineCount()
}

// ClientCount returns how many WebSocket connections are open, joined or not.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.admit(client)

		case client := <-h.unregister:
			h.disconnect(client)
			h.dropSlowClients()

		case evt := <-h.inbound:
			h.dispatch(evt)
		}
	}
}

func (h *Hub) admit(client *Client) {
	h.mutex.Lock()
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	client.log.Info("Client registered", "total_clients", clientCount)

	h.dispatch(relay.Connected{From: client.id})

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// Register hands a new client to the run loop. It returns false once the hub
// is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// deliver hands a decoded client event to the run loop. It returns false once
// the hub is shutting down.
func (h *Hub) deliver(evt relay.Event) bool {
	select {
	case h.inbound <- evt:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// leave asks the run loop to forget the client.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) dispatch(evt relay.Event) {
	h.handle(evt)
	h.dropSlowClients()
}

func (h *Hub) handle(evt relay.Event) {
	err := h.engine.Handle(evt)
	var rej *relay.Rejection
	if err != nil && !errors.As(err, &rej) && !errors.Is(err, relay.ErrUnknownConnection) {
		h.log.Error("Relay failed to handle event", "conn_id", evt.Origin(), "error", err)
	}
}

// disconnect removes the client, closes its queue, and tells the engine.
func (h *Hub) disconnect(client *Client) {
	if client == nil {
		return
	}
	h.mutex.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	client.log.Info("Client unregistered", "total_clients", clientCount)

	h.handle(relay.Disconnected{From: client.id})
}

// dropSlowClients disconnects clients that could not keep up. Each drop is an
// ordinary leave and may itself overflow further clients, hence the loop.
func (h *Hub) dropSlowClients() {
	for len(h.slow) > 0 {
		client := h.slow[0]
		h.slow = h.slow[1:]
		client.log.Warn("Client removed due to full send buffer")
		h.disconnect(client)
	}
}

// Emit implements relay.Emitter. It is only called from the run loop, inside
// Engine.Handle, and never blocks.
func (h *Hub) Emit(scope relay.Scope, origin presence.ConnID, evt relay.Outbound) {
	payload, err := encodeEvent(evt)
	if err != nil {
		h.log.Error("Dropping outbound event", "event", evt.Name(), "error", err)
		return
	}

	for _, client := range h.targets(scope, origin) {
		if !h.safeSend(client, payload) && !client.slow {
			client.slow = true
			h.slow = append(h.slow, client)
		}
	}
}

func (h *Hub) targets(scope relay.Scope, origin presence.ConnID) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if scope == relay.ScopeSender {
		if c, ok := h.clients[origin]; ok {
			return []*Client{c}
		}
		return nil
	}

	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if scope == relay.ScopeOthers && id == origin {
			continue
		}
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	if client.closed {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// shutdownClients closes every open connection; the pumps then exit on their own.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.Warn("Error closing client connection", "error", err)
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the run loop and waits for all client goroutines to finish,
// or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
