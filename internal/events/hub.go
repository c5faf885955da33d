package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub pushes lifecycle events to operator dashboards over websocket.
// It is fed from RedisBus.Subscribe so every replica delivers every event.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn

	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		conns: map[string]*conn{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The route is behind bearer auth; origin is not a credential here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Emit delivers locally without Redis. Used when a single replica runs.
func (h *Hub) Emit(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.Broadcast(e)
	return nil
}

// Broadcast writes e to every subscriber interested in its room and returns the delivery count.
func (h *Hub) Broadcast(e Event) int {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("encode event", "err", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.wants(e.RoomName) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Serve upgrades the request and streams events until the client goes away.
// room, when non-empty, limits the stream to one room.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, identity, room string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	c := newConn(identity, room, ws)
	h.attach(c)
	defer func() {
		h.detach(c)
		c.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	hello, _ := json.Marshal(map[string]string{"type": "connected", "roomName": room})
	_ = c.Send(hello)

	// Subscribers do not send frames; reading keeps pong and close handling alive.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = map[string]*conn{}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) attach(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	go c.writeLoop()
	h.log.Debug("event subscriber attached", "identity", c.identity, "room", c.room)
}

func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}
