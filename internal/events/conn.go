package events

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	readTimeout = 60 * time.Second
)

// conn wraps one subscriber socket; writes go through a buffered channel.
type conn struct {
	id       string
	identity string
	room     string // empty means every room

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func newConn(identity, room string, ws *websocket.Conn) *conn {
	return &conn{
		id:       uuid.NewString(),
		identity: identity,
		room:     room,
		ws:       ws,
		send:     make(chan []byte, 64),
		close:    make(chan struct{}),
	}
}

func (c *conn) wants(room string) bool {
	return c.room == "" || c.room == room
}

// Send drops slow subscribers instead of blocking the publisher.
func (c *conn) Send(payload []byte) error {
	select {
	case <-c.close:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

func (c *conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
