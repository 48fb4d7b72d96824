package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Client is one accepted, authenticated duplex socket. A client belongs to
// at most one Room at a time (spec.md §3's RoomSession invariant).
type Client struct {
	ID     string
	UserID string
	Email  string

	conn *websocket.Conn
	send chan []byte

	room       *Room
	documentID string

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID, email string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Email:  email,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// enqueue schedules an envelope for delivery, dropping it if the client's
// buffer is full rather than blocking the caller (a slow client must never
// stall the room's broadcast loop).
func (c *Client) enqueue(env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains c.send to the socket and sends periodic pings. It owns
// the connection's write side exclusively, per gorilla/websocket's
// single-writer requirement.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close shuts down the write pump, safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}
