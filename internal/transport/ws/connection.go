package ws

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Connection is one client socket. The read loop and the pipeline event
// forwarder write concurrently, so every send goes through one lock.
type Connection struct {
	id     string
	sock   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
	seen   atomic.Int64
}

// NewConnection wraps a freshly upgraded socket.
func NewConnection(id string, sock *websocket.Conn) *Connection {
	c := &Connection{id: id, sock: sock}
	c.markSeen()
	return c
}

// ID is the transport connection identifier, distinct from the call id
// negotiated at hello.
func (c *Connection) ID() string { return c.id }

// ReadMessage blocks for the next client frame.
func (c *Connection) ReadMessage() (int, []byte, error) {
	kind, payload, err := c.sock.ReadMessage()
	if err == nil {
		c.markSeen()
	}
	return kind, payload, err
}

// WriteMessage sends one frame. A client that stops reading for longer
// than writeTimeout fails the write instead of wedging the forwarder.
func (c *Connection) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("write on closed connection %s", c.id)
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.sock.WriteMessage(kind, data); err != nil {
		return err
	}
	c.markSeen()
	return nil
}

// WriteJSON sends v as a text frame.
func (c *Connection) WriteJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// Close drops the socket. Idempotent.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.sock.Close()
}

// IsClosed reports whether Close has run.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// LastActive is the time of the last successful read or write.
func (c *Connection) LastActive() time.Time { return time.Unix(0, c.seen.Load()) }

func (c *Connection) markSeen() { c.seen.Store(time.Now().UnixNano()) }
