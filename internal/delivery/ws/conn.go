package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v3"
)

const (
	writeWait  = 10 * time.Second
	maxMessage = 4096
)

// Conn wraps a gorilla/websocket connection with the stable identity and
// concurrency-safe writes the broadcaster and presence registry need.
// gorilla's *websocket.Conn permits at most one concurrent writer; every
// write goes through mu here so broadcaster fan-out and presence
// heartbeats never race on the same socket.
type Conn struct {
	id string
	ws *websocket.Conn

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// NewConn wraps raw, assigning it a short, URL-safe connection id.
func NewConn(raw *websocket.Conn) *Conn {
	raw.SetReadLimit(maxMessage)
	return &Conn{id: shortuuid.New(), ws: raw}
}

// ID returns the connection's stable identity, used as the map key in both
// the broadcaster's per-room socket set and diagnostic output.
func (c *Conn) ID() string { return c.id }

// SendJSON writes v as a single text frame. Safe for concurrent use.
func (c *Conn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Ping writes a control ping frame, used by the keepalive loop.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// ReadJSON blocks until the next text frame arrives and decodes it into v.
// Only the connection's single read-pump goroutine may call this.
func (c *Conn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

// SetPongHandler registers fn to run whenever a pong frame is received.
func (c *Conn) SetPongHandler(fn func(string) error) {
	c.ws.SetPongHandler(fn)
}

// SetReadDeadline extends the read deadline, called from the pong handler
// to keep the connection alive as long as heartbeats keep arriving.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close closes the underlying socket exactly once. Safe for concurrent use
// and safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeErr = errConnClosed
	return c.ws.Close()
}

// CloseWithCode sends a close frame carrying code and reason, then closes
// the underlying socket. Used for terminal protocol conditions such as an
// auth failure (close code 1008) that can only be signaled once the
// connection is already upgraded.
func (c *Conn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.closed = true
	c.closeErr = errConnClosed
	c.mu.Unlock()
	return c.ws.Close()
}

var errConnClosed = &connClosedError{}

type connClosedError struct{}

func (*connClosedError) Error() string { return "ws: connection closed" }
