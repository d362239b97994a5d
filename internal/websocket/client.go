package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 4096
)

var ErrClientDisconnected = fmt.Errorf("client disconnected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering happens at the proxy; the token check in the
		// join frame is what gates access here.
		return true
	},
}

// Client owns one duplex connection: the read pump feeds the session state
// machine, the write pump drains the send queue. The client is the sole owner
// of the socket; the registry only indexes it through the Conn interface.
type Client struct {
	id      string
	conn    *websocket.Conn
	session *Session
	send    chan []byte

	// Connection state management
	ctx    context.Context
	cancel context.CancelFunc
	closed int32 // atomic flag to track if client is closed
}

func NewClient(conn *websocket.Conn, registry StreamRegistry, verifier TokenVerifier, sender MessageSender) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	c.session = NewSession(c, registry, verifier, sender, slog.Default().With("clientID", c.id))
	return c
}

func (c *Client) GetID() string {
	return c.id
}

// Session exposes the protocol state machine, mainly for tests and metrics.
func (c *Client) Session() *Session {
	return c.session
}

// Send enqueues a payload for the write pump. It never blocks: a full buffer
// means the peer stopped reading, and the client is shut down rather than
// letting one slow consumer stall a broadcast.
func (c *Client) Send(data []byte) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, closing client", "clientID", c.id)
		c.close()
		return ErrClientDisconnected
	}
}

// isClosed returns true if the client is closed
func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// close marks the client as closed and cancels the context
func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
		slog.Debug("Client marked as closed", "clientID", c.id)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()

		// ConnectionClosed is delivered to the session exactly once,
		// whatever ended the read loop.
		c.session.Close()

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.id, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	slog.Debug("ReadPump started", "clientID", c.id)

	for {
		select {
		case <-c.ctx.Done():
			slog.Debug("ReadPump context cancelled", "clientID", c.id)
			return
		default:
		}

		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.id, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.id, "error", err)
			}
			break
		}

		// Frames are handled inline, one at a time, which serializes
		// this connection's sends without blocking any other client.
		c.session.HandleFrame(c.ctx, messageBytes)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()

		// Don't close the connection here as readPump handles it
		slog.Debug("WritePump finished", "clientID", c.id)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "clientID", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.id, "error", err)
				return
			}

		case <-c.ctx.Done():
			slog.Debug("WritePump context cancelled", "clientID", c.id)
			return
		}
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and starts the
// client's pumps. Authentication happens later, inside the join frame.
func ServeWS(w http.ResponseWriter, r *http.Request, registry StreamRegistry, verifier TokenVerifier, sender MessageSender) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := NewClient(conn, registry, verifier, sender)
	slog.Info("New WebSocket connection established", "clientID", client.id)

	go client.writePump()
	go client.readPump()
}
