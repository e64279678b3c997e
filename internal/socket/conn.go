// ABOUTME: Server-side WebSocket connection with a bounded outbound queue
// ABOUTME: Notify never blocks; a write pump drains the queue and sends keepalive pings

package socket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/intake-gateway/internal/router"
)

// Conn wraps one accepted WebSocket. It satisfies router.Conn.
type Conn struct {
	id     string
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	id := uuid.New().String()
	return &Conn{
		id:     id,
		ws:     ws,
		opts:   opts,
		logger: logger.With("conn_id", id),
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("connection closed")

	// ErrQueueFull is returned when the peer is not draining its queue.
	ErrQueueFull = errors.New("send queue full")
)

// Notify queues payload for sending. It returns router.Skipped when the
// connection is closed or its queue is full.
func (c *Conn) Notify(payload []byte) router.Delivery {
	err := c.enqueue(payload)
	if errors.Is(err, ErrQueueFull) {
		c.logger.Warn("dropping frame", "bytes", len(payload), "error", err)
	}
	if err != nil {
		return router.Skipped
	}
	return router.Delivered
}

func (c *Conn) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears down the socket. Safe to call more
// than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}

// readLoop hands every inbound data frame to handle until the peer goes away
// or the pong deadline passes.
func (c *Conn) readLoop(handle func(data []byte)) {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Debug("websocket read failed", "error", err)
				}
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		handle(data)
	}
}

// writePump is the only writer of data frames on the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				c.Close()
				return
			}
		}
	}
}
