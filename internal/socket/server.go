// ABOUTME: HTTP handler that upgrades requests to WebSockets and feeds frames to the router
// ABOUTME: Tracks live connections so shutdown can close them and wait for their handlers

package socket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/directory"
	"github.com/2389/intake-gateway/internal/router"
)

// Dispatcher receives decoded traffic from every connection.
type Dispatcher interface {
	HandleMessage(conn router.Conn, data []byte)
	Disconnect(conn router.Conn) directory.Release
}

// Options tunes every accepted connection.
type Options struct {
	ReadLimit    int64
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration

	// CheckOrigin vets the Origin header of browser upgrades. Nil allows all.
	CheckOrigin func(origin string) bool
}

// OptionsFromConfig maps the websocket and cors sections onto Options.
func OptionsFromConfig(ws config.WebSocketConfig, cors config.CORSConfig) Options {
	return Options{
		ReadLimit:    ws.ReadLimitBytes,
		SendBuffer:   ws.SendBuffer,
		WriteTimeout: ws.WriteTimeout,
		PingInterval: ws.PingInterval,
		PongTimeout:  ws.PongTimeout,
		CheckOrigin:  cors.AllowsOrigin,
	}
}

func (o *Options) applyDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = config.DefaultReadLimitBytes
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = config.DefaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = config.DefaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = config.DefaultPingInterval
	}
	if o.PongTimeout <= o.PingInterval {
		o.PongTimeout = 2 * o.PingInterval
	}
}

// Server accepts WebSocket upgrades on a single path.
type Server struct {
	dispatcher Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a Server that dispatches to d.
func NewServer(d Dispatcher, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	s := &Server{
		dispatcher: d,
		opts:       opts,
		logger:     logger.With("component", "socket"),
		conns:      make(map[*Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows requests without an Origin header (non-browser tools)
// and otherwise defers to the configured allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.opts.CheckOrigin == nil {
		return true
	}
	return s.opts.CheckOrigin(origin)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, s.opts, s.logger)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	s.logger.Debug("websocket connected", "conn_id", conn.ID(), "remote_addr", r.RemoteAddr)

	go conn.writePump()
	conn.readLoop(func(data []byte) {
		s.dispatcher.HandleMessage(conn, data)
	})

	s.dispatcher.Disconnect(conn)
	conn.Close()
	s.logger.Debug("websocket disconnected", "conn_id", conn.ID())
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every live connection and waits for their handlers to
// release them from the router, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}
