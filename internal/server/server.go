// Package server is muxd's HTTP/WebSocket front: a gin router serving the
// banner, health and /ws routes, one Conn per upgraded client, and the
// notification broker fanning session-layer events out to subscribers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"orchmux/internal/rpc"
)

// shutdownDeadline bounds graceful shutdown; connections still open after
// this are aborted.
const shutdownDeadline = 5 * time.Second

// wsUpgrader is shared across upgrades; it is stateless. CORS is permissive
// for local development, so the origin check accepts everything.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 32 * 1024,
}

// Options configures the server.
type Options struct {
	// Addr is the listen address, e.g. ":7890" or "127.0.0.1:0".
	Addr string
	// OutboundQueueSize bounds each connection's send queue, in frames.
	OutboundQueueSize int
}

// Server owns the accept loop and the connection set.
type Server struct {
	opts              Options
	dispatcher        *rpc.Dispatcher
	broker            *Broker
	outboundQueueSize int

	// onShutdownRequest runs once when a client calls server_shutdown; the
	// supervisor wires it to the daemon's stop path.
	onShutdownRequest func()
	shutdownOnce      sync.Once

	listener   net.Listener
	httpServer *http.Server
	connSeq    atomic.Uint64
	url        string
}

// New creates a server. onShutdownRequest may be nil.
func New(opts Options, dispatcher *rpc.Dispatcher, broker *Broker, onShutdownRequest func()) *Server {
	if opts.OutboundQueueSize <= 0 {
		opts.OutboundQueueSize = 256
	}
	return &Server{
		opts:              opts,
		dispatcher:        dispatcher,
		broker:            broker,
		outboundQueueSize: opts.OutboundQueueSize,
		onShutdownRequest: onShutdownRequest,
	}
}

// Start binds the listener and serves until Shutdown. Returns once the
// listener is bound; serving continues on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("ws://127.0.0.1:%d/ws", port)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "muxd - multiplexer daemon")
	})
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Handler: router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		if serveErr := s.httpServer.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[server] serve error", "error", serveErr)
		}
	}()
	slog.Info("[server] listening", "url", s.url)
	return nil
}

// URL returns the WebSocket URL once Start has bound the listener.
func (s *Server) URL() string { return s.url }

// Port returns the bound port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// corsMiddleware keeps the local-development policy permissive.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// handleWS upgrades the request and runs the connection's read pump on this
// goroutine; the write pump runs on its own.
func (s *Server) handleWS(c *gin.Context) {
	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("[server] upgrade failed", "error", err)
		return
	}
	id := fmt.Sprintf("conn-%d", s.connSeq.Add(1))
	conn := newConn(id, ws, s)
	s.broker.register(conn)
	slog.Info("[server] client connected", "connId", id, "remoteAddr", ws.RemoteAddr())

	go conn.writePump()
	conn.readPump()
}

// requestShutdown runs the supervisor hook once, off the connection's
// goroutine so the acknowledgement flushes first.
func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		if s.onShutdownRequest == nil {
			return
		}
		go s.onShutdownRequest()
	})
}

// Shutdown stops accepting and signals every connection to close; each
// connection drains its queue for at most drainTimeout, then closes its
// socket. Upgraded WebSocket connections are not tracked by the HTTP server,
// so Shutdown does not wait for them; the deadline bounds the remaining
// plain HTTP connections, which are aborted when it expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.broker.closeAll()
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownDeadline)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[server] graceful shutdown expired, aborting connections", "error", err)
		return s.httpServer.Close()
	}
	slog.Info("[server] stopped")
	return nil
}
