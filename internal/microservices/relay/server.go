package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Options configures a relay Server.
type Options struct {
	Addr           string
	Connection     ConnectionOptions
	AllowedOrigins []string // empty allows any origin
	Metrics        *Metrics
	Logger         *slog.Logger
}

// Server accepts WebSocket connections on a single endpoint and wires each
// one into the registry and router.
type Server struct {
	Addr     string
	Registry *Registry
	Router   *Router

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	connOpts   ConnectionOptions
	metrics    *Metrics
	logger     *slog.Logger

	mu      sync.Mutex // guards closing and wg.Add
	closing bool
	wg      sync.WaitGroup // one per live connection
}

// NewServer builds a relay server. Every routed frame is handed to recorder.
func NewServer(opts Options, recorder Recorder) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry(logger)
	s := &Server{
		Addr:     opts.Addr,
		Registry: registry,
		Router:   NewRouter(registry, recorder, opts.Metrics, logger),
		connOpts: opts.Connection.withDefaults(),
		metrics:  opts.Metrics,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.GET("/*path", s.upgradeHandler())

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the upgrade endpoint, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on s.Addr and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start relay server: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("relay_server_started", "addr", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}

// Stop refuses new connections, closes every open one and waits for their
// goroutines to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.Registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay_server_stopped")
	case <-ctx.Done():
		s.logger.Warn("relay_server_stop_timed_out")
		return ctx.Err()
	}
	return err
}

// accept registers a freshly upgraded transport and starts its pumps.
func (s *Server) accept(ws wsConn) {
	c := NewConnection(ws, s.connOpts)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.wg.Add(1)
	s.Registry.Add(c)
	s.mu.Unlock()

	s.metrics.observeConnections(s.Registry.CountByRole())

	go c.writePump(s.logger)
	go func() {
		defer s.wg.Done()
		c.readPump(s.handleFrame, s.logger)
		s.closeConnection(c)
	}()
}

// handleFrame validates one inbound data frame and dispatches it.
func (s *Server) handleFrame(c *Connection, data []byte) {
	if !c.Allow() {
		s.logger.Warn("rate_limit_exceeded", "client_id", c.ID)
		s.metrics.protocolError("rate_limited")
		s.Router.reply(c, ErrorFrame(ErrMsgRateLimited))
		return
	}

	msg, err := ParseMessage(data)
	if err != nil {
		s.logger.Warn("invalid_json_received",
			"client_id", c.ID,
			"error", err.Error(),
		)
		s.metrics.protocolError("invalid_json")
		s.Router.reply(c, ErrorFrame(ErrMsgInvalidJSON))
		return
	}

	s.Router.Route(c, msg, data)
}

// closeConnection runs exactly once per connection, after its read pump exits.
func (s *Server) closeConnection(c *Connection) {
	c.Close()
	s.Registry.Remove(c)
	s.logger.Info("client_disconnected",
		"client_id", c.ID,
		"role", c.Role().Source(),
	)
	s.Router.ConnectionClosed(c)
	s.metrics.observeConnections(s.Registry.CountByRole())
}
