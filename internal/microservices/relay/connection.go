package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultWriteWait      = 10 * time.Second // max time to write a frame to the peer
	DefaultMaxMessageSize = 1024 * 1024      // 1MB max inbound frame
	DefaultSendBufferSize = 256              // queued outbound frames per connection
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// wsConn is the subset of *websocket.Conn the relay uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// ConnectionOptions tunes a single connection.
type ConnectionOptions struct {
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      float64 // inbound frames/sec, 0 disables
	RateBurst      int
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = DefaultSendBufferSize
	}
	if o.RateLimit > 0 && o.RateBurst < 1 {
		o.RateBurst = 1
	}
	return o
}

// Connection is one live WebSocket link and its relay state.
type Connection struct {
	ID          string // unique identifier = key in registry
	RemoteAddr  string
	ConnectedAt time.Time

	conn      wsConn
	send      chan []byte   // outbound frames, drained by writePump only
	limiter   *rate.Limiter // nil when rate limiting is off
	writeWait time.Duration

	role   atomic.Uint32 // Role, moves away from RoleUnregistered at most once
	alive  atomic.Bool   // cleared each heartbeat, set by pong
	closed atomic.Bool

	closeOnce sync.Once
	done      chan struct{} // closed by Close, stops writePump
}

// NewConnection wraps an upgraded WebSocket.
func NewConnection(conn wsConn, opts ConnectionOptions) *Connection {
	opts = opts.withDefaults()

	c := &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, opts.SendBufferSize),
		writeWait:   opts.WriteWait,
		done:        make(chan struct{}),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		c.RemoteAddr = addr.String()
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}
	c.alive.Store(true)

	conn.SetReadLimit(opts.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

// Role returns the connection's current role.
func (c *Connection) Role() Role {
	return Role(c.role.Load())
}

// setRole moves the connection out of RoleUnregistered. It reports false when
// a role was already set.
func (c *Connection) setRole(role Role) bool {
	return c.role.CompareAndSwap(uint32(RoleUnregistered), uint32(role))
}

// IsOpen reports whether the transport is still usable.
func (c *Connection) IsOpen() bool {
	return !c.closed.Load()
}

// Send queues a frame for delivery. It never blocks: a closed connection or a
// full queue drops the frame.
func (c *Connection) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Allow consumes one inbound rate-limit token.
func (c *Connection) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// beginHeartbeat clears the alive flag and returns its previous value.
func (c *Connection) beginHeartbeat() bool {
	return c.alive.Swap(false)
}

// Ping sends a WebSocket ping control frame. Safe to call concurrently with writePump.
func (c *Connection) Ping() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close terminates the transport. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readPump reads frames until the transport fails or is closed, handing each
// data frame to handle. Control frames are consumed by the websocket library.
func (c *Connection) readPump(handle func(*Connection, []byte), logger *slog.Logger) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && c.IsOpen() {
				logger.Debug("client_read_error",
					"client_id", c.ID,
					"error", err.Error(),
				)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		handle(c, data)
	}
}

// writePump is the only writer of data frames, so frames from one sender
// reach this peer in the order they were queued.
func (c *Connection) writePump(logger *slog.Logger) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("client_write_failed",
					"client_id", c.ID,
					"error", err.Error(),
				)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
