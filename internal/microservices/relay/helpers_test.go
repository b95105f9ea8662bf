package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeConn stands in for an upgraded *websocket.Conn.
type fakeConn struct {
	mu          sync.Mutex
	written     [][]byte
	pings       int
	pingErr     error
	autoPong    bool
	pongHandler func(string) error
	readLimit   int64

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isClosed() {
		return errors.New("write on closed conn")
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	if messageType != websocket.PingMessage {
		return nil
	}
	f.mu.Lock()
	f.pings++
	err := f.pingErr
	pong := f.autoPong
	handler := f.pongHandler
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if pong && handler != nil {
		return handler("")
	}
	return nil
}

func (f *fakeConn) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.readLimit = limit
	f.mu.Unlock()
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
}

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// record is one call to spyRecorder.Record.
type record struct {
	source  string
	payload []byte
}

type spyRecorder struct {
	mu      sync.Mutex
	records []record
}

func (r *spyRecorder) Record(source string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{source: source, payload: payload})
}

func (r *spyRecorder) all() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addConn creates a connection on a fake transport and tracks it in reg.
func addConn(t *testing.T, reg *Registry, opts ConnectionOptions) (*Connection, *fakeConn) {
	t.Helper()
	fc := newFakeConn()
	c := NewConnection(fc, opts)
	reg.Add(c)
	return c, fc
}

// addRegistered is addConn followed by SetRole.
func addRegistered(t *testing.T, reg *Registry, role Role) *Connection {
	t.Helper()
	c, _ := addConn(t, reg, ConnectionOptions{})
	require.NoError(t, reg.SetRole(c, role))
	return c
}

// queued drains and returns whatever is waiting in c's send queue.
func queued(c *Connection) [][]byte {
	var frames [][]byte
	for {
		select {
		case f := <-c.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}
