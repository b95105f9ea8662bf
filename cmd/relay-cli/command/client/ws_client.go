package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

// ws_client.go = WebSocket client side of the relay protocol for relay-cli.

var ErrRegistrationRejected = errors.New("registration rejected")

// RelayClient is one role-bearing connection to the relay.
type RelayClient struct {
	conn    *websocket.Conn
	role    string
	writeMu sync.Mutex
	pending [][]byte // relayed frames that arrived before the ack
}

// Dial connects to url and registers as role, waiting for the server's
// acknowledgement.
func Dial(ctx context.Context, url, role string) (*RelayClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	c := &RelayClient{conn: conn, role: role}
	if err := c.register(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *RelayClient) register(ctx context.Context) error {
	if err := c.SendJSON(map[string]any{"type": "register", "role": c.role}); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	// relayed frames may arrive before the ack; Listen delivers them later
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for registration ack: %w", err)
		}

		var reply struct {
			Type    string `json:"type"`
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &reply); err != nil {
			c.pending = append(c.pending, data)
			continue
		}
		switch {
		case reply.Type == "server" && reply.Status == "registered":
			return nil
		case reply.Type == "error":
			return fmt.Errorf("%w: %s", ErrRegistrationRejected, reply.Message)
		default:
			c.pending = append(c.pending, data)
		}
	}
}

// Role returns the role this client registered as.
func (c *RelayClient) Role() string {
	return c.role
}

// SendJSON marshals v and sends it as one text frame.
func (c *RelayClient) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw sends data unchanged as one text frame.
func (c *RelayClient) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Listen delivers every inbound frame to handle until the connection closes
// or ctx is cancelled.
func (c *RelayClient) Listen(ctx context.Context, handle func([]byte)) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	for _, data := range c.pending {
		handle(data)
	}
	c.pending = nil
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		handle(data)
	}
}

// Close sends a normal close frame and closes the socket.
func (c *RelayClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// PrintMessage pretty prints a relayed frame.
func PrintMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		color.Red("! %s", string(data))
		return
	}

	msgType, _ := msg["type"].(string)
	switch msgType {
	case "error":
		color.Red("✖ %v", msg["message"])
	case "server":
		color.Green("✔ registered as %v", msg["role"])
	case "Registered frontend", "Connection closed (frontend)":
		color.Yellow("🔔 %s", msgType)
	case "battery":
		color.Cyan("🔋 %s", string(data))
	default:
		color.White("%s", string(data))
	}
}
