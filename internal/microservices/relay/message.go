package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
)

// Message protocol definitions

const (
	TypeRegister = "register" // client declares its role
	TypeBattery  = "battery"  // rover battery report, routed to fleet control
	TypeServer   = "server"   // server acknowledgement
	TypeError    = "error"    // protocol error reply
)

// Error frame texts sent back to the offending client.
const (
	ErrMsgInvalidJSON   = "Not valid JSON"
	ErrMsgNotRegistered = "Not registered"
	ErrMsgInvalidRole   = "Invalid role"
	ErrMsgRateLimited   = "Rate limit exceeded"
)

var ErrNotObject = errors.New("payload is not a JSON object")

// Message is the decoded view of an inbound frame. Only the fields the relay
// routes on are extracted; the raw frame is what gets forwarded.
type Message struct {
	Type string
	Role string
}

// ParseMessage decodes an inbound frame. The frame must be a JSON object;
// "type" and "role" are read when they are strings and ignored otherwise.
func ParseMessage(data []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil { // literal null
		return nil, ErrNotObject
	}

	msg := &Message{}
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &msg.Type)
	}
	if raw, ok := fields["role"]; ok {
		_ = json.Unmarshal(raw, &msg.Role)
	}
	return msg, nil
}

// ServerFrame is a frame generated by the relay itself.
type ServerFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}

// ToJSON: marshal frame to JSON
func (f ServerFrame) ToJSON() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("failed_to_marshal_server_frame", "error", err)
		return nil
	}
	return data
}

// RegisteredAck confirms a registration to the registering client.
func RegisteredAck(role Role) []byte {
	return ServerFrame{Type: TypeServer, Status: "registered", Role: role.String()}.ToJSON()
}

// ErrorFrame builds {"type":"error","message":...}.
func ErrorFrame(message string) []byte {
	return ServerFrame{Type: TypeError, Message: message}.ToJSON()
}

// notices pushed to rovers when a frontend comes and goes
var (
	frontendRegisteredNotice = ServerFrame{Type: "Registered frontend"}.ToJSON()
	frontendClosedNotice     = ServerFrame{Type: "Connection closed (frontend)"}.ToJSON()
)
