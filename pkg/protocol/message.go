// Package protocol defines the line-delimited JSON-RPC 2.0 dialect spoken
// between the hub and each child server process, including the mandatory
// ready/init readiness handshake.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Method and id constants for the handshake and built-in operations.
const (
	Version = "2.0"

	// MethodReady is the first message every server must emit on startup.
	MethodReady = "ready"
	// HandshakeID is the id carried by the ready message.
	HandshakeID = "init"

	// MethodDiscoverTools asks a server for its advertised tool schemas.
	MethodDiscoverTools = "discover_tools"
	// MethodNotification is emitted by servers for out-of-band messages.
	MethodNotification = "notification"
)

// Message is the JSON-RPC 2.0 envelope. Requests and their matching
// responses carry an id; notifications do not. A response carries exactly
// one of Result/Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object in a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// NewRequest creates a request with the given id, method, and params.
// Params are marshalled immediately so encoding failures surface at the
// call site rather than inside a write loop.
func NewRequest(id, method string, params any) (Message, error) {
	msg := Message{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshal params: %w", err)
		}
		msg.Params = data
	}
	return msg, nil
}

// NewNotification creates a notification (no id, no response expected).
func NewNotification(method string, params any) (Message, error) {
	msg, err := NewRequest("", method, params)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// IsResponse reports whether the message is a response to an earlier
// request: it carries an id but no method.
func (m Message) IsResponse() bool {
	return m.ID != "" && m.Method == ""
}

// IsNotification reports whether the message is a notification (method
// present, id absent).
func (m Message) IsNotification() bool {
	return m.ID == "" && m.Method != ""
}

// IsReady reports whether the message is the readiness handshake line:
// method "ready" with id "init".
func (m Message) IsReady() bool {
	return m.Method == MethodReady && m.ID == HandshakeID
}

// ValidateResponse checks the result-xor-error invariant on a response.
func (m Message) ValidateResponse() error {
	if m.Result != nil && m.Error != nil {
		return fmt.Errorf("response %q carries both result and error", m.ID)
	}
	if m.Result == nil && m.Error == nil {
		return fmt.Errorf("response %q carries neither result nor error", m.ID)
	}
	return nil
}

// ReadyParams is the params payload of the ready handshake message.
type ReadyParams struct {
	Server string `json:"server"`
}

// ServerName extracts the self-reported server name from a ready message.
// Returns an empty string if the params are absent or malformed.
func (m Message) ServerName() string {
	if len(m.Params) == 0 {
		return ""
	}
	var p ReadyParams
	if err := json.Unmarshal(m.Params, &p); err != nil {
		return ""
	}
	return p.Server
}
