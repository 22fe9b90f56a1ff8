// Package protocol defines the JSON-RPC 2.0 messages exchanged with tool
// servers (MCP dialect). It is shared by the client proxy and the in-tree
// tool server.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/toolrelay/toolrelay/internal/schema"
)

const (
	JSONRPCVersion  = "2.0"
	ProtocolVersion = "2024-11-05"

	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodPing          = "ping"
	MethodCancelled     = "notifications/cancelled"
	MethodToolsChanged  = "notifications/tools/list_changed"
	MethodLogMessage    = "notifications/message"
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeRequestCanceled = -32800
)

// Message is a JSON-RPC 2.0 envelope. ID is kept raw because servers may
// use string ids for their own requests.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IntID formats n as a message id.
func IntID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// NumericID parses the id as an integer. Quoted integers are accepted.
func (m Message) NumericID() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	s := strings.Trim(string(m.ID), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// IsRequest reports whether the message expects a response.
func (m Message) IsRequest() bool { return m.Method != "" && len(m.ID) > 0 }

// IsNotification reports whether the message is fire-and-forget.
func (m Message) IsNotification() bool { return m.Method != "" && len(m.ID) == 0 }

// NewRequest encodes a request envelope.
func NewRequest(id int64, method string, params any) ([]byte, error) {
	return encode(IntID(id), method, params)
}

// NewNotification encodes a notification envelope.
func NewNotification(method string, params any) ([]byte, error) {
	return encode(nil, method, params)
}

func encode(id json.RawMessage, method string, params any) ([]byte, error) {
	msg := Message{JSONRPC: JSONRPCVersion, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s params: %w", method, err)
		}
		msg.Params = raw
	}
	return json.Marshal(msg)
}

// NewResult encodes a success response.
func NewResult(id json.RawMessage, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode result: %w", err)
	}
	return json.Marshal(Message{JSONRPC: JSONRPCVersion, ID: id, Result: raw})
}

// NewError encodes an error response.
func NewError(id json.RawMessage, code int, message string) ([]byte, error) {
	return json.Marshal(Message{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}})
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// Tool describes one tool from tools/list. InputSchema stays raw so its
// property order survives until the catalog is built.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type CallToolParams struct {
	Name      string           `json:"name"`
	Arguments schema.Arguments `json:"arguments"`
}

// ContentBlock is one item of a tools/call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type CallToolResult struct {
	Content           []ContentBlock  `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Text joins the text blocks, falling back to the structured content.
func (r CallToolResult) Text() string {
	var parts []string
	for _, block := range r.Content {
		switch {
		case block.Text != "":
			parts = append(parts, block.Text)
		case block.Type != "" && block.Type != "text":
			parts = append(parts, fmt.Sprintf("[%s %s]", block.Type, block.MimeType))
		}
	}
	if len(parts) == 0 && len(r.StructuredContent) > 0 {
		return string(r.StructuredContent)
	}
	return strings.Join(parts, "\n")
}

type CancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}
