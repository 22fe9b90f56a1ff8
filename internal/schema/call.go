package schema

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies why a tool call or a turn produced no answer.
type ErrorKind string

const (
	KindTransportClosed     ErrorKind = "TransportClosed"
	KindTransportCorrupt    ErrorKind = "TransportCorrupt"
	KindTimeout             ErrorKind = "Timeout"
	KindServerCrashed       ErrorKind = "ServerCrashed"
	KindUnknownTool         ErrorKind = "UnknownTool"
	KindToolArgumentInvalid ErrorKind = "ToolArgumentInvalid"
	KindToolFailed          ErrorKind = "ToolFailed"
	KindCancelled           ErrorKind = "Cancelled"
	KindOracleUnavailable   ErrorKind = "OracleUnavailable"
	KindBudgetExceeded      ErrorKind = "BudgetExceeded"
	KindRegistryConflict    ErrorKind = "RegistryConflict"
	KindUnavailable         ErrorKind = "Unavailable"
)

// ToolCallRequest is one invocation of a tool by qualified name.
type ToolCallRequest struct {
	CorrelationID string    `json:"id"`
	Tool          string    `json:"tool"`
	Arguments     Arguments `json:"arguments"`
}

// CallError is the failure outcome of a tool call.
type CallError struct {
	Kind    ErrorKind `json:"kind"`
	Tool    string    `json:"tool,omitempty"`
	Server  string    `json:"server,omitempty"`
	Message string    `json:"message"`
}

func (e *CallError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Kind, e.Message)
}

// ToolCallResult is the single outcome of a ToolCallRequest: either a
// success payload or a CallError.
type ToolCallResult struct {
	CorrelationID string          `json:"id"`
	Tool          string          `json:"tool"`
	Server        string          `json:"server,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	// Content is the human-readable rendering of Payload, when the server
	// supplied one.
	Content string     `json:"content,omitempty"`
	Err     *CallError `json:"error,omitempty"`
}

// Success builds a successful result for req.
func Success(req ToolCallRequest, payload json.RawMessage, content string) ToolCallResult {
	return ToolCallResult{
		CorrelationID: req.CorrelationID,
		Tool:          req.Tool,
		Payload:       payload,
		Content:       content,
	}
}

// Failure builds a failed result for req.
func Failure(req ToolCallRequest, kind ErrorKind, format string, args ...any) ToolCallResult {
	return ToolCallResult{
		CorrelationID: req.CorrelationID,
		Tool:          req.Tool,
		Err: &CallError{
			Kind:    kind,
			Tool:    req.Tool,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

func (r ToolCallResult) OK() bool { return r.Err == nil }

// Kind returns the failure kind, or "" on success.
func (r ToolCallResult) Kind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}

// WithServer stamps the owning server onto the result and its error.
func (r ToolCallResult) WithServer(server string) ToolCallResult {
	r.Server = server
	if r.Err != nil {
		e := *r.Err
		e.Server = server
		r.Err = &e
	}
	return r
}

// Text renders the outcome the way it is shown to the oracle.
func (r ToolCallResult) Text() string {
	if r.Err != nil {
		return fmt.Sprintf("Error [%s]: %s", r.Err.Kind, r.Err.Message)
	}
	if r.Content != "" {
		return r.Content
	}
	if len(r.Payload) == 0 {
		return "(no output)"
	}
	return string(r.Payload)
}
