// Package toolserver is a minimal server side of the tool protocol. It
// backs the built-in demo server and the test doubles used to exercise
// the proxy against real child processes.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/toolrelay/toolrelay/internal/protocol"
	"github.com/toolrelay/toolrelay/internal/transport"
)

// Handler runs one tool call. A returned error becomes an isError result.
type Handler func(ctx context.Context, args json.RawMessage) (protocol.CallToolResult, error)

// Tool is one entry of the server's catalog.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Server answers initialize, tools/list, tools/call and ping over NDJSON.
// Calls run concurrently, so responses may be written out of order.
type Server struct {
	info  protocol.ServerInfo
	tools []Tool
	index map[string]int

	writeMu sync.Mutex
	w       io.Writer

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func New(name, version string, tools ...Tool) *Server {
	s := &Server{
		info:     protocol.ServerInfo{Name: name, Version: version},
		index:    make(map[string]int),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, t := range tools {
		s.Add(t)
	}
	return s
}

// Add registers t, replacing a tool of the same name.
func (s *Server) Add(t Tool) {
	if i, ok := s.index[t.Name]; ok {
		s.tools[i] = t
		return
	}
	s.index[t.Name] = len(s.tools)
	s.tools = append(s.tools, t)
}

// Serve reads requests from r until EOF or ctx is done and writes
// responses to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.w = w

	// Calls still running when the input ends are cancelled, then awaited.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := transport.NewFrameReader(r, 0)
	for {
		frame, err := frames.Next()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var msg protocol.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			s.writeError(nil, protocol.CodeParseError, err.Error())
			continue
		}

		switch {
		case msg.IsNotification():
			s.handleNotification(msg)
		case msg.Method == protocol.MethodToolsCall:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleCall(ctx, msg)
			}()
		case msg.IsRequest():
			s.handleRequest(msg)
		}
	}
}

func (s *Server) handleRequest(msg protocol.Message) {
	switch msg.Method {
	case protocol.MethodInitialize:
		s.writeResult(msg.ID, protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      s.info,
		})
	case protocol.MethodToolsList:
		list := protocol.ListToolsResult{Tools: make([]protocol.Tool, 0, len(s.tools))}
		for _, t := range s.tools {
			list.Tools = append(list.Tools, protocol.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		s.writeResult(msg.ID, list)
	case protocol.MethodPing:
		s.writeResult(msg.ID, struct{}{})
	default:
		s.writeError(msg.ID, protocol.CodeMethodNotFound, "method not found: "+msg.Method)
	}
}

func (s *Server) handleNotification(msg protocol.Message) {
	if msg.Method != protocol.MethodCancelled {
		return
	}
	var p protocol.CancelledParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return
	}
	s.mu.Lock()
	cancel, ok := s.inflight[string(p.RequestID)]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Server) handleCall(ctx context.Context, msg protocol.Message) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeError(msg.ID, protocol.CodeInvalidParams, err.Error())
		return
	}
	i, ok := s.index[params.Name]
	if !ok {
		s.writeError(msg.ID, protocol.CodeInvalidParams, "unknown tool: "+params.Name)
		return
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage(`{}`)
	}

	ctx, cancel := context.WithCancel(ctx)
	key := string(msg.ID)
	s.mu.Lock()
	s.inflight[key] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		cancel()
	}()

	res, err := s.tools[i].Handler(ctx, params.Arguments)
	if err != nil {
		res = ErrorResult(err)
	}
	if ctx.Err() != nil {
		// The client has given up on this id.
		return
	}
	s.writeResult(msg.ID, res)
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	frame, err := protocol.NewResult(id, result)
	if err != nil {
		s.writeError(id, protocol.CodeInternalError, err.Error())
		return
	}
	s.write(frame)
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	frame, err := protocol.NewError(id, code, message)
	if err != nil {
		return
	}
	s.write(frame)
}

func (s *Server) write(frame []byte) {
	line, err := transport.EncodeFrame(frame)
	if err != nil {
		slog.Error("toolserver: encode frame", "err", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		slog.Debug("toolserver: write failed", "err", err)
	}
}

// TextResult wraps plain text.
func TextResult(text string) protocol.CallToolResult {
	return protocol.CallToolResult{Content: []protocol.ContentBlock{{Type: "text", Text: text}}}
}

// JSONResult returns v both as structured content and as its JSON text.
func JSONResult(v any) (protocol.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return protocol.CallToolResult{}, fmt.Errorf("encode result: %w", err)
	}
	res := TextResult(string(raw))
	res.StructuredContent = raw
	return res, nil
}

// ErrorResult reports err to the caller as a tool-level failure.
func ErrorResult(err error) protocol.CallToolResult {
	res := TextResult(err.Error())
	res.IsError = true
	return res
}
