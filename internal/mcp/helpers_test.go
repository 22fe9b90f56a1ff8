package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/toolrelay/toolrelay/internal/config/tool"
	"github.com/toolrelay/toolrelay/internal/protocol"
	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/toolserver"
	"github.com/toolrelay/toolrelay/internal/transport"
)

// ─── Helper process ─────────────────────────────────────────────────────────

// TestMCPHelperProcess is not a real test. It is re-executed as a tool
// server child process by the tests in this package.
func TestMCPHelperProcess(t *testing.T) {
	mode := os.Getenv("GO_WANT_MCP_HELPER")
	if mode == "" {
		return
	}
	srv, ok := helperServers()[mode]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown helper mode", mode)
		os.Exit(2)
	}
	if err := srv.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func helperServers() map[string]*toolserver.Server {
	return map[string]*toolserver.Server{
		"demo":     testServer(),
		"weather":  toolserver.New("weather", "1", weatherTool()),
		"calendar": toolserver.New("calendar", "1", calendarTool()),
	}
}

func helperConfig(id, mode string) tool.ServerConfig {
	return tool.ServerConfig{
		ID:        id,
		Transport: tool.TransportStdio,
		Command:   os.Args[0],
		Args:      []string{"-test.run=TestMCPHelperProcess", "--"},
		Env:       map[string]string{"GO_WANT_MCP_HELPER": mode},
	}
}

// ─── Test tools ─────────────────────────────────────────────────────────────

type cityInput struct {
	City string `json:"city"`
}

type eventInput struct {
	Title string `json:"title"`
	When  string `json:"when"`
}

func weatherTool() toolserver.Tool {
	return toolserver.NewTool("weather", "Current weather for a city", func(_ context.Context, in cityInput) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return map[string]any{"city": in.City, "sky": "clear"}, nil
	})
}

func calendarTool() toolserver.Tool {
	return toolserver.NewTool("calendar_create", "Create a calendar event", func(_ context.Context, in eventInput) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return map[string]any{"created": in.Title}, nil
	})
}

// testServer is the demo catalog plus tools that misbehave on purpose.
func testServer() *toolserver.Server {
	srv := toolserver.Demo("test")
	srv.Add(toolserver.Tool{
		Name:        "crash",
		Description: "Exit the server process",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, json.RawMessage) (protocol.CallToolResult, error) {
			os.Exit(7)
			return protocol.CallToolResult{}, nil
		},
	})
	srv.Add(toolserver.Tool{
		Name:        "hang",
		Description: "Block until cancelled",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, _ json.RawMessage) (protocol.CallToolResult, error) {
			<-ctx.Done()
			return protocol.CallToolResult{}, ctx.Err()
		},
	})
	return srv
}

// ─── In-process connections ─────────────────────────────────────────────────

// pipeLife is the Lifecycle of an in-process server.
type pipeLife struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newPipeLife() *pipeLife { return &pipeLife{done: make(chan struct{})} }

func (l *pipeLife) exit(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *pipeLife) Done() <-chan struct{} { return l.done }

func (l *pipeLife) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *pipeLife) Terminate(context.Context) error {
	l.exit(nil)
	return nil
}

// pipePair returns the client and server ends of an in-memory connection.
func pipePair() (client, server *transport.Stream) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	return transport.NewStream(s2cR, c2sW, 0), transport.NewStream(c2sR, s2cW, 0)
}

// serveInProcess runs srv on an in-memory pipe and returns the client end.
func serveInProcess(srv *toolserver.Server) (transport.Channel, *pipeLife) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	life := newPipeLife()
	go func() {
		err := srv.Serve(context.Background(), c2sR, s2cW)
		_ = s2cW.Close()
		life.exit(err)
	}()
	return transport.NewStream(s2cR, c2sW, 0), life
}

func connectInProcess(t *testing.T, srv *toolserver.Server, opts Options) *Proxy {
	t.Helper()
	ch, life := serveInProcess(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := Connect(ctx, "inproc", ch, life, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

// inProcessDial serves each server id from the given map.
func inProcessDial(servers map[string]*toolserver.Server) DialFunc {
	return func(ctx context.Context, cfg tool.ServerConfig, opts Options) (*Proxy, error) {
		srv, ok := servers[cfg.ID]
		if !ok {
			return nil, errors.New("no such test server")
		}
		ch, life := serveInProcess(srv)
		return Connect(ctx, cfg.ID, ch, life, opts)
	}
}

// ─── Scripted peer ──────────────────────────────────────────────────────────

// scripted plays the server side by hand so tests control response timing.
type scripted struct {
	t *testing.T
	s *transport.Stream
}

func (s *scripted) next() protocol.Message {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := s.s.Receive(ctx)
	if err != nil {
		s.t.Fatalf("scripted server receive: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.t.Fatalf("scripted server decode: %v", err)
	}
	return msg
}

func (s *scripted) reply(id json.RawMessage, result any) {
	s.t.Helper()
	frame, err := protocol.NewResult(id, result)
	if err != nil {
		s.t.Fatalf("encode result: %v", err)
	}
	if err := s.s.Send(context.Background(), frame); err != nil {
		s.t.Fatalf("scripted server send: %v", err)
	}
}

func (s *scripted) expect(method string) protocol.Message {
	s.t.Helper()
	msg := s.next()
	if msg.Method != method {
		s.t.Fatalf("scripted server got %q, want %q", msg.Method, method)
	}
	return msg
}

func (s *scripted) handshake(tools ...protocol.Tool) {
	s.t.Helper()
	init := s.expect(protocol.MethodInitialize)
	s.reply(init.ID, protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerInfo:      protocol.ServerInfo{Name: "scripted", Version: "1"},
	})
	s.expect(protocol.MethodInitialized)
	list := s.expect(protocol.MethodToolsList)
	s.reply(list.ID, protocol.ListToolsResult{Tools: tools})
}

// connectScripted connects a proxy to a hand-driven peer.
func connectScripted(t *testing.T, opts Options, tools ...protocol.Tool) (*Proxy, *scripted) {
	t.Helper()
	client, server := pipePair()
	peer := &scripted{t: t, s: server}

	type result struct {
		p   *Proxy
		err error
	}
	out := make(chan result, 1)
	go func() {
		p, err := Connect(context.Background(), "scripted", client, newPipeLife(), opts)
		out <- result{p, err}
	}()
	peer.handshake(tools...)

	r := <-out
	if r.err != nil {
		t.Fatalf("Connect: %v", r.err)
	}
	t.Cleanup(func() {
		_ = r.p.Close(context.Background())
		_ = server.Close()
	})
	return r.p, peer
}

func call(tool string, args ...any) schema.ToolCallRequest {
	return schema.ToolCallRequest{
		CorrelationID: "call_" + tool,
		Tool:          tool,
		Arguments:     schema.NewArguments(args...),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
