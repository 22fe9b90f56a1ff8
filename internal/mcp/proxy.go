// Package mcp connects toolrelay to tool servers. A Proxy owns one server
// connection; the Manager owns all of them and publishes their catalogs
// into the tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolrelay/toolrelay/internal/protocol"
	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/transport"
)

// crashSettle is how long a failed read waits for the process to report
// its exit before the failure is classified.
const crashSettle = 250 * time.Millisecond

var errProxyClosed = errors.New("proxy closed")

// Options configures a Proxy.
type Options struct {
	Namespace        string
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration
	ClientName       string
	ClientVersion    string

	// OnState is called after every lifecycle transition.
	OnState func(server string, state schema.ServerState)
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.ClientName == "" {
		o.ClientName = "toolrelay"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "0.1.0"
	}
	return o
}

type reply struct {
	msg protocol.Message
	err *schema.CallError
}

// Proxy is the client side of one tool server connection. Calls are
// multiplexed over the channel and matched to responses by id.
type Proxy struct {
	id   string
	opts Options
	ch   transport.Channel
	life transport.Lifecycle

	state   atomic.Int32
	closing atomic.Bool

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan reply
	failure *schema.CallError

	info   protocol.ServerInfo
	tools  []schema.ToolDescriptor
	byName map[string]schema.ToolDescriptor

	failOnce sync.Once
	done     chan struct{}
}

// Connect performs the capability handshake over ch and returns a Ready
// proxy. On failure the peer is terminated and no proxy is returned.
func Connect(ctx context.Context, id string, ch transport.Channel, life transport.Lifecycle, opts Options) (*Proxy, error) {
	p := &Proxy{
		id:      id,
		opts:    opts.withDefaults(),
		ch:      ch,
		life:    life,
		pending: make(map[int64]chan reply),
		done:    make(chan struct{}),
	}
	p.setState(schema.StateStarting)

	go p.readLoop()
	go p.watch()

	if err := p.handshake(ctx); err != nil {
		p.shutdown(ctx)
		return nil, fmt.Errorf("mcp: server %s: handshake: %w", id, err)
	}
	if !p.state.CompareAndSwap(int32(schema.StateStarting), int32(schema.StateReady)) {
		p.shutdown(ctx)
		return nil, fmt.Errorf("mcp: server %s: terminated during handshake: %w", id, p.Err())
	}
	p.notifyState(schema.StateReady)
	return p, nil
}

func (p *Proxy) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.HandshakeTimeout)
	defer cancel()

	var init protocol.InitializeResult
	err := p.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      protocol.ClientInfo{Name: p.opts.ClientName, Version: p.opts.ClientVersion},
	}, &init)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	p.info = init.ServerInfo

	frame, err := protocol.NewNotification(protocol.MethodInitialized, nil)
	if err != nil {
		return err
	}
	if err := p.ch.Send(ctx, frame); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}

	tools, err := p.listTools(ctx)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	descs, err := BuildDescriptors(p.id, p.opts.Namespace, tools)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	p.tools = descs
	p.byName = make(map[string]schema.ToolDescriptor, len(descs))
	for _, d := range descs {
		p.byName[d.Name] = d
	}
	return nil
}

const maxListPages = 100

func (p *Proxy) listTools(ctx context.Context) ([]protocol.Tool, error) {
	var all []protocol.Tool
	cursor := ""
	for range maxListPages {
		var page protocol.ListToolsResult
		if err := p.call(ctx, protocol.MethodToolsList, protocol.ListToolsParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
	return nil, fmt.Errorf("more than %d pages", maxListPages)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (p *Proxy) ID() string { return p.id }

func (p *Proxy) State() schema.ServerState { return schema.ServerState(p.state.Load()) }

// ServerInfo is what the server reported about itself during initialize.
func (p *Proxy) ServerInfo() protocol.ServerInfo { return p.info }

// Tools returns the catalog published during the handshake.
func (p *Proxy) Tools() []schema.ToolDescriptor {
	out := make([]schema.ToolDescriptor, len(p.tools))
	copy(out, p.tools)
	return out
}

// Done is closed once the proxy is Terminated.
func (p *Proxy) Done() <-chan struct{} { return p.done }

// Err reports why the proxy terminated, or nil while it is alive.
func (p *Proxy) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure == nil {
		return nil
	}
	return p.failure
}

// Pending returns the number of calls waiting for a response.
func (p *Proxy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Invoke calls one tool and always returns exactly one result. timeout <= 0
// uses the configured per-call timeout.
func (p *Proxy) Invoke(ctx context.Context, req schema.ToolCallRequest, timeout time.Duration) schema.ToolCallResult {
	desc, ok := p.byName[req.Tool]
	if !ok {
		return schema.Failure(req, schema.KindUnknownTool, "server %s has no tool %q", p.id, req.Tool).WithServer(p.id)
	}
	if timeout <= 0 {
		timeout = p.opts.CallTimeout
	}

	msg, cerr := p.roundTrip(ctx, protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      desc.LocalName,
		Arguments: req.Arguments,
	}, timeout)
	if cerr != nil {
		return schema.Failure(req, cerr.Kind, "%s", cerr.Message).WithServer(p.id)
	}
	if msg.Error != nil {
		return schema.Failure(req, schema.KindToolFailed, "%s", msg.Error.Message).WithServer(p.id)
	}

	var res protocol.CallToolResult
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		return schema.Failure(req, schema.KindToolFailed, "malformed tools/call result: %v", err).WithServer(p.id)
	}
	if res.IsError {
		return schema.Failure(req, schema.KindToolFailed, "%s", res.Text()).WithServer(p.id)
	}
	payload := msg.Result
	if len(res.StructuredContent) > 0 {
		payload = res.StructuredContent
	}
	return schema.Success(req, payload, res.Text()).WithServer(p.id)
}

// Ping checks that the server still answers.
func (p *Proxy) Ping(ctx context.Context) error {
	return p.call(ctx, protocol.MethodPing, struct{}{}, nil)
}

// call is a request/response exchange bounded only by ctx.
func (p *Proxy) call(ctx context.Context, method string, params, out any) error {
	msg, cerr := p.roundTrip(ctx, method, params, 0)
	if cerr != nil {
		return cerr
	}
	if msg.Error != nil {
		return msg.Error
	}
	if out != nil && len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (p *Proxy) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (protocol.Message, *schema.CallError) {
	id, wait, cerr := p.register()
	if cerr != nil {
		return protocol.Message{}, cerr
	}
	frame, err := protocol.NewRequest(id, method, params)
	if err != nil {
		p.retire(id)
		return protocol.Message{}, &schema.CallError{Kind: schema.KindToolArgumentInvalid, Server: p.id, Message: err.Error()}
	}
	if err := p.ch.Send(ctx, frame); err != nil {
		p.retire(id)
		return protocol.Message{}, p.sendFailure(err)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-wait:
		if r.err != nil {
			return protocol.Message{}, r.err
		}
		return r.msg, nil
	case <-expired:
		p.retire(id)
		p.cancelRemote(id, "timeout")
		return protocol.Message{}, &schema.CallError{
			Kind:    schema.KindTimeout,
			Server:  p.id,
			Message: fmt.Sprintf("%s: no response from %s within %s", method, p.id, timeout),
		}
	case <-ctx.Done():
		p.retire(id)
		p.cancelRemote(id, "cancelled")
		kind := schema.KindCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = schema.KindTimeout
		}
		return protocol.Message{}, &schema.CallError{Kind: kind, Server: p.id, Message: fmt.Sprintf("%s: %v", method, ctx.Err())}
	}
}

func (p *Proxy) register() (int64, chan reply, *schema.CallError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		failed := *p.failure
		return 0, nil, &failed
	}
	p.nextID++
	wait := make(chan reply, 1)
	p.pending[p.nextID] = wait
	return p.nextID, wait, nil
}

// retire forgets id. A response arriving later finds no waiter and is dropped.
func (p *Proxy) retire(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Proxy) deliver(msg protocol.Message) {
	id, ok := msg.NumericID()
	if !ok {
		slog.Debug("tool server response without usable id", "server", p.id, "id", string(msg.ID))
		return
	}
	p.mu.Lock()
	wait, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if !ok {
		slog.Debug("discarding response for retired id", "server", p.id, "id", id)
		return
	}
	wait <- reply{msg: msg}
}

func (p *Proxy) sendFailure(err error) *schema.CallError {
	if cerr := p.Err(); cerr != nil {
		var failed *schema.CallError
		if errors.As(cerr, &failed) {
			c := *failed
			return &c
		}
	}
	kind := schema.KindTransportClosed
	switch {
	case errors.Is(err, context.Canceled):
		kind = schema.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = schema.KindTimeout
	}
	return &schema.CallError{Kind: kind, Server: p.id, Message: err.Error()}
}

func (p *Proxy) cancelRemote(id int64, reason string) {
	go func() {
		frame, err := protocol.NewNotification(protocol.MethodCancelled, protocol.CancelledParams{
			RequestID: protocol.IntID(id),
			Reason:    reason,
		})
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.ch.Send(ctx, frame)
	}()
}

// ---------------------------------------------------------------------------
// Background loops
// ---------------------------------------------------------------------------

func (p *Proxy) readLoop() {
	for {
		frame, err := p.ch.Receive(context.Background())
		if err != nil {
			p.fail(p.classify(err), err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			p.fail(schema.KindTransportCorrupt, fmt.Errorf("%w: %v", transport.ErrCorrupt, err))
			return
		}

		switch {
		case msg.IsRequest():
			p.rejectRequest(msg)
		case msg.IsNotification():
			p.handleNotification(msg)
		default:
			p.deliver(msg)
		}
	}
}

// watch turns a process exit into a crash even when no read is pending.
func (p *Proxy) watch() {
	select {
	case <-p.life.Done():
		p.fail(schema.KindServerCrashed, p.life.Err())
	case <-p.done:
	}
}

func (p *Proxy) classify(err error) schema.ErrorKind {
	if p.closing.Load() {
		return schema.KindTransportClosed
	}
	if errors.Is(err, transport.ErrCorrupt) {
		return schema.KindTransportCorrupt
	}
	select {
	case <-p.life.Done():
		return schema.KindServerCrashed
	case <-time.After(crashSettle):
		return schema.KindTransportClosed
	}
}

func (p *Proxy) rejectRequest(msg protocol.Message) {
	slog.Debug("tool server request not supported", "server", p.id, "method", msg.Method)
	frame, err := protocol.NewError(msg.ID, protocol.CodeMethodNotFound, "method not found: "+msg.Method)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.ch.Send(ctx, frame)
	}()
}

func (p *Proxy) handleNotification(msg protocol.Message) {
	switch msg.Method {
	case protocol.MethodToolsChanged:
		slog.Info("tool server catalog changed; restart it to pick up the new tools", "server", p.id)
	case protocol.MethodLogMessage:
		slog.Debug("tool server log", "server", p.id, "params", string(msg.Params))
	default:
		slog.Debug("tool server notification", "server", p.id, "method", msg.Method)
	}
}

// fail moves the proxy to Terminated and resolves every pending call with
// kind. Only the first call has any effect.
func (p *Proxy) fail(kind schema.ErrorKind, cause error) {
	p.failOnce.Do(func() {
		msg := fmt.Sprintf("server %s: %s", p.id, kind)
		if cause != nil {
			msg = fmt.Sprintf("server %s: %v", p.id, cause)
		}
		if kind == schema.KindServerCrashed && cause == nil {
			msg = fmt.Sprintf("server %s exited", p.id)
		}
		failure := &schema.CallError{Kind: kind, Server: p.id, Message: msg}

		p.mu.Lock()
		p.failure = failure
		pending := p.pending
		p.pending = make(map[int64]chan reply)
		p.mu.Unlock()

		p.setState(schema.StateTerminated)
		for _, wait := range pending {
			wait <- reply{err: failure}
		}
		_ = p.ch.Close()
		close(p.done)

		if kind != schema.KindTransportClosed || !p.closing.Load() {
			slog.Warn("tool server terminated", "server", p.id, "kind", kind, "pending", len(pending), "err", cause)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = p.life.Terminate(ctx)
		}()
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// MarkDegraded moves a Ready proxy to Degraded. It reports whether the
// state changed.
func (p *Proxy) MarkDegraded() bool {
	if p.state.CompareAndSwap(int32(schema.StateReady), int32(schema.StateDegraded)) {
		p.notifyState(schema.StateDegraded)
		return true
	}
	return false
}

// MarkReady moves a Degraded proxy back to Ready.
func (p *Proxy) MarkReady() bool {
	if p.state.CompareAndSwap(int32(schema.StateDegraded), int32(schema.StateReady)) {
		p.notifyState(schema.StateReady)
		return true
	}
	return false
}

func (p *Proxy) setState(s schema.ServerState) {
	if schema.ServerState(p.state.Swap(int32(s))) != s {
		p.notifyState(s)
	}
}

func (p *Proxy) notifyState(s schema.ServerState) {
	if p.opts.OnState != nil {
		p.opts.OnState(p.id, s)
	}
}

// Close terminates the connection, giving the server until ctx is done to
// exit on its own.
func (p *Proxy) Close(ctx context.Context) error {
	p.closing.Store(true)
	p.fail(schema.KindTransportClosed, errProxyClosed)
	return p.life.Terminate(ctx)
}

func (p *Proxy) shutdown(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_ = p.Close(tctx)
}
