package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/toolrelay/toolrelay/internal/config/tool"
	"github.com/toolrelay/toolrelay/internal/registry"
	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/transport"
)

// ConflictError lists the descriptors rejected because another server had
// already registered the same qualified name.
type ConflictError struct {
	Conflicts []registry.Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return "registry conflict: " + strings.Join(parts, "; ")
}

func (e *ConflictError) ErrorKind() schema.ErrorKind { return schema.KindRegistryConflict }

// DialFunc starts one server and completes its handshake.
type DialFunc func(ctx context.Context, cfg tool.ServerConfig, opts Options) (*Proxy, error)

// Dial opens the transport described by cfg and connects a Proxy over it.
func Dial(ctx context.Context, cfg tool.ServerConfig, opts Options) (*Proxy, error) {
	ch, life, err := transport.Open(ctx, transport.Spec{
		Kind:    transport.Kind(cfg.TransportKind()),
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Dir:     cfg.Dir,
		URL:     cfg.URL,
		Headers: cfg.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: server %s: %w", cfg.ID, err)
	}
	return Connect(ctx, cfg.ID, ch, life, opts)
}

// ServerStatus is a point-in-time view of one configured server.
type ServerStatus struct {
	ID        string
	Transport string
	State     string
	Tools     int
	Err       error
}

// Manager owns the lifecycle of every configured tool server and keeps
// the registry in step with them.
type Manager struct {
	servers  []tool.ServerConfig
	opts     Options
	registry *registry.Registry
	dial     DialFunc

	mu      sync.Mutex
	proxies map[string]*Proxy
	errs    map[string]error
}

// NewManager returns a Manager for servers. opts.Namespace is ignored;
// each server's own namespace is used.
func NewManager(servers []tool.ServerConfig, reg *registry.Registry, opts Options) *Manager {
	return &Manager{
		servers:  servers,
		opts:     opts,
		registry: reg,
		dial:     Dial,
		proxies:  make(map[string]*Proxy),
		errs:     make(map[string]error),
	}
}

func (m *Manager) serverOpts(cfg tool.ServerConfig) Options {
	o := m.opts
	o.Namespace = cfg.Namespace
	return o
}

// Start connects every server concurrently, then registers their catalogs
// in config order so that name conflicts resolve the same way every time.
// A server that fails to start is logged and skipped. The returned error
// is a *ConflictError when any descriptor was rejected.
func (m *Manager) Start(ctx context.Context) error {
	proxies := make([]*Proxy, len(m.servers))
	errs := make([]error, len(m.servers))

	var g errgroup.Group
	for i, cfg := range m.servers {
		g.Go(func() error {
			proxies[i], errs[i] = m.dial(ctx, cfg, m.serverOpts(cfg))
			return nil
		})
	}
	_ = g.Wait()

	var conflicts []registry.Conflict
	for i, cfg := range m.servers {
		if errs[i] != nil {
			slog.Error("tool server connect failed", "server", cfg.ID, "err", errs[i])
			m.mu.Lock()
			m.errs[cfg.ID] = errs[i]
			m.mu.Unlock()
			continue
		}
		conflicts = append(conflicts, m.adopt(proxies[i])...)
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

func (m *Manager) adopt(p *Proxy) []registry.Conflict {
	m.mu.Lock()
	m.proxies[p.ID()] = p
	delete(m.errs, p.ID())
	m.mu.Unlock()

	conflicts := m.registry.Register(p, p.Tools())
	slog.Info("tool server connected", "server", p.ID(), "tools", len(p.Tools()), "rejected", len(conflicts))
	go m.watch(p)
	return conflicts
}

// watch retires p from the registry once it terminates.
func (m *Manager) watch(p *Proxy) {
	<-p.Done()
	m.registry.Deregister(p)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proxies[p.ID()] == p {
		delete(m.proxies, p.ID())
		m.errs[p.ID()] = p.Err()
	}
}

func (m *Manager) config(id string) (tool.ServerConfig, bool) {
	for _, s := range m.servers {
		if s.ID == id {
			return s, true
		}
	}
	return tool.ServerConfig{}, false
}

// Restart stops server id if it is running and starts it again. Its old
// descriptors are removed before the new catalog is registered.
func (m *Manager) Restart(ctx context.Context, id string) error {
	cfg, ok := m.config(id)
	if !ok {
		return fmt.Errorf("mcp: unknown server %q", id)
	}

	m.mu.Lock()
	old := m.proxies[id]
	delete(m.proxies, id)
	m.mu.Unlock()

	if old != nil {
		m.registry.Deregister(old)
		if err := old.Close(ctx); err != nil {
			slog.Debug("tool server close", "server", id, "err", err)
		}
	}

	p, err := m.dial(ctx, cfg, m.serverOpts(cfg))
	if err != nil {
		m.mu.Lock()
		m.errs[id] = err
		m.mu.Unlock()
		return err
	}
	if conflicts := m.adopt(p); len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// Proxy returns the running proxy for id.
func (m *Manager) Proxy(id string) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[id]
	return p, ok
}

// Proxies returns the running proxies in config order.
func (m *Manager) Proxies() []*Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Proxy, 0, len(m.proxies))
	for _, s := range m.servers {
		if p, ok := m.proxies[s.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Servers reports every configured server in config order.
func (m *Manager) Servers() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, s := range m.servers {
		st := ServerStatus{ID: s.ID, Transport: s.TransportKind(), State: "stopped"}
		if p, ok := m.proxies[s.ID]; ok {
			st.State = p.State().String()
			st.Tools = len(p.Tools())
		} else if err := m.errs[s.ID]; err != nil {
			st.State = "failed"
			st.Err = err
		}
		out = append(out, st)
	}
	return out
}

// Close stops every server, giving each until ctx is done to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	proxies := make([]*Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		proxies = append(proxies, p)
	}
	m.proxies = make(map[string]*Proxy)
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range proxies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.registry.Deregister(p)
			if err := p.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("server %s: %w", p.ID(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
