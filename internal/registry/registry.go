// Package registry aggregates the catalogs of all connected tool servers
// into one namespace and routes calls by qualified name.
//
// Reads go through an immutable snapshot swapped atomically; registration
// and deregistration are serialized and copy the snapshot.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolrelay/toolrelay/internal/schema"
)

// ErrUnavailable means no tool server is registered at all.
var ErrUnavailable = errors.New("registry: no tool servers registered")

// Owner is the routing view of a tool server connection.
type Owner interface {
	ID() string
	State() schema.ServerState
	Invoke(ctx context.Context, req schema.ToolCallRequest, timeout time.Duration) schema.ToolCallResult
}

// Conflict records a descriptor rejected because its name was taken.
type Conflict struct {
	Tool     string
	Server   string // server whose descriptor was rejected
	Existing string // server that keeps the name
}

func (c Conflict) String() string {
	return fmt.Sprintf("tool %q from %s: already registered by %s", c.Tool, c.Server, c.Existing)
}

type entry struct {
	desc  schema.ToolDescriptor
	owner Owner
}

type snapshot struct {
	version uint64
	entries map[string]entry
	order   []string
	owners  map[string]Owner
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		version: s.version + 1,
		entries: make(map[string]entry, len(s.entries)),
		order:   make([]string, len(s.order)),
		owners:  make(map[string]Owner, len(s.owners)),
	}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	copy(next.order, s.order)
	for k, v := range s.owners {
		next.owners[k] = v
	}
	return next
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex // serializes writers
	snap        atomic.Pointer[snapshot]
	callTimeout time.Duration
}

// New returns an empty registry. callTimeout bounds every routed call.
func New(callTimeout time.Duration) *Registry {
	r := &Registry{callTimeout: callTimeout}
	r.snap.Store(&snapshot{
		entries: map[string]entry{},
		owners:  map[string]Owner{},
	})
	return r
}

// Register publishes owner's descriptors. A descriptor whose name is
// already registered is rejected and returned as a Conflict; the earlier
// registration keeps the name.
func (r *Registry) Register(owner Owner, descs []schema.ToolDescriptor) []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.Load().clone()
	var conflicts []Conflict
	for _, d := range descs {
		if existing, taken := next.entries[d.Name]; taken {
			c := Conflict{Tool: d.Name, Server: owner.ID(), Existing: existing.owner.ID()}
			slog.Error("tool name conflict", "tool", d.Name, "server", owner.ID(), "registered_by", existing.owner.ID())
			conflicts = append(conflicts, c)
			continue
		}
		next.entries[d.Name] = entry{desc: d, owner: owner}
		next.order = append(next.order, d.Name)
	}
	next.owners[owner.ID()] = owner
	r.snap.Store(next)
	return conflicts
}

// Deregister removes every descriptor owned by owner in one step. Entries
// registered by a different owner with the same server id are kept.
func (r *Registry) Deregister(owner Owner) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := cur.clone()
	removed := 0
	next.order = next.order[:0]
	for _, name := range cur.order {
		if cur.entries[name].owner == owner {
			delete(next.entries, name)
			removed++
			continue
		}
		next.order = append(next.order, name)
	}
	if next.owners[owner.ID()] == owner {
		delete(next.owners, owner.ID())
	}
	r.snap.Store(next)
	if removed > 0 {
		slog.Info("tools deregistered", "server", owner.ID(), "tools", removed)
	}
	return removed
}

// Lookup finds a descriptor by qualified name.
func (r *Registry) Lookup(name string) (schema.ToolDescriptor, bool) {
	e, ok := r.snap.Load().entries[name]
	return e.desc, ok
}

// Catalog returns every descriptor in registration order.
func (r *Registry) Catalog() []schema.ToolDescriptor {
	s := r.snap.Load()
	out := make([]schema.ToolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].desc)
	}
	return out
}

// Tools returns a point-in-time ToolList.
func (r *Registry) Tools() *ToolList {
	return NewToolList(r.Catalog()...)
}

// Servers returns the ids of the registered servers, sorted.
func (r *Registry) Servers() []string {
	s := r.snap.Load()
	ids := make([]string, 0, len(s.owners))
	for id := range s.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Available reports whether at least one server is registered.
func (r *Registry) Available() bool { return len(r.snap.Load().owners) > 0 }

// Version increases with every registration change.
func (r *Registry) Version() uint64 { return r.snap.Load().version }

// Invoke routes req to the owning server. Tool-level problems come back as
// failure results; the error is non-nil only when no server is registered.
func (r *Registry) Invoke(ctx context.Context, req schema.ToolCallRequest) (schema.ToolCallResult, error) {
	s := r.snap.Load()
	if len(s.owners) == 0 {
		return schema.Failure(req, schema.KindUnavailable, "no tool servers are connected"), ErrUnavailable
	}

	e, ok := s.entries[req.Tool]
	if !ok {
		return schema.Failure(req, schema.KindUnknownTool, "no tool named %q; available tools: %s", req.Tool, nameList(s.order)), nil
	}
	if err := e.desc.Validate(req.Arguments); err != nil {
		return schema.Failure(req, schema.KindToolArgumentInvalid, "%v", err).WithServer(e.desc.Server), nil
	}
	if e.owner.State() == schema.StateTerminated {
		return schema.Failure(req, schema.KindServerCrashed, "server %s is not running", e.desc.Server).WithServer(e.desc.Server), nil
	}

	res := e.owner.Invoke(ctx, req, r.callTimeout)
	res.CorrelationID = req.CorrelationID
	res.Tool = req.Tool
	return res, nil
}

const maxListedNames = 20

func nameList(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	if len(names) > maxListedNames {
		return strings.Join(names[:maxListedNames], ", ") + fmt.Sprintf(" and %d more", len(names)-maxListedNames)
	}
	return strings.Join(names, ", ")
}
