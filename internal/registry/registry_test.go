package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolrelay/toolrelay/internal/schema"
)

type fakeOwner struct {
	id    string
	state atomic.Int32
	calls atomic.Int32
}

func newFakeOwner(id string) *fakeOwner {
	o := &fakeOwner{id: id}
	o.state.Store(int32(schema.StateReady))
	return o
}

func (o *fakeOwner) ID() string                { return o.id }
func (o *fakeOwner) State() schema.ServerState { return schema.ServerState(o.state.Load()) }

func (o *fakeOwner) Invoke(_ context.Context, req schema.ToolCallRequest, _ time.Duration) schema.ToolCallResult {
	o.calls.Add(1)
	payload, _ := json.Marshal(map[string]string{"server": o.id})
	return schema.Success(req, payload, o.id).WithServer(o.id)
}

func desc(server, name string, params ...schema.Param) schema.ToolDescriptor {
	return schema.ToolDescriptor{
		Name:        name,
		LocalName:   name,
		Server:      server,
		Params:      params,
		InputSchema: json.RawMessage(`{"type":"object","properties":{"z":{"type":"string"},"a":{"type":"string"}}}`),
	}
}

// ─── Register ───────────────────────────────────────────────────────────────

func TestRegister_ConflictKeepsFirst(t *testing.T) {
	r := New(time.Second)
	first, second := newFakeOwner("weather-a"), newFakeOwner("weather-b")

	if c := r.Register(first, []schema.ToolDescriptor{desc("weather-a", "weather")}); len(c) != 0 {
		t.Fatalf("unexpected conflicts: %v", c)
	}
	conflicts := r.Register(second, []schema.ToolDescriptor{desc("weather-b", "weather"), desc("weather-b", "forecast")})
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %v", conflicts)
	}
	if c := conflicts[0]; c.Tool != "weather" || c.Server != "weather-b" || c.Existing != "weather-a" {
		t.Errorf("conflict = %+v", c)
	}

	d, ok := r.Lookup("weather")
	if !ok || d.Server != "weather-a" {
		t.Errorf("weather owned by %q, want weather-a", d.Server)
	}
	if _, ok := r.Lookup("forecast"); !ok {
		t.Error("non-conflicting tool from the second server should register")
	}

	res, err := r.Invoke(context.Background(), schema.ToolCallRequest{CorrelationID: "c1", Tool: "weather"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Server != "weather-a" || second.calls.Load() != 0 {
		t.Errorf("call routed to %q (second calls=%d)", res.Server, second.calls.Load())
	}
}

func TestCatalog_RegistrationOrder(t *testing.T) {
	r := New(time.Second)
	r.Register(newFakeOwner("s1"), []schema.ToolDescriptor{desc("s1", "c"), desc("s1", "a")})
	r.Register(newFakeOwner("s2"), []schema.ToolDescriptor{desc("s2", "b")})

	var names []string
	for _, d := range r.Catalog() {
		names = append(names, d.Name)
	}
	if got := strings.Join(names, ","); got != "c,a,b" {
		t.Errorf("catalog order = %s", got)
	}
	if r.Version() != 2 {
		t.Errorf("version = %d, want 2", r.Version())
	}
}

// ─── Deregister ─────────────────────────────────────────────────────────────

func TestDeregister_OnlyMatchingOwner(t *testing.T) {
	r := New(time.Second)
	old := newFakeOwner("db")
	r.Register(old, []schema.ToolDescriptor{desc("db", "query")})
	if n := r.Deregister(old); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}

	fresh := newFakeOwner("db")
	r.Register(fresh, []schema.ToolDescriptor{desc("db", "query")})
	if n := r.Deregister(old); n != 0 {
		t.Errorf("stale owner removed %d entries", n)
	}
	if _, ok := r.Lookup("query"); !ok {
		t.Error("fresh registration was removed by a stale owner")
	}
	if !r.Available() {
		t.Error("fresh owner should still be registered")
	}
}

func TestDeregister_AtomicWithLookups(t *testing.T) {
	r := New(time.Second)
	r.Register(newFakeOwner("base"), []schema.ToolDescriptor{desc("base", "keep")})
	churn := newFakeOwner("churn")
	tools := []schema.ToolDescriptor{desc("churn", "t1"), desc("churn", "t2"), desc("churn", "t3")}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var torn atomic.Int32
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n := 0
				for _, d := range r.Catalog() {
					if d.Server == "churn" {
						n++
					}
				}
				if n != 0 && n != len(tools) {
					torn.Add(1)
				}
			}
		}()
	}

	for range 500 {
		r.Register(churn, tools)
		r.Deregister(churn)
	}
	close(stop)
	wg.Wait()

	if torn.Load() != 0 {
		t.Errorf("observed %d partially registered catalogs", torn.Load())
	}
}

// ─── Invoke ─────────────────────────────────────────────────────────────────

func TestInvoke_Failures(t *testing.T) {
	r := New(time.Second)
	req := schema.ToolCallRequest{CorrelationID: "c1", Tool: "weather", Arguments: schema.NewArguments("city", "Paris")}

	res, err := r.Invoke(context.Background(), req)
	if !errors.Is(err, ErrUnavailable) || res.Kind() != schema.KindUnavailable {
		t.Fatalf("empty registry: res=%v err=%v", res.Kind(), err)
	}

	owner := newFakeOwner("wx")
	r.Register(owner, []schema.ToolDescriptor{desc("wx", "weather", schema.Param{Name: "city", Type: schema.TypeString, Required: true})})

	res, _ = r.Invoke(context.Background(), schema.ToolCallRequest{CorrelationID: "c2", Tool: "wether"})
	if res.Kind() != schema.KindUnknownTool || !strings.Contains(res.Err.Message, "weather") {
		t.Errorf("unknown tool: %+v", res.Err)
	}

	res, _ = r.Invoke(context.Background(), schema.ToolCallRequest{CorrelationID: "c3", Tool: "weather", Arguments: schema.NewArguments("city", 12)})
	if res.Kind() != schema.KindToolArgumentInvalid {
		t.Errorf("invalid args: got %v", res.Kind())
	}
	if owner.calls.Load() != 0 {
		t.Error("invalid arguments must not reach the server")
	}

	owner.state.Store(int32(schema.StateTerminated))
	res, _ = r.Invoke(context.Background(), req)
	if res.Kind() != schema.KindServerCrashed {
		t.Errorf("terminated owner: got %v", res.Kind())
	}

	owner.state.Store(int32(schema.StateDegraded))
	res, _ = r.Invoke(context.Background(), req)
	if !res.OK() || res.CorrelationID != "c1" {
		t.Errorf("degraded owner should still route: %+v", res)
	}
}

// ─── ToolList ───────────────────────────────────────────────────────────────

func TestDefinitions_KeepSchemaOrder(t *testing.T) {
	list := NewToolList(desc("s", "lookup"), schema.ToolDescriptor{Name: "bare"})
	b, err := json.Marshal(list.Definitions())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, `"parameters":{"type":"object","properties":{"z":{"type":"string"},"a":{"type":"string"}}}`) {
		t.Errorf("schema order lost: %s", got)
	}
	if !strings.Contains(got, `"name":"bare"`) || !strings.Contains(got, `"properties":{}`) {
		t.Errorf("missing default schema: %s", got)
	}
	if _, ok := list.Get("lookup"); !ok || list.Len() != 2 {
		t.Error("Get/Len mismatch")
	}
}
