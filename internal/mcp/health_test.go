package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/toolrelay/toolrelay/internal/config/tool"
	"github.com/toolrelay/toolrelay/internal/protocol"
	"github.com/toolrelay/toolrelay/internal/registry"
	"github.com/toolrelay/toolrelay/internal/schema"
)

func TestHealthMonitor_DegradesAndRecovers(t *testing.T) {
	var peer *scripted
	reg := registry.New(time.Second)
	m := NewManager([]tool.ServerConfig{{ID: "scripted"}}, reg, Options{})
	m.dial = func(ctx context.Context, cfg tool.ServerConfig, opts Options) (*Proxy, error) {
		var p *Proxy
		p, peer = connectScripted(t, opts, protocol.Tool{Name: "slow"})
		return p, nil
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p, _ := m.Proxy("scripted")
	h := NewHealthMonitor(m, time.Second, 100*time.Millisecond)

	// No answer to the ping.
	h.Probe(context.Background())
	peer.expect(protocol.MethodPing)
	if p.State() != schema.StateDegraded {
		t.Fatalf("state = %s, want degraded", p.State())
	}
	if _, ok := reg.Lookup("slow"); !ok {
		t.Error("degraded server should stay routable")
	}
	peer.expect(protocol.MethodCancelled)

	done := make(chan struct{})
	go func() {
		h.Probe(context.Background())
		close(done)
	}()
	ping := peer.expect(protocol.MethodPing)
	peer.reply(ping.ID, struct{}{})
	<-done
	if p.State() != schema.StateReady {
		t.Errorf("state = %s, want ready", p.State())
	}
}

func TestHealthMonitor_IntervalResolution(t *testing.T) {
	m := NewManager(nil, registry.New(time.Second), Options{})
	cases := map[time.Duration]time.Duration{
		0:                       0,
		300 * time.Millisecond:  time.Second,
		1400 * time.Millisecond: time.Second,
		30 * time.Second:        30 * time.Second,
	}
	for in, want := range cases {
		if got := NewHealthMonitor(m, in, 0).interval; got != want {
			t.Errorf("interval %v: got %v, want %v", in, got, want)
		}
	}
}

func TestHealthMonitor_DisabledBlocksUntilCancelled(t *testing.T) {
	h := NewHealthMonitor(NewManager(nil, registry.New(time.Second), Options{}), 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Start(ctx); err == nil {
		t.Error("Start should return the context error")
	}
}
