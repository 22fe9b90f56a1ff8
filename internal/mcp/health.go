package mcp

import (
	"context"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// HealthMonitor pings every running server on a fixed schedule. A server
// that misses a ping is marked Degraded and stays routable; the next
// successful ping marks it Ready again.
type HealthMonitor struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	cron     *robfigcron.Cron
}

// NewHealthMonitor probes every interval; each ping gets at most timeout.
// A positive interval is rounded up to whole seconds, the resolution of
// the schedule. Zero disables probing.
func NewHealthMonitor(m *Manager, interval, timeout time.Duration) *HealthMonitor {
	if interval > 0 {
		interval = max(interval.Round(time.Second), time.Second)
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &HealthMonitor{
		manager:  m,
		interval: interval,
		timeout:  timeout,
		cron:     robfigcron.New(),
	}
}

// Start runs probes until ctx is cancelled. It blocks.
func (h *HealthMonitor) Start(ctx context.Context) error {
	if h.interval <= 0 {
		slog.Info("health: disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	h.cron.Schedule(robfigcron.Every(h.interval), robfigcron.FuncJob(func() { h.Probe(ctx) }))
	h.cron.Start()
	slog.Info("health: started", "interval", h.interval)

	<-ctx.Done()

	<-h.cron.Stop().Done()
	slog.Info("health: stopped")
	return ctx.Err()
}

// Probe pings every running server once, concurrently, and waits for all
// of them.
func (h *HealthMonitor) Probe(ctx context.Context) {
	proxies := h.manager.Proxies()
	done := make(chan struct{}, len(proxies))
	for _, p := range proxies {
		go func() {
			defer func() { done <- struct{}{} }()
			h.probe(ctx, p)
		}()
	}
	for range proxies {
		<-done
	}
}

func (h *HealthMonitor) probe(ctx context.Context, p *Proxy) {
	pctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := p.Ping(pctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.MarkDegraded() {
			slog.Warn("tool server missed health check", "server", p.ID(), "err", err)
		}
		return
	}
	if p.MarkReady() {
		slog.Info("tool server recovered", "server", p.ID())
	}
}
