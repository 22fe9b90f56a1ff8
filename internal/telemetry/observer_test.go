package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/toolrelay/toolrelay/internal/config"
	"github.com/toolrelay/toolrelay/internal/schema"
)

func newTestObserver(t *testing.T) (*Observer, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})
	obs, err := NewObserver(mp.Meter("test"), tp.Tracer("test"))
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	return obs, reader, rec
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// ─── Tool calls ─────────────────────────────────────────────────────────────

func TestObserver_ToolCalls(t *testing.T) {
	obs, reader, rec := newTestObserver(t)
	ctx := context.Background()

	req := schema.ToolCallRequest{CorrelationID: "call_1", Tool: "weather"}
	_, end := obs.StartToolCall(ctx, req)
	end(schema.Success(req, json.RawMessage(`{}`), "").WithServer("wx"))

	_, end = obs.StartToolCall(ctx, req)
	end(schema.Failure(req, schema.KindTimeout, "slow"))

	m, ok := findMetric(collect(t, reader), metricToolCalls)
	if !ok {
		t.Fatalf("metric %s not recorded", metricToolCalls)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("total calls = %d, want 2", total)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "toolrelay.tool.call" {
		t.Errorf("span name = %q", spans[0].Name())
	}
}

func TestObserver_Stats(t *testing.T) {
	obs, reader, _ := newTestObserver(t)
	ctx := context.Background()

	for _, tool := range []string{"weather", "weather", "calendar_create"} {
		req := schema.ToolCallRequest{Tool: tool}
		_, end := obs.StartToolCall(ctx, req)
		if tool == "calendar_create" {
			end(schema.Failure(req, schema.KindToolFailed, "boom"))
		} else {
			end(schema.Success(req, nil, "ok"))
		}
	}
	_, endDecision := obs.StartDecision(ctx, 1)
	endDecision(schema.FinalAnswer("done"), nil)
	_, endTurn := obs.StartTurn(ctx, "s1")
	endTurn(nil)

	stats := summarize(collect(t, reader))
	if stats.Turns != 1 || stats.Decisions != 1 {
		t.Errorf("turns=%d decisions=%d, want 1/1", stats.Turns, stats.Decisions)
	}
	if len(stats.Tools) != 2 {
		t.Fatalf("tools = %+v", stats.Tools)
	}
	cal, wx := stats.Tools[0], stats.Tools[1]
	if cal.Tool != "calendar_create" || cal.Calls != 1 || cal.Failures != 1 {
		t.Errorf("calendar stats = %+v", cal)
	}
	if wx.Tool != "weather" || wx.Calls != 2 || wx.Failures != 0 {
		t.Errorf("weather stats = %+v", wx)
	}
}

// ─── Decisions and turns ────────────────────────────────────────────────────

func TestObserver_DecisionError(t *testing.T) {
	obs, reader, rec := newTestObserver(t)

	_, end := obs.StartDecision(context.Background(), 2)
	end(schema.Decision{}, errors.New("503"))

	if _, ok := findMetric(collect(t, reader), metricDecisionLatency); !ok {
		t.Errorf("metric %s not recorded", metricDecisionLatency)
	}
	spans := rec.Ended()
	if len(spans) != 1 || len(spans[0].Events()) == 0 {
		t.Errorf("expected one span with a recorded error")
	}
}

func TestObserver_TurnOutcome(t *testing.T) {
	obs, reader, _ := newTestObserver(t)

	_, end := obs.StartTurn(context.Background(), "s1")
	end(schema.NewTurnError(schema.KindBudgetExceeded, nil, "stopped"))

	m, ok := findMetric(collect(t, reader), metricTurns)
	if !ok {
		t.Fatalf("metric %s not recorded", metricTurns)
	}
	dp := m.Data.(metricdata.Sum[int64]).DataPoints[0]
	if v, _ := dp.Attributes.Value("outcome"); v.AsString() != "BudgetExceeded" {
		t.Errorf("outcome = %q", v.AsString())
	}
}

func TestObserver_NilIsNoop(t *testing.T) {
	var obs *Observer
	ctx := context.Background()
	_, endTurn := obs.StartTurn(ctx, "s")
	endTurn(nil)
	_, endDecision := obs.StartDecision(ctx, 1)
	endDecision(schema.Decision{}, nil)
	_, endCall := obs.StartToolCall(ctx, schema.ToolCallRequest{})
	endCall(schema.ToolCallResult{})
}

// ─── Setup ──────────────────────────────────────────────────────────────────

func TestSetup_WithoutExporter(t *testing.T) {
	p, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.tp != nil {
		t.Error("tracer provider created without an endpoint")
	}
	_, end := p.Observer.StartToolCall(context.Background(), schema.ToolCallRequest{Tool: "echo"})
	end(schema.ToolCallResult{Tool: "echo"})

	stats, err := p.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Tools) != 1 || stats.Tools[0].Calls != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
