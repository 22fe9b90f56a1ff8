// Package telemetry records tool calls, oracle decisions and turns into
// OpenTelemetry metrics and spans.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/toolrelay/toolrelay/internal/schema"
)

const (
	metricToolCalls       = "toolrelay.tool.calls"
	metricToolLatency     = "toolrelay.tool.latency"
	metricDecisions       = "toolrelay.oracle.decisions"
	metricDecisionLatency = "toolrelay.oracle.latency"
	metricTurns           = "toolrelay.turns"
)

// Observer is safe for concurrent use. A nil *Observer records nothing.
type Observer struct {
	tracer trace.Tracer

	toolCalls       metric.Int64Counter
	toolLatency     metric.Float64Histogram
	decisions       metric.Int64Counter
	decisionLatency metric.Float64Histogram
	turns           metric.Int64Counter
}

// NewObserver creates an observer bound to the provided meter/tracer.
// A nil tracer disables spans.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	toolCalls, err := meter.Int64Counter(
		metricToolCalls,
		metric.WithDescription("Number of tool calls by outcome"),
	)
	if err != nil {
		return nil, err
	}
	toolLatency, err := meter.Float64Histogram(
		metricToolLatency,
		metric.WithDescription("Tool call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	decisions, err := meter.Int64Counter(
		metricDecisions,
		metric.WithDescription("Number of oracle decisions"),
	)
	if err != nil {
		return nil, err
	}
	decisionLatency, err := meter.Float64Histogram(
		metricDecisionLatency,
		metric.WithDescription("Oracle decision latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Counter(
		metricTurns,
		metric.WithDescription("Number of completed user turns by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:          tracer,
		toolCalls:       toolCalls,
		toolLatency:     toolLatency,
		decisions:       decisions,
		decisionLatency: decisionLatency,
		turns:           turns,
	}, nil
}

func (o *Observer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := schema.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// StartTurn opens the span of one user turn. end records its outcome.
func (o *Observer) StartTurn(ctx context.Context, sessionID string) (context.Context, func(err error)) {
	if o == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.start(ctx, "toolrelay.turn", attribute.String("session_id", sessionID))
	return ctx, func(err error) {
		o.turns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// StartDecision times one oracle query.
func (o *Observer) StartDecision(ctx context.Context, step int) (context.Context, func(d schema.Decision, err error)) {
	if o == nil {
		return ctx, func(schema.Decision, error) {}
	}
	began := time.Now()
	ctx, span := o.start(ctx, "toolrelay.oracle.decide", attribute.Int("step", step))
	return ctx, func(d schema.Decision, err error) {
		kind := "answer"
		if err != nil {
			kind = "error"
		} else if !d.IsFinal() {
			kind = "tool_calls"
		}
		attrs := metric.WithAttributes(attribute.String("decision", kind))
		o.decisions.Add(context.Background(), 1, attrs)
		o.decisionLatency.Record(context.Background(), time.Since(began).Seconds(), attrs)

		span.SetAttributes(attribute.String("decision", kind), attribute.Int("calls", len(d.Calls)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "oracle failed")
		}
		span.End()
	}
}

// StartToolCall times one routed tool call.
func (o *Observer) StartToolCall(ctx context.Context, req schema.ToolCallRequest) (context.Context, func(res schema.ToolCallResult)) {
	if o == nil {
		return ctx, func(schema.ToolCallResult) {}
	}
	began := time.Now()
	ctx, span := o.start(ctx, "toolrelay.tool.call",
		attribute.String("tool_name", req.Tool),
		attribute.String("call_id", req.CorrelationID),
	)
	return ctx, func(res schema.ToolCallResult) {
		attrs := []attribute.KeyValue{
			attribute.String("tool_name", req.Tool),
			attribute.Bool("success", res.OK()),
		}
		if res.Server != "" {
			attrs = append(attrs, attribute.String("server", res.Server))
		}
		if !res.OK() {
			attrs = append(attrs, attribute.String("error_kind", string(res.Kind())))
		}
		options := metric.WithAttributes(attrs...)
		o.toolCalls.Add(context.Background(), 1, options)
		o.toolLatency.Record(context.Background(), time.Since(began).Seconds(), options)

		span.SetAttributes(attrs...)
		if !res.OK() {
			span.SetStatus(codes.Error, string(res.Kind()))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
