package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolrelay/toolrelay/internal/config"
)

const scope = "github.com/toolrelay/toolrelay"

// Provider owns the SDK pipelines behind an Observer. Metrics stay
// in-process and are read back by Stats; spans go to OTLP/HTTP when an
// endpoint is configured.
type Provider struct {
	Observer *Observer

	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
	tp     *sdktrace.TracerProvider
}

func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "toolrelay"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	p := &Provider{reader: reader, mp: mp}

	var tracer trace.Tracer
	if cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		p.tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
		tracer = p.tp.Tracer(scope)
	}

	obs, err := NewObserver(mp.Meter(scope), tracer)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: observer: %w", err)
	}
	p.Observer = obs
	return p, nil
}

// Shutdown flushes pending spans and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	errs = append(errs, p.mp.Shutdown(ctx))
	return errors.Join(errs...)
}

// ToolStats aggregates the calls made to one tool.
type ToolStats struct {
	Tool        string
	Calls       int64
	Failures    int64
	MeanLatency time.Duration
}

// Stats is a summary of everything recorded since startup.
type Stats struct {
	Turns     int64
	Decisions int64
	Tools     []ToolStats // sorted by tool name
}

// Stats collects the in-process metrics.
func (p *Provider) Stats(ctx context.Context) (Stats, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return Stats{}, fmt.Errorf("telemetry: collect: %w", err)
	}
	return summarize(&rm), nil
}

func summarize(rm *metricdata.ResourceMetrics) Stats {
	var out Stats
	tools := map[string]*ToolStats{}
	toolFor := func(set attribute.Set) *ToolStats {
		v, _ := set.Value("tool_name")
		name := v.AsString()
		ts, ok := tools[name]
		if !ok {
			ts = &ToolStats{Tool: name}
			tools[name] = ts
		}
		return ts
	}
	latencySum := map[string]float64{}
	latencyCount := map[string]uint64{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case metricTurns:
				out.Turns += sumInt(m.Data)
			case metricDecisions:
				out.Decisions += sumInt(m.Data)
			case metricToolCalls:
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					continue
				}
				for _, dp := range sum.DataPoints {
					ts := toolFor(dp.Attributes)
					ts.Calls += dp.Value
					if success, _ := dp.Attributes.Value("success"); !success.AsBool() {
						ts.Failures += dp.Value
					}
				}
			case metricToolLatency:
				hist, ok := m.Data.(metricdata.Histogram[float64])
				if !ok {
					continue
				}
				for _, dp := range hist.DataPoints {
					ts := toolFor(dp.Attributes)
					latencySum[ts.Tool] += dp.Sum
					latencyCount[ts.Tool] += dp.Count
				}
			}
		}
	}

	for name, ts := range tools {
		if n := latencyCount[name]; n > 0 {
			ts.MeanLatency = time.Duration(latencySum[name] / float64(n) * float64(time.Second))
		}
		out.Tools = append(out.Tools, *ts)
	}
	sort.Slice(out.Tools, func(i, j int) bool { return out.Tools[i].Tool < out.Tools[j].Tool })
	return out
}

func sumInt(data metricdata.Aggregation) int64 {
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var n int64
	for _, dp := range sum.DataPoints {
		n += dp.Value
	}
	return n
}
