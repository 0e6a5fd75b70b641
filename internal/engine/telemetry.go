package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/guard"
)

// instrumentationName scopes the engine's tracer and meter.
const instrumentationName = "github.com/HendryAvila/ctxengine/internal/engine"

// Metric names.
const (
	MetricGuardFindings = "ctxengine.guard.findings"
	MetricRouteDuration = "ctxengine.route.duration"
	MetricFuseTokens    = "ctxengine.fuse.tokens"
)

// telemetry holds the metric instruments, created once per engine.
type telemetry struct {
	tracer        trace.Tracer
	guardFindings metric.Int64Counter
	routeDuration metric.Float64Histogram
	fuseTokens    metric.Int64Histogram
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) (*telemetry, error) {
	t := &telemetry{tracer: tracer}
	var err error

	t.guardFindings, err = meter.Int64Counter(MetricGuardFindings,
		metric.WithDescription("Sensitive data matches by filter"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create guard findings counter: %w", err)
	}

	t.routeDuration, err = meter.Float64Histogram(MetricRouteDuration,
		metric.WithDescription("Route latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create route duration histogram: %w", err)
	}

	t.fuseTokens, err = meter.Int64Histogram(MetricFuseTokens,
		metric.WithDescription("Estimated tokens of fused output"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fuse tokens histogram: %w", err)
	}
	return t, nil
}

// countFindings adds guard findings to the counter. origin is "guard" for
// direct calls and "fusion" for source guarding.
func (t *telemetry) countFindings(ctx context.Context, origin string, findings []guard.Finding) {
	for _, f := range findings {
		t.guardFindings.Add(ctx, int64(f.Count), metric.WithAttributes(
			attribute.String("filter", f.Filter),
			attribute.String("origin", origin),
		))
	}
}

func (t *telemetry) routeDone(ctx context.Context, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(ctxerr.KindOf(err))
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	t.routeDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// endSpan marks span failed with the error kind only; error messages can
// quote caller input.
func endSpan(span trace.Span, err error) {
	if err != nil {
		kind := ctxerr.KindOf(err)
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		span.SetStatus(codes.Error, string(kind))
	}
	span.End()
}

// tracedProvider wraps every Embed call in a span.
type tracedProvider struct {
	embedding.Provider
	tracer trace.Tracer
}

func traceProvider(p embedding.Provider, tracer trace.Tracer) embedding.Provider {
	if p == nil {
		return nil
	}
	return &tracedProvider{Provider: p, tracer: tracer}
}

func (p *tracedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := p.tracer.Start(ctx, "ctxengine.embed", trace.WithAttributes(
		attribute.String("embedding.model", p.Model()),
		attribute.Int("text.bytes", len(text)),
	))
	vec, err := p.Provider.Embed(ctx, text)
	if err == nil {
		span.SetAttributes(attribute.Int("embedding.dimensions", len(vec)))
	}
	endSpan(span, ctxerrOrProvider(err))
	return vec, err
}

func ctxerrOrProvider(err error) error {
	if err == nil {
		return nil
	}
	return ctxerr.Provider("embedding.Embed", err)
}
