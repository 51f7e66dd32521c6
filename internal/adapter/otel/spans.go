package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/SearchForge/internal/domain/search"
	"github.com/Strob0t/SearchForge/internal/service"
)

const tracerName = "searchforge"

// Telemetry records one span per search and per tool call, plus the
// search metrics.
type Telemetry struct {
	tracer  trace.Tracer
	metrics *Metrics
}

var _ service.Telemetry = (*Telemetry)(nil)

// NewTelemetry creates a Telemetry on the given providers.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	m, err := NewMetrics(mp)
	if err != nil {
		return nil, err
	}
	return &Telemetry{tracer: tp.Tracer(tracerName), metrics: m}, nil
}

// SearchStarted starts the search span and returns its context.
func (t *Telemetry) SearchStarted(ctx context.Context, searchID, sessionID string, followUp bool) context.Context {
	ctx, _ = t.tracer.Start(ctx, "search",
		trace.WithAttributes(
			attribute.String("search.id", searchID),
			attribute.String("session.id", sessionID),
			attribute.Bool("search.follow_up", followUp),
		),
	)
	t.metrics.SearchesStarted.Add(ctx, 1)
	return ctx
}

// SearchFinished ends the search span and records the outcome.
func (t *Telemetry) SearchFinished(ctx context.Context, searchID string, status search.Status, d time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("search.status", string(status)))
	attrs := metric.WithAttributes(attribute.String("status", string(status)))

	switch status {
	case search.StatusDone:
		t.metrics.SearchesCompleted.Add(ctx, 1)
	case search.StatusError:
		t.metrics.SearchesFailed.Add(ctx, 1)
		span.SetStatus(codes.Error, "search failed")
	case search.StatusCancelled:
		t.metrics.SearchesCancelled.Add(ctx, 1)
	}
	t.metrics.SearchDuration.Record(ctx, d.Seconds(), attrs)
	span.End()
}

// ToolStarted starts a tool call span as a child of ctx.
func (t *Telemetry) ToolStarted(ctx context.Context, searchID, tool string) context.Context {
	ctx, _ = t.tracer.Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("search.id", searchID),
			attribute.String("toolcall.tool", tool),
		),
	)
	return ctx
}

// ToolFinished ends the tool call span started by ToolStarted.
func (t *Telemetry) ToolFinished(ctx context.Context, _ string, tool string, d time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	t.metrics.ToolCalls.Add(ctx, 1, attrs)
	t.metrics.ToolDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		t.metrics.ToolErrors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StreamOpened counts an open event stream.
func (t *Telemetry) StreamOpened(ctx context.Context) {
	t.metrics.StreamSubscribers.Add(ctx, 1)
}

// StreamClosed uncounts an event stream.
func (t *Telemetry) StreamClosed(ctx context.Context) {
	t.metrics.StreamSubscribers.Add(ctx, -1)
}

// EventLogFailed counts an event the durable log did not accept.
func (t *Telemetry) EventLogFailed(ctx context.Context, _ string) {
	t.metrics.EventLogFailures.Add(ctx, 1)
}
