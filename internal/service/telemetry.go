package service

import (
	"context"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain/search"
)

// Telemetry receives search lifecycle callbacks (spans and metrics).
// It also observes tool calls through search.ToolObserver.
type Telemetry interface {
	search.ToolObserver

	// SearchStarted may return a derived context carrying a span.
	SearchStarted(ctx context.Context, searchID, sessionID string, followUp bool) context.Context
	SearchFinished(ctx context.Context, searchID string, status search.Status, d time.Duration)
	StreamOpened(ctx context.Context)
	StreamClosed(ctx context.Context)
	EventLogFailed(ctx context.Context, searchID string)
}

// NopTelemetry discards all callbacks.
type NopTelemetry struct{}

func (NopTelemetry) ToolStarted(ctx context.Context, _, _ string) context.Context { return ctx }
func (NopTelemetry) ToolFinished(context.Context, string, string, time.Duration, error) {}
func (NopTelemetry) SearchStarted(ctx context.Context, _, _ string, _ bool) context.Context {
	return ctx
}
func (NopTelemetry) SearchFinished(context.Context, string, search.Status, time.Duration) {}
func (NopTelemetry) StreamOpened(context.Context) {}
func (NopTelemetry) StreamClosed(context.Context) {}
func (NopTelemetry) EventLogFailed(context.Context, string) {}
