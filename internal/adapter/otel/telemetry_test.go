package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Strob0t/SearchForge/internal/config"
	"github.com/Strob0t/SearchForge/internal/domain/search"
)

func newTestTelemetry(t *testing.T) (*Telemetry, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	tel, err := NewTelemetry(tp, mp)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	return tel, rec, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTelemetry_SearchAndToolSpans(t *testing.T) {
	tel, rec, reader := newTestTelemetry(t)

	ctx := tel.SearchStarted(context.Background(), "s-1", "sess", false)
	toolCtx := tel.ToolStarted(ctx, "s-1", "web_search")
	tel.ToolFinished(toolCtx, "s-1", "web_search", 20*time.Millisecond, nil)
	toolCtx = tel.ToolStarted(ctx, "s-1", "rate_hit")
	tel.ToolFinished(toolCtx, "s-1", "rate_hit", time.Millisecond, errors.New("boom"))
	tel.SearchFinished(ctx, "s-1", search.StatusDone, time.Second)

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(spans))
	}
	root := spans[2]
	if root.Name() != "search" {
		t.Fatalf("last span = %q, want search", root.Name())
	}
	for _, sp := range spans[:2] {
		if sp.Name() != "toolcall" || sp.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Errorf("tool span %q not a child of the search span", sp.Name())
		}
	}

	if got := sumOf(t, reader, "searchforge.toolcalls"); got != 2 {
		t.Errorf("toolcalls = %d, want 2", got)
	}
	if got := sumOf(t, reader, "searchforge.toolcalls.errors"); got != 1 {
		t.Errorf("tool errors = %d, want 1", got)
	}
	if got := sumOf(t, reader, "searchforge.searches.completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}

func TestTelemetry_OutcomeCounters(t *testing.T) {
	tests := []struct {
		status search.Status
		metric string
	}{
		{search.StatusDone, "searchforge.searches.completed"},
		{search.StatusError, "searchforge.searches.failed"},
		{search.StatusCancelled, "searchforge.searches.cancelled"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			tel, _, reader := newTestTelemetry(t)
			ctx := tel.SearchStarted(context.Background(), "s", "sess", true)
			tel.SearchFinished(ctx, "s", tt.status, time.Second)
			if got := sumOf(t, reader, tt.metric); got != 1 {
				t.Errorf("%s = %d, want 1", tt.metric, got)
			}
			if got := sumOf(t, reader, "searchforge.searches.started"); got != 1 {
				t.Errorf("started = %d, want 1", got)
			}
		})
	}
}

func TestTelemetry_Streams(t *testing.T) {
	tel, _, reader := newTestTelemetry(t)
	ctx := context.Background()
	tel.StreamOpened(ctx)
	tel.StreamOpened(ctx)
	tel.StreamClosed(ctx)
	tel.EventLogFailed(ctx, "s")
	if got := sumOf(t, reader, "searchforge.streams.active"); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
	if got := sumOf(t, reader, "searchforge.eventlog.failures"); got != 1 {
		t.Errorf("eventlog failures = %d, want 1", got)
	}
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{ServiceName: "searchforge"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	h := HTTPMiddleware("searchforge")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestHTTPMiddleware_SpanNamedAfterRoute(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	r := chi.NewRouter()
	r.Use(HTTPMiddleware("searchforge"))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/v1/searches/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, path := range []string{"/health", "/api/v1/searches/abc"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span (health is filtered), got %d", len(spans))
	}
	if got, want := spans[0].Name(), "GET /api/v1/searches/{id}"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
}
