package otel

import (
	"go.opentelemetry.io/otel/metric"
)

const meterName = "searchforge"

// Metrics holds all SearchForge metric instruments.
type Metrics struct {
	SearchesStarted   metric.Int64Counter
	SearchesCompleted metric.Int64Counter
	SearchesFailed    metric.Int64Counter
	SearchesCancelled metric.Int64Counter
	ToolCalls         metric.Int64Counter
	ToolErrors        metric.Int64Counter
	EventLogFailures  metric.Int64Counter
	SearchDuration    metric.Float64Histogram
	ToolDuration      metric.Float64Histogram
	StreamSubscribers metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.SearchesStarted, "searchforge.searches.started", "Number of searches started"},
		{&m.SearchesCompleted, "searchforge.searches.completed", "Number of searches completed"},
		{&m.SearchesFailed, "searchforge.searches.failed", "Number of searches failed"},
		{&m.SearchesCancelled, "searchforge.searches.cancelled", "Number of searches cancelled"},
		{&m.ToolCalls, "searchforge.toolcalls", "Number of tool calls"},
		{&m.ToolErrors, "searchforge.toolcalls.errors", "Number of failed tool calls"},
		{&m.EventLogFailures, "searchforge.eventlog.failures", "Number of events not persisted"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.SearchDuration, err = meter.Float64Histogram("searchforge.search.duration_seconds",
		metric.WithDescription("Search duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.ToolDuration, err = meter.Float64Histogram("searchforge.toolcall.duration_seconds",
		metric.WithDescription("Tool call duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.StreamSubscribers, err = meter.Int64UpDownCounter("searchforge.streams.active",
		metric.WithDescription("Number of open event streams"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
