package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/search"
	"github.com/Strob0t/SearchForge/internal/port/broadcast"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
	"github.com/Strob0t/SearchForge/internal/resilience"
)

// appendTimeout bounds a single durable append.
const appendTimeout = 5 * time.Second

// Sink mirrors every event of one search's bus to the durable event store
// and the live broadcaster. Persistence failures are logged and counted,
// never surfaced to the emitter.
type Sink struct {
	searchID  string
	bus       *event.Bus
	store     eventstore.Store
	breaker   *resilience.Breaker
	hub       broadcast.Broadcaster
	telemetry Telemetry

	failures atomic.Int64
}

// NewSink creates a sink for searchID and installs it as an observer on bus.
// store, breaker and hub may be nil.
func NewSink(searchID string, bus *event.Bus, store eventstore.Store, breaker *resilience.Breaker, hub broadcast.Broadcaster, tel Telemetry) *Sink {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if tel == nil {
		tel = NopTelemetry{}
	}
	s := &Sink{
		searchID:  searchID,
		bus:       bus,
		store:     store,
		breaker:   breaker,
		hub:       hub,
		telemetry: tel,
	}
	bus.AddObserver(s.observe)
	return s
}

// Failures returns the number of events that could not be persisted.
func (s *Sink) Failures() int64 {
	return s.failures.Load()
}

func (s *Sink) observe(ev event.Event) {
	ctx := context.Background()
	if s.store != nil {
		if err := s.persist(ctx, ev); err != nil {
			s.failures.Add(1)
			s.telemetry.EventLogFailed(ctx, s.searchID)
			slog.Warn("failed to persist search event",
				"search_id", s.searchID, "seq", ev.Seq, "type", ev.Type, "error", err)
		}
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventTypeSearch, broadcast.SearchEvent{
		SearchID: s.searchID,
		Seq:      ev.Seq,
		Event:    ev,
	})
}

func (s *Sink) persist(ctx context.Context, ev event.Event) error {
	rec := eventstore.FromEvent(s.searchID, ev)
	appendFn := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, appendTimeout)
		defer cancel()
		return s.store.Append(ctx, rec)
	}
	if s.breaker == nil {
		return appendFn(ctx)
	}
	return s.breaker.ExecuteContext(ctx, appendFn)
}

// MarkDone emits the terminal done event carrying the result.
func (s *Sink) MarkDone(res *search.Result) event.Event {
	if res == nil {
		res = &search.Result{}
	}
	return s.bus.Emit(event.TypeDone, res.Payload())
}

// MarkError emits the terminal error event.
func (s *Sink) MarkError(err error) event.Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return s.bus.Emit(event.TypeError, map[string]any{"message": msg})
}

// MarkCancelled emits the terminal cancelled event.
func (s *Sink) MarkCancelled() event.Event {
	return s.bus.Emit(event.TypeCancelled, map[string]any{})
}
