// Package eventstore defines the port interface for the durable per-search event log.
package eventstore

import (
	"context"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain/event"
)

// Record is one persisted event of a search.
type Record struct {
	SearchID  string         `json:"search_id"`
	Seq       int64          `json:"seq"`
	Type      event.Type     `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// FromEvent builds the record persisted for ev.
func FromEvent(searchID string, ev event.Event) Record {
	return Record{
		SearchID:  searchID,
		Seq:       ev.Seq,
		Type:      ev.Type,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	}
}

// Event converts the record back into a bus event.
func (r Record) Event() event.Event {
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	return event.Event{Type: r.Type, Data: data, Timestamp: r.Timestamp, Seq: r.Seq}
}

// Store is the port interface for appending and loading search events.
type Store interface {
	// Append persists one event. Records of a search arrive in seq order.
	Append(ctx context.Context, rec Record) error

	// Load returns all records of a search ordered by seq.
	// An unknown search yields an empty slice and no error.
	Load(ctx context.Context, searchID string) ([]Record, error)
}

// Lister is implemented by stores that can enumerate the searches they hold.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Summary contains aggregate stats for a search's event log.
type Summary struct {
	TotalEvents   int            `json:"total_events"`
	EventCounts   map[string]int `json:"event_counts"`
	DurationMS    int64          `json:"duration_ms"`
	ToolCallCount int            `json:"tool_call_count"`
	ErrorCount    int            `json:"error_count"`
	Status        string         `json:"status,omitempty"`
}

// Summarize aggregates a loaded event log.
func Summarize(recs []Record) Summary {
	s := Summary{TotalEvents: len(recs), EventCounts: make(map[string]int)}
	for _, r := range recs {
		s.EventCounts[string(r.Type)]++
		switch r.Type {
		case event.TypeToolStart:
			s.ToolCallCount++
		case event.TypeToolEnd:
			if _, failed := r.Data["error"]; failed {
				s.ErrorCount++
			}
		case event.TypeError:
			s.ErrorCount++
		}
		if event.IsTerminal(r.Type) && s.Status == "" {
			s.Status = string(r.Type)
		}
	}
	if len(recs) > 1 {
		s.DurationMS = recs[len(recs)-1].Timestamp.Sub(recs[0].Timestamp).Milliseconds()
	}
	return s
}
