// Package event defines search events and the per-search event bus.
package event

import "time"

// Type identifies the kind of search event.
type Type string

const (
	TypeSearchStarted Type = "search_started"
	TypeToolStart     Type = "tool_start"
	TypeToolEnd       Type = "tool_end"
	TypeQuality       Type = "quality"

	// Terminal types. Once one is emitted the bus is done.
	TypeDone      Type = "done"
	TypeError     Type = "error"
	TypeCancelled Type = "cancelled"
)

// IsTerminal reports whether t ends a search's event stream.
func IsTerminal(t Type) bool {
	switch t {
	case TypeDone, TypeError, TypeCancelled:
		return true
	}
	return false
}

// Event is a single immutable entry in a search's event log.
// The JSON shape is the on-wire format delivered to stream consumers.
type Event struct {
	Type      Type           `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`

	// Seq is the 1-based position in the owning bus's log.
	Seq int64 `json:"-"`
}

// Terminal reports whether the event is one of the terminal types.
func (e Event) Terminal() bool {
	return IsTerminal(e.Type)
}
