// Package broadcast defines the port for pushing live search events to connected clients.
package broadcast

import (
	"context"

	"github.com/Strob0t/SearchForge/internal/domain/event"
)

// EventTypeSearch is the envelope type of every broadcast search event.
const EventTypeSearch = "search.event"

// SearchEvent is the payload broadcast for each emitted bus event.
type SearchEvent struct {
	SearchID string      `json:"search_id"`
	Seq      int64       `json:"seq"`
	Event    event.Event `json:"event"`
}

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards all events.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, string, any) {}
