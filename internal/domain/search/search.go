// Package search defines the per-search execution context handed to the agent loop.
package search

import (
	"time"

	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/evidence"
	"github.com/Strob0t/SearchForge/internal/domain/quality"
)

// Status is the lifecycle state of a search as seen by clients.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// StatusForEvent maps a terminal event type to its status. Non-terminal types map to running.
func StatusForEvent(t event.Type) Status {
	switch t {
	case event.TypeDone:
		return StatusDone
	case event.TypeError:
		return StatusError
	case event.TypeCancelled:
		return StatusCancelled
	default:
		return StatusRunning
	}
}

// Search bundles everything one search owns: its bus, evidence store and quality gate.
type Search struct {
	ID        string
	SessionID string
	Query     string
	FollowUp  bool
	StartedAt time.Time

	Bus      *event.Bus
	Evidence *evidence.Store
	Gate     *quality.Gate
	Tracker  *Tracker
}

// Params configures New.
type Params struct {
	ID         string
	SessionID  string
	Query      string
	FollowUp   bool
	Bus        *event.Bus
	Thresholds quality.Thresholds
	Observer   ToolObserver
	Now        time.Time
}

// New creates a Search with a fresh evidence store, gate and tracker.
// A nil Bus gets a new one.
func New(p Params) *Search {
	bus := p.Bus
	if bus == nil {
		bus = event.NewBus()
	}
	started := p.Now
	if started.IsZero() {
		started = time.Now()
	}
	store := evidence.NewStore()
	s := &Search{
		ID:        p.ID,
		SessionID: p.SessionID,
		Query:     p.Query,
		FollowUp:  p.FollowUp,
		StartedAt: started.UTC(),
		Bus:       bus,
		Evidence:  store,
		Gate:      quality.NewGateWithThresholds(store, p.Thresholds),
	}
	var opts []TrackerOption
	if p.Observer != nil {
		opts = append(opts, WithToolObserver(p.Observer))
	}
	s.Tracker = NewTracker(s, opts...)
	return s
}

// Status derives the current status from the bus log.
func (s *Search) Status() Status {
	if !s.Bus.IsDone() {
		return StatusRunning
	}
	for _, ev := range s.Bus.Replay() {
		if ev.Terminal() {
			return StatusForEvent(ev.Type)
		}
	}
	return StatusRunning
}

// Result is the final answer produced by the agent loop.
type Result struct {
	Answer        string            `json:"answer"`
	Sources       []evidence.Record `json:"sources"`
	ExecutionTime float64           `json:"execution_time"`
	Usage         map[string]any    `json:"usage"`
}

// Payload returns the data of the terminal done event.
func (r *Result) Payload() map[string]any {
	sources := r.Sources
	if sources == nil {
		sources = []evidence.Record{}
	}
	usage := r.Usage
	if usage == nil {
		usage = map[string]any{}
	}
	return map[string]any{
		"answer":         r.Answer,
		"sources":        sources,
		"execution_time": r.ExecutionTime,
		"usage":          usage,
	}
}
