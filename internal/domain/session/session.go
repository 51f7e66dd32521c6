// Package session defines multi-turn search sessions and their busy guard.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/search"
)

// Handle is the execution context bound to a session for its whole lifetime.
// It carries conversation state across follow-up searches.
type Handle interface {
	Run(ctx context.Context, s *search.Search) (*search.Result, error)
	Close() error
}

// Session is one multi-turn conversation. All mutable fields are guarded by mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.Mutex
	handle         Handle
	bus            *event.Bus
	activeSearchID string
	searchCount    int
	lastActive     time.Time
	closed         bool
}

// New creates an idle session.
func New(id string, h Handle, bus *event.Bus, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		handle:     h,
		bus:        bus,
		lastActive: now,
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	ID             string    `json:"session_id"`
	Busy           bool      `json:"busy"`
	ActiveSearchID string    `json:"active_search_id,omitempty"`
	SearchCount    int       `json:"search_count"`
	LastActive     time.Time `json:"last_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Info returns a consistent snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		Busy:           s.activeSearchID != "",
		ActiveSearchID: s.activeSearchID,
		SearchCount:    s.searchCount,
		LastActive:     s.lastActive,
		CreatedAt:      s.CreatedAt,
	}
}

// IsBusy reports whether a search is active on the session.
func (s *Session) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSearchID != ""
}

// Bus returns the bus of the current (or last) search.
func (s *Session) Bus() *event.Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

// ActiveSearchID returns the id of the running search, or "".
func (s *Session) ActiveSearchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSearchID
}

// SearchCount returns how many searches were started on the session.
func (s *Session) SearchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchCount
}

// LastActive returns the time of the last search start.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Begin performs the whole follow-up transition under the session lock:
// it fails with domain.ErrBusy (no mutation) when a search is active,
// otherwise increments the search count, stamps last-active, marks searchID
// active, swaps in bus and returns the bound handle.
func (s *Session) Begin(searchID string, bus *event.Bus, now time.Time) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrNotFound
	}
	if s.activeSearchID != "" {
		return nil, domain.ErrBusy
	}
	s.searchCount++
	s.lastActive = now
	s.activeSearchID = searchID
	s.bus = bus
	return s.handle, nil
}

// ClearActive releases the busy guard. Clearing an idle session is a no-op.
func (s *Session) ClearActive() {
	s.mu.Lock()
	s.activeSearchID = ""
	s.mu.Unlock()
}

// ExpireIfIdle closes the session when it has no active search and has been
// idle longer than timeout. The returned handle must be released by the caller.
func (s *Session) ExpireIfIdle(now time.Time, timeout time.Duration) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.activeSearchID != "" || now.Sub(s.lastActive) <= timeout {
		return nil, false
	}
	s.closed = true
	return s.handle, true
}

// Close marks the session closed and returns its handle. Later calls to
// Begin fail with domain.ErrNotFound. Returns false if already closed.
func (s *Session) Close() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	return s.handle, true
}

// CloseIfIdle is Close for sessions without an active search; a busy
// session fails with domain.ErrBusy and stays open.
func (s *Session) CloseIfIdle() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrNotFound
	}
	if s.activeSearchID != "" {
		return nil, domain.ErrBusy
	}
	s.closed = true
	return s.handle, nil
}
