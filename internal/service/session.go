package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/session"
)

// SessionManager owns the session table: creation, busy-guarding,
// follow-up handoff and idle expiry.
type SessionManager struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithSessionClock overrides time.Now.
func WithSessionClock(now func() time.Time) SessionManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// WithSweepInterval sets how often Run sweeps expired sessions.
func WithSweepInterval(d time.Duration) SessionManagerOption {
	return func(m *SessionManager) { m.sweepInterval = d }
}

// NewSessionManager creates a SessionManager expiring sessions idle longer than idleTimeout.
func NewSessionManager(idleTimeout time.Duration, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		idleTimeout:   idleTimeout,
		sweepInterval: time.Minute,
		now:           time.Now,
		sessions:      make(map[string]*session.Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create registers a new session bound to h with no active search.
func (m *SessionManager) Create(h session.Handle, bus *event.Bus) string {
	id := uuid.New().String()
	s := session.New(id, h, bus, m.now())

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	slog.Debug("session created", "session_id", id)
	return id
}

// Get returns the session, or nil when unknown.
func (m *SessionManager) Get(id string) *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IsBusy reports whether the session has an active search.
func (m *SessionManager) IsBusy(id string) (bool, error) {
	s := m.Get(id)
	if s == nil {
		return false, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return s.IsBusy(), nil
}

// PrepareFollowUp atomically claims the session for searchID: it fails with
// domain.ErrBusy (state unchanged) when a search is active, otherwise swaps
// in newBus and returns the bound handle.
func (m *SessionManager) PrepareFollowUp(id string, newBus *event.Bus, searchID string) (session.Handle, *session.Session, error) {
	s := m.Get(id)
	if s == nil {
		return nil, nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	h, err := s.Begin(searchID, newBus, m.now())
	if err != nil {
		return nil, nil, fmt.Errorf("session %s: %w", id, err)
	}
	return h, s, nil
}

// ClearActive releases the busy guard of the session.
func (m *SessionManager) ClearActive(id string) error {
	s := m.Get(id)
	if s == nil {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	s.ClearActive()
	return nil
}

// Delete removes the session and releases its handle.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}

	if h, first := s.Close(); first {
		release(id, h)
	}
	slog.Debug("session deleted", "session_id", id)
	return nil
}

// DeleteIdle is Delete for sessions without an active search. A busy
// session is left untouched and domain.ErrBusy is returned.
func (m *SessionManager) DeleteIdle(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	h, err := s.CloseIfIdle()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, err)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	release(id, h)
	slog.Debug("session deleted", "session_id", id)
	return nil
}

// CleanupExpired removes idle sessions past the idle timeout and releases
// their handles. Sessions with an active search are never removed.
func (m *SessionManager) CleanupExpired() []string {
	now := m.now()
	type expired struct {
		id string
		h  session.Handle
	}
	var gone []expired

	m.mu.Lock()
	for id, s := range m.sessions {
		if h, ok := s.ExpireIfIdle(now, m.idleTimeout); ok {
			delete(m.sessions, id)
			gone = append(gone, expired{id: id, h: h})
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(gone))
	for _, e := range gone {
		release(e.id, e.h)
		ids = append(ids, e.id)
	}
	if len(ids) > 0 {
		slog.Info("expired idle sessions", "count", len(ids))
	}
	return ids
}

// Run sweeps expired sessions every sweep interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

// CloseAll releases every session. Used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()

	for id, s := range all {
		if h, ok := s.Close(); ok {
			release(id, h)
		}
	}
}

func release(id string, h session.Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		slog.Warn("failed to release session handle", "session_id", id, "error", err)
	}
}
