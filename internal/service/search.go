package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Strob0t/SearchForge/internal/config"
	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/evidence"
	"github.com/Strob0t/SearchForge/internal/domain/quality"
	"github.com/Strob0t/SearchForge/internal/domain/search"
	"github.com/Strob0t/SearchForge/internal/domain/session"
	"github.com/Strob0t/SearchForge/internal/port/agentloop"
	"github.com/Strob0t/SearchForge/internal/port/broadcast"
	"github.com/Strob0t/SearchForge/internal/port/cache"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
	"github.com/Strob0t/SearchForge/internal/resilience"
)

// StartRequest starts a new search, or a follow-up when SessionID is set.
type StartRequest struct {
	Query     string `json:"query" validate:"required"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,uuid"`
}

// StartResponse identifies a started search.
type StartResponse struct {
	SearchID  string `json:"search_id"`
	SessionID string `json:"session_id"`
	FollowUp  bool   `json:"follow_up"`
}

// StatusView summarizes a search for clients.
type StatusView struct {
	SearchID   string              `json:"search_id"`
	SessionID  string              `json:"session_id,omitempty"`
	Query      string              `json:"query,omitempty"`
	Status     search.Status       `json:"status"`
	EventCount int                 `json:"event_count"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	Quality    *quality.Assessment `json:"quality,omitempty"`
}

// EvidenceView is the top-rated evidence of a search plus rating counts.
type EvidenceView struct {
	SearchID     string            `json:"search_id"`
	Top          []evidence.Record `json:"top"`
	RatingCounts map[string]int    `json:"rating_counts"`
	Registered   int               `json:"registered"`
	Searches     int               `json:"searches"`
}

// SearchDeps are the collaborators of SearchService. Only Runner and
// Sessions are required.
type SearchDeps struct {
	Runner      agentloop.Runner
	Sessions    *SessionManager
	Events      eventstore.Store
	Results     cache.Cache
	Hub         broadcast.Broadcaster
	Telemetry   Telemetry
	EventsGuard *resilience.Breaker
	CacheGuard  *resilience.Breaker
}

type runningSearch struct {
	search *search.Search
	sink   *Sink

	mu     sync.Mutex
	result *search.Result
}

func (r *runningSearch) setResult(res *search.Result) {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
}

func (r *runningSearch) getResult() *search.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// SearchService orchestrates searches: it claims the session, wires the
// bus/store/gate triple to the sink and tracker, runs the agent loop, and
// guarantees exactly one terminal event and one busy-flag release per search.
type SearchService struct {
	cfg  config.Search
	deps SearchDeps
	now  func() time.Time

	// running searches never expire; finished ones are kept for ResultRetention.
	registry *gocache.Cache

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// NewSearchService creates a SearchService.
func NewSearchService(cfg config.Search, deps SearchDeps) *SearchService {
	if deps.Hub == nil {
		deps.Hub = broadcast.Nop{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = NopTelemetry{}
	}
	retention := cfg.ResultRetention
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &SearchService{
		cfg:        cfg,
		deps:       deps,
		now:        time.Now,
		registry:   gocache.New(retention, retention/2),
		baseCtx:    base,
		cancelBase: cancel,
	}
}

// Start validates req, claims (or creates) the session and launches the
// agent loop in the background.
func (s *SearchService) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrValidation)
	}
	if s.cfg.MaxQueryLen > 0 && utf8.RuneCountInString(query) > s.cfg.MaxQueryLen {
		return nil, fmt.Errorf("query exceeds %d characters: %w", s.cfg.MaxQueryLen, domain.ErrValidation)
	}

	searchID := uuid.New().String()
	bus := event.NewBus()

	sessionID := req.SessionID
	followUp := sessionID != ""
	if !followUp {
		h, err := s.deps.Runner.Open(ctx)
		if err != nil {
			return nil, fmt.Errorf("open agent loop: %w", err)
		}
		sessionID = s.deps.Sessions.Create(h, bus)
	}

	handle, _, err := s.deps.Sessions.PrepareFollowUp(sessionID, bus, searchID)
	if err != nil {
		return nil, err
	}

	srch := search.New(search.Params{
		ID:        searchID,
		SessionID: sessionID,
		Query:     query,
		FollowUp:  followUp,
		Bus:       bus,
		Thresholds: quality.Thresholds{
			Ready: s.cfg.ReadyThreshold,
			Stall: s.cfg.StallThreshold,
		},
		Observer: s.deps.Telemetry,
		Now:      s.now(),
	})
	rs := &runningSearch{
		search: srch,
		sink:   NewSink(searchID, bus, s.deps.Events, s.deps.EventsGuard, s.deps.Hub, s.deps.Telemetry),
	}
	s.registry.Set(searchID, rs, gocache.NoExpiration)

	bus.Emit(event.TypeSearchStarted, map[string]any{
		"search_id":  searchID,
		"session_id": sessionID,
		"query":      query,
		"follow_up":  followUp,
	})

	s.wg.Add(1)
	go s.run(rs, handle)

	slog.Info("search started", "search_id", searchID, "session_id", sessionID, "follow_up", followUp)
	return &StartResponse{SearchID: searchID, SessionID: sessionID, FollowUp: followUp}, nil
}

func (s *SearchService) run(rs *runningSearch, h session.Handle) {
	defer s.wg.Done()
	srch := rs.search

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	go func() {
		select {
		case <-srch.Bus.Cancelled():
			cancel()
		case <-ctx.Done():
		}
	}()
	ctx = s.deps.Telemetry.SearchStarted(ctx, srch.ID, srch.SessionID, srch.FollowUp)

	res, err := s.invoke(ctx, h, srch)

	// Release the session before the terminal event so a client reacting
	// to it can immediately ask a follow-up.
	if clearErr := s.deps.Sessions.ClearActive(srch.SessionID); clearErr != nil {
		slog.Debug("session gone before search finished", "search_id", srch.ID, "session_id", srch.SessionID)
	}

	// A returned result wins over a cancel that raced it; a cancel only
	// classifies a failed run.
	var status search.Status
	switch {
	case err == nil:
		status = search.StatusDone
		if res == nil {
			res = &search.Result{}
		}
		if res.ExecutionTime == 0 {
			res.ExecutionTime = s.now().Sub(srch.StartedAt).Seconds()
		}
		rs.setResult(res)
		rs.sink.MarkDone(res)
		s.cacheResult(srch.ID, res)
	case srch.Bus.IsCancelled() || errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled):
		status = search.StatusCancelled
		rs.sink.MarkCancelled()
	default:
		status = search.StatusError
		rs.sink.MarkError(err)
		slog.Warn("search failed", "search_id", srch.ID, "error", err)
	}

	elapsed := s.now().Sub(srch.StartedAt)
	s.deps.Telemetry.SearchFinished(ctx, srch.ID, status, elapsed)
	s.registry.Set(srch.ID, rs, gocache.DefaultExpiration)
	slog.Info("search finished", "search_id", srch.ID, "status", status, "duration", elapsed)
}

// invoke runs the handle, converting a panic into an error.
func (s *SearchService) invoke(ctx context.Context, h session.Handle, srch *search.Search) (res *search.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent loop panicked", "search_id", srch.ID, "panic", r)
			res, err = nil, fmt.Errorf("agent loop panicked: %v", r)
		}
	}()
	return h.Run(ctx, srch)
}

func (s *SearchService) cacheResult(searchID string, res *search.Result) {
	if s.deps.Results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	write := func(ctx context.Context) error {
		return cache.SetJSON(ctx, s.deps.Results, cache.ResultKey(searchID), res, 0)
	}
	var err error
	if s.deps.CacheGuard != nil {
		err = s.deps.CacheGuard.ExecuteContext(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		slog.Warn("failed to cache search result", "search_id", searchID, "error", err)
	}
}

func (s *SearchService) lookup(id string) (*runningSearch, bool) {
	v, ok := s.registry.Get(id)
	if !ok {
		return nil, false
	}
	rs, ok := v.(*runningSearch)
	return rs, ok
}

// Search returns the in-memory search.
func (s *SearchService) Search(id string) (*search.Search, error) {
	rs, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	return rs.search, nil
}

// Tracker returns the tool tracker of an in-memory search.
func (s *SearchService) Tracker(id string) (*search.Tracker, error) {
	rs, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	return rs.search.Tracker, nil
}

// Cancel requests cooperative cancellation of a search.
func (s *SearchService) Cancel(id string) error {
	rs, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	if rs.search.Bus.IsDone() {
		return fmt.Errorf("search %s already finished: %w", id, domain.ErrConflict)
	}
	rs.search.Bus.Cancel()
	slog.Info("search cancel requested", "search_id", id)
	return nil
}

// Status reports a search's state, falling back to the durable log for
// searches no longer held in memory.
func (s *SearchService) Status(ctx context.Context, id string) (*StatusView, error) {
	if rs, ok := s.lookup(id); ok {
		srch := rs.search
		a := srch.Gate.Assess()
		started := srch.StartedAt
		return &StatusView{
			SearchID:   srch.ID,
			SessionID:  srch.SessionID,
			Query:      srch.Query,
			Status:     srch.Status(),
			EventCount: srch.Bus.Len(),
			StartedAt:  &started,
			Quality:    &a,
		}, nil
	}
	recs, err := s.loadDurable(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := eventstore.Summarize(recs)
	st := search.StatusForEvent(event.Type(sum.Status))
	started := recs[0].Timestamp
	return &StatusView{SearchID: id, Status: st, EventCount: sum.TotalEvents, StartedAt: &started}, nil
}

// Quality returns the current gate assessment.
func (s *SearchService) Quality(id string) (*quality.Assessment, error) {
	srch, err := s.Search(id)
	if err != nil {
		return nil, err
	}
	a := srch.Gate.Assess()
	return &a, nil
}

// Evidence returns up to top rated records (all when top <= 0) and rating counts.
func (s *SearchService) Evidence(id string, top int) (*EvidenceView, error) {
	srch, err := s.Search(id)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for r, n := range srch.Evidence.RatingCounts() {
		counts[r.String()] = n
	}
	return &EvidenceView{
		SearchID:     id,
		Top:          srch.Evidence.TopRated(top),
		RatingCounts: counts,
		Registered:   srch.Evidence.Len(),
		Searches:     srch.Evidence.SearchCount(),
	}, nil
}

// Result returns the final result of a finished search, from memory or the
// result cache. A search still running yields domain.ErrConflict.
func (s *SearchService) Result(ctx context.Context, id string) (*search.Result, error) {
	if rs, ok := s.lookup(id); ok {
		if res := rs.getResult(); res != nil {
			return res, nil
		}
		if rs.search.Status() == search.StatusRunning {
			return nil, fmt.Errorf("search %s still running: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("search %s has no result: %w", id, domain.ErrNotFound)
	}
	if s.deps.Results != nil {
		var res search.Result
		found, err := cache.GetJSON(ctx, s.deps.Results, cache.ResultKey(id), &res)
		if err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
		if found {
			return &res, nil
		}
	}
	return nil, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
}

// Events returns the durable event log of a search and its summary.
func (s *SearchService) Events(ctx context.Context, id string) ([]eventstore.Record, eventstore.Summary, error) {
	recs, err := s.loadDurable(ctx, id)
	if err != nil {
		return nil, eventstore.Summary{}, err
	}
	return recs, eventstore.Summarize(recs), nil
}

// Stream delivers a search's events to w. Searches evicted from memory are
// replayed from the durable log.
func (s *SearchService) Stream(ctx context.Context, id string, replay bool, w StreamWriter) error {
	opts := StreamOptions{
		PollInterval:      s.cfg.PollInterval,
		KeepaliveInterval: s.cfg.KeepaliveInterval,
		Budget:            s.cfg.StreamBudget,
	}
	if rs, ok := s.lookup(id); ok {
		s.deps.Telemetry.StreamOpened(ctx)
		defer s.deps.Telemetry.StreamClosed(ctx)
		return StreamBus(ctx, rs.search.Bus, replay, w, opts)
	}
	recs, err := s.loadDurable(ctx, id)
	if err != nil {
		return err
	}
	return StreamRecords(ctx, recs, w)
}

// SearchInfo is a brief listing entry for an in-memory search.
type SearchInfo struct {
	SearchID  string        `json:"search_id"`
	SessionID string        `json:"session_id"`
	Query     string        `json:"query"`
	Status    search.Status `json:"status"`
	StartedAt time.Time     `json:"started_at"`
}

// List returns the searches held in memory, most recent first.
func (s *SearchService) List() []SearchInfo {
	items := s.registry.Items()
	out := make([]SearchInfo, 0, len(items))
	for _, it := range items {
		rs, ok := it.Object.(*runningSearch)
		if !ok {
			continue
		}
		out = append(out, SearchInfo{
			SearchID:  rs.search.ID,
			SessionID: rs.search.SessionID,
			Query:     rs.search.Query,
			Status:    rs.search.Status(),
			StartedAt: rs.search.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Session returns a session snapshot.
func (s *SearchService) Session(id string) (*session.Info, error) {
	sess := s.deps.Sessions.Get(id)
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	info := sess.Info()
	return &info, nil
}

// DeleteSession tears down an idle session. A busy session yields domain.ErrBusy.
func (s *SearchService) DeleteSession(id string) error {
	return s.deps.Sessions.DeleteIdle(id)
}

// SweepSessions expires idle sessions now.
func (s *SearchService) SweepSessions() []string {
	return s.deps.Sessions.CleanupExpired()
}

// Shutdown cancels all running searches and waits for them to emit their
// terminal events, or for ctx to expire.
func (s *SearchService) Shutdown(ctx context.Context) error {
	for _, it := range s.registry.Items() {
		if rs, ok := it.Object.(*runningSearch); ok && !rs.search.Bus.IsDone() {
			rs.search.Bus.Cancel()
		}
	}
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// Wait blocks until every launched search has finished.
func (s *SearchService) Wait() {
	s.wg.Wait()
}

func (s *SearchService) loadDurable(ctx context.Context, id string) ([]eventstore.Record, error) {
	if s.deps.Events == nil {
		return nil, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	recs, err := s.deps.Events.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("search %s: %w", id, domain.ErrNotFound)
	}
	return recs, nil
}
