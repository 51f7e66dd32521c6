package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/domain/evidence"
	"github.com/Strob0t/SearchForge/internal/domain/search"
	"github.com/Strob0t/SearchForge/internal/domain/session"
	"github.com/Strob0t/SearchForge/internal/port/messagequeue"
)

const (
	// controlTimeout bounds publishes made after the caller's context is gone.
	controlTimeout = 5 * time.Second
	// defaultCallGrace is how long a completed run waits for tool_end
	// messages of the calls its completion lists.
	defaultCallGrace = 2 * time.Second
)

// Runner drives a remote agent-loop worker over the message queue. Each
// handle it opens is one worker-side conversation.
type Runner struct {
	q         messagequeue.PubSub
	callGrace time.Duration

	mu      sync.Mutex
	pending map[string]*remoteRun
	stops   []func()
}

// remoteRun is the service-side view of one search on the worker. Tool and
// completion messages arrive on separate consumers, so a completion may
// overtake the tool_end messages it depends on.
type remoteRun struct {
	search   *search.Search
	done     chan messagequeue.SearchCompletePayload
	progress chan struct{}

	mu    sync.Mutex
	calls map[string]*search.Call
	ended map[string]bool
}

func newRemoteRun(s *search.Search) *remoteRun {
	return &remoteRun{
		search:   s,
		done:     make(chan messagequeue.SearchCompletePayload, 1),
		progress: make(chan struct{}, 1),
		calls:    make(map[string]*search.Call),
		ended:    make(map[string]bool),
	}
}

// NewRunner subscribes to worker replies and returns a ready Runner.
func NewRunner(ctx context.Context, q messagequeue.PubSub) (*Runner, error) {
	r := &Runner{q: q, callGrace: defaultCallGrace, pending: make(map[string]*remoteRun)}

	stop, err := q.Subscribe(ctx, messagequeue.SubjectSearchComplete, r.handleComplete)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectSearchComplete, err)
	}
	r.stops = append(r.stops, stop)

	stop, err = q.Subscribe(ctx, messagequeue.SubjectSearchTool, r.handleTool)
	if err != nil {
		r.Stop()
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectSearchTool, err)
	}
	r.stops = append(r.stops, stop)
	return r, nil
}

// Stop cancels the reply subscriptions.
func (r *Runner) Stop() {
	for _, stop := range r.stops {
		stop()
	}
	r.stops = nil
}

// Open starts a new worker-side conversation.
func (r *Runner) Open(_ context.Context) (session.Handle, error) {
	return &remoteHandle{runner: r, conversationID: uuid.New().String()}, nil
}

type remoteHandle struct {
	runner         *Runner
	conversationID string
}

// Run publishes searches.start and waits for the matching searches.complete.
// Cancelling ctx publishes searches.cancel and returns ctx.Err().
func (h *remoteHandle) Run(ctx context.Context, s *search.Search) (*search.Result, error) {
	r := h.runner
	run := newRemoteRun(s)
	r.mu.Lock()
	r.pending[s.ID] = run
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, s.ID)
		r.mu.Unlock()
	}()

	start := messagequeue.SearchStartPayload{
		SearchID:       s.ID,
		SessionID:      s.SessionID,
		ConversationID: h.conversationID,
		Query:          s.Query,
		FollowUp:       s.FollowUp,
	}
	if err := r.publish(ctx, messagequeue.SubjectSearchStart, start); err != nil {
		return nil, err
	}

	select {
	case p := <-run.done:
		run.awaitCalls(ctx, p.CallIDs, r.callGrace)
		run.endOpenCalls(nil)
		return completion(p)
	case <-ctx.Done():
		run.endOpenCalls(domain.ErrCancelled)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
		defer cancel()
		if err := r.publish(cctx, messagequeue.SubjectSearchCancel, messagequeue.SearchCancelPayload{SearchID: s.ID}); err != nil {
			slog.Warn("failed to publish search cancel", "search_id", s.ID, "error", err)
		}
		return nil, ctx.Err()
	}
}

// Close releases the worker-side conversation.
func (h *remoteHandle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	return h.runner.publish(ctx, messagequeue.SubjectSearchClose, messagequeue.SearchClosePayload{ConversationID: h.conversationID})
}

func completion(p messagequeue.SearchCompletePayload) (*search.Result, error) {
	if p.Cancelled {
		return nil, domain.ErrCancelled
	}
	if p.Error != "" {
		return nil, errors.New(p.Error)
	}
	res := &search.Result{
		Answer:        p.Answer,
		ExecutionTime: p.ExecutionTime,
		Usage:         p.Usage,
		Sources:       make([]evidence.Record, 0, len(p.Sources)),
	}
	for _, src := range p.Sources {
		res.Sources = append(res.Sources, evidence.Record{
			ID:       src.ID,
			Question: src.Question,
			Answer:   src.Answer,
			Score:    src.Score,
			Metadata: src.Metadata,
		})
	}
	return res, nil
}

func (r *Runner) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return r.q.Publish(ctx, subject, data)
}

func (r *Runner) lookup(searchID string) *remoteRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[searchID]
}

func (r *Runner) handleComplete(_ context.Context, _ string, data []byte) error {
	var p messagequeue.SearchCompletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal search complete: %w", err)
	}
	run := r.lookup(p.SearchID)
	if run == nil {
		slog.Debug("completion for unknown search", "search_id", p.SearchID)
		return nil
	}
	select {
	case run.done <- p:
	default:
		slog.Warn("duplicate search completion ignored", "search_id", p.SearchID)
	}
	return nil
}

func (r *Runner) handleTool(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.SearchToolPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal search tool: %w", err)
	}
	run := r.lookup(p.SearchID)
	if run == nil {
		slog.Debug("tool event for unknown search", "search_id", p.SearchID, "tool", p.Tool)
		return nil
	}

	switch p.Phase {
	case messagequeue.ToolPhaseStart:
		run.start(ctx, p)
	case messagequeue.ToolPhaseEnd:
		run.end(ctx, p)
	}
	return nil
}

func (run *remoteRun) start(ctx context.Context, p messagequeue.SearchToolPayload) *search.Call {
	run.mu.Lock()
	_, open := run.calls[p.CallID]
	stale := open || run.ended[p.CallID]
	run.mu.Unlock()
	if stale {
		// Redelivered start, or a start overtaken by its end.
		return nil
	}
	call, err := run.search.Tracker.Start(ctx, p.Tool, p.CallID, p.Args)
	if err != nil {
		// Cancelled searches accept no new tool calls.
		return nil
	}
	run.mu.Lock()
	run.calls[p.CallID] = call
	run.mu.Unlock()
	return call
}

func (run *remoteRun) end(ctx context.Context, p messagequeue.SearchToolPayload) {
	run.mu.Lock()
	if run.ended[p.CallID] {
		run.mu.Unlock()
		return
	}
	call, ok := run.calls[p.CallID]
	delete(run.calls, p.CallID)
	run.mu.Unlock()
	if !ok {
		// End without a start we saw: open the call so the log stays paired.
		if call = run.start(ctx, p); call == nil {
			return
		}
		run.mu.Lock()
		delete(run.calls, p.CallID)
		run.mu.Unlock()
	}
	var err error
	if p.Error != "" {
		err = errors.New(p.Error)
	}
	call.EndWithDuration(time.Duration(math.Round(p.Duration*float64(time.Second))), p.ResultSummary, err)

	run.mu.Lock()
	run.ended[p.CallID] = true
	run.mu.Unlock()
	select {
	case run.progress <- struct{}{}:
	default:
	}
}

// awaitCalls waits until every id in ids has ended, grace has passed, or
// ctx is done.
func (run *remoteRun) awaitCalls(ctx context.Context, ids []string, grace time.Duration) {
	if len(ids) == 0 {
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for !run.allEnded(ids) {
		select {
		case <-run.progress:
		case <-timer.C:
			slog.Warn("tool calls still open at completion", "search_id", run.search.ID)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (run *remoteRun) allEnded(ids []string) bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	for _, id := range ids {
		if !run.ended[id] {
			return false
		}
	}
	return true
}

func (run *remoteRun) endOpenCalls(err error) {
	run.mu.Lock()
	calls := run.calls
	run.calls = make(map[string]*search.Call)
	run.mu.Unlock()
	if err == nil {
		err = errors.New("tool call never finished")
	}
	for _, c := range calls {
		c.End(nil, err)
	}
}
