package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Strob0t/SearchForge/internal/port/eventstore"
	"github.com/Strob0t/SearchForge/internal/service"
)

const defaultBodyLimit = 64 << 10

// Handlers holds the HTTP handlers of the search API.
type Handlers struct {
	Searches  *service.SearchService
	Validate  *validator.Validate
	BodyLimit int64
	// Health, when set, is reported under "components" by /health.
	Health func(ctx context.Context) map[string]string
}

// NewHandlers creates the handlers with a fresh validator.
func NewHandlers(searches *service.SearchService) *Handlers {
	return &Handlers{
		Searches:  searches,
		Validate:  newValidator(),
		BodyLimit: defaultBodyLimit,
	}
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit <= 0 {
		return defaultBodyLimit
	}
	return h.BodyLimit
}

// StartSearch handles POST /api/v1/searches.
func (h *Handlers) StartSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[service.StartRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := h.Searches.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// ListSearches handles GET /api/v1/searches.
func (h *Handlers) ListSearches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Searches.List())
}

// GetSearch handles GET /api/v1/searches/{id}.
func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	view, err := h.Searches.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "search not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type eventsResponse struct {
	SearchID string              `json:"search_id"`
	Summary  eventstore.Summary  `json:"summary"`
	Events   []eventstore.Record `json:"events"`
}

// ListEvents handles GET /api/v1/searches/{id}/events.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	recs, sum, err := h.Searches.Events(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "search not found")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{SearchID: id, Summary: sum, Events: recs})
}

// CancelSearch handles POST /api/v1/searches/{id}/cancel.
func (h *Handlers) CancelSearch(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Searches.Cancel(id); err != nil {
		writeDomainError(w, err, "search not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "search_id": id})
}

// GetQuality handles GET /api/v1/searches/{id}/quality.
func (h *Handlers) GetQuality(w http.ResponseWriter, r *http.Request) {
	a, err := h.Searches.Quality(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "search not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetEvidence handles GET /api/v1/searches/{id}/evidence?top=N.
func (h *Handlers) GetEvidence(w http.ResponseWriter, r *http.Request) {
	top := 0
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		top = n
	}
	view, err := h.Searches.Evidence(urlParam(r, "id"), top)
	if err != nil {
		writeDomainError(w, err, "search not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetResult handles GET /api/v1/searches/{id}/result.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Searches.Result(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.Searches.Session(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DeleteSession handles DELETE /api/v1/sessions/{id}.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Searches.DeleteSession(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SweepSessions handles POST /api/v1/sessions/sweep.
func (h *Handlers) SweepSessions(w http.ResponseWriter, _ *http.Request) {
	expired := h.Searches.SweepSessions()
	if expired == nil {
		expired = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"expired": expired})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Time       time.Time         `json:"time"`
	Searches   int               `json:"searches"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Time:     time.Now().UTC(),
		Searches: len(h.Searches.List()),
	}
	if h.Health != nil {
		resp.Components = h.Health(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

// StreamSearch handles GET /api/v1/searches/{id}/stream[?replay=1] as
// Server-Sent Events. Disconnecting from a live stream cancels the search.
func (h *Handlers) StreamSearch(w http.ResponseWriter, r *http.Request) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	replay := r.URL.Query().Get("replay")
	sw := &sseWriter{w: w, f: f}

	err := h.Searches.Stream(r.Context(), urlParam(r, "id"), replay == "1" || replay == "true", sw)
	if err == nil {
		return
	}
	if !sw.started {
		writeDomainError(w, err, "search not found")
		return
	}
	if r.Context().Err() == nil {
		slog.Warn("stream ended with error", "search_id", urlParam(r, "id"), "error", err)
	}
}
