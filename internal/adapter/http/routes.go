package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. limit, when
// non-nil, wraps search creation.
func MountRoutes(r chi.Router, h *Handlers, limit func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Searches
		if limit != nil {
			r.With(limit).Post("/searches", h.StartSearch)
		} else {
			r.Post("/searches", h.StartSearch)
		}
		r.Get("/searches", h.ListSearches)
		r.Get("/searches/{id}", h.GetSearch)
		r.Get("/searches/{id}/stream", h.StreamSearch)
		r.Get("/searches/{id}/events", h.ListEvents)
		r.Post("/searches/{id}/cancel", h.CancelSearch)
		r.Get("/searches/{id}/quality", h.GetQuality)
		r.Get("/searches/{id}/evidence", h.GetEvidence)
		r.Get("/searches/{id}/result", h.GetResult)

		// Sessions
		r.Post("/sessions/sweep", h.SweepSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
	})
}
