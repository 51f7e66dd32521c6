package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/SearchForge/internal/domain"
)

// decodeBody reads a JSON body of at most limit bytes into a T. On failure
// the error response is already written and ok is false.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, limit int64) (v T, ok bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("encode response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// domainStatus maps sentinel errors onto HTTP statuses, first match wins.
var domainStatus = []struct {
	sentinel error
	status   int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrBusy, http.StatusConflict},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrValidation, http.StatusBadRequest},
}

// writeDomainError answers err with its mapped status. Not-found errors
// use notFound as the message; busy sessions get a fixed message; other
// mapped errors keep their own text without the sentinel suffix.
// Unmapped errors become a logged 500.
func writeDomainError(w http.ResponseWriter, err error, notFound string) {
	for _, m := range domainStatus {
		if !errors.Is(err, m.sentinel) {
			continue
		}
		switch m.sentinel {
		case domain.ErrNotFound:
			writeError(w, m.status, notFound)
		case domain.ErrBusy:
			writeError(w, m.status, "session is busy")
		default:
			writeError(w, m.status, strings.TrimSuffix(err.Error(), ": "+m.sentinel.Error()))
		}
		return
	}
	writeInternalError(w, err)
}

// writeInternalError logs err and hides it from the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
