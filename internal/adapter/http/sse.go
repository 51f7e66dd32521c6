package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Strob0t/SearchForge/internal/domain/event"
)

// sseWriter writes Server-Sent Events: an "event:" line with the event type
// and a "data:" line with the JSON event, flushed after every message.
// Headers are committed on the first write so lookup errors can still be
// answered with a plain JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	f       http.Flusher
	started bool
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) WriteEvent(ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.start()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) WriteComment(text string) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", strings.ReplaceAll(text, "\n", " ")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
