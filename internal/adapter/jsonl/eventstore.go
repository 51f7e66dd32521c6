// Package jsonl implements the durable event store as one JSON-lines file per search.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
)

const fileExt = ".jsonl"

// EventStore appends records to <dir>/<search_id>.jsonl. Appends to one
// search are serialized; different searches write independently.
type EventStore struct {
	dir string

	mu    sync.Mutex // guards locks
	locks map[string]*fileLock
}

// fileLock serializes writers of one search's file. refs counts holders
// and waiters so idle entries can be dropped.
type fileLock struct {
	mu   sync.Mutex
	refs int
}

var (
	_ eventstore.Store  = (*EventStore)(nil)
	_ eventstore.Lister = (*EventStore)(nil)
)

// NewEventStore creates dir if needed and returns a store rooted there.
func NewEventStore(dir string) (*EventStore, error) {
	if dir == "" {
		return nil, errors.New("jsonl: event log dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create dir: %w", err)
	}
	return &EventStore{dir: dir, locks: make(map[string]*fileLock)}, nil
}

// Dir returns the directory holding the logs.
func (s *EventStore) Dir() string {
	return s.dir
}

func (s *EventStore) path(searchID string) (string, error) {
	if searchID == "" || searchID != filepath.Base(searchID) || strings.ContainsAny(searchID, `/\`) || strings.HasPrefix(searchID, ".") {
		return "", fmt.Errorf("search id %q: %w", searchID, domain.ErrValidation)
	}
	return filepath.Join(s.dir, searchID+fileExt), nil
}

// Append writes rec as one line to its search's file.
func (s *EventStore) Append(_ context.Context, rec eventstore.Record) error {
	path, err := s.path(rec.SearchID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	unlock := s.lock(rec.SearchID)
	defer unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	return f.Close()
}

// lock takes the per-search file lock and returns its release.
func (s *EventStore) lock(searchID string) func() {
	s.mu.Lock()
	l, ok := s.locks[searchID]
	if !ok {
		l = &fileLock{}
		s.locks[searchID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, searchID)
		}
		s.mu.Unlock()
	}
}

// Load reads a search's records in file order. A missing file yields no
// records. An unterminated, unparsable last line is a torn write and is skipped.
func (s *EventStore) Load(_ context.Context, searchID string) ([]eventstore.Record, error) {
	path, err := s.path(searchID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []eventstore.Record{}, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	return readRecords(f, searchID)
}

func readRecords(r io.Reader, searchID string) ([]eventstore.Record, error) {
	recs := []eventstore.Record{}
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read event log: %w", readErr)
		}
		terminated := readErr == nil
		if line := bytes.TrimSpace(raw); len(line) > 0 {
			lineNo++
			var rec eventstore.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				if !terminated {
					slog.Warn("skipping torn event log line", "search_id", searchID, "line", lineNo)
					break
				}
				return nil, fmt.Errorf("parse event line %d: %w", lineNo, err)
			}
			recs = append(recs, rec)
		}
		if !terminated {
			break
		}
	}
	return recs, nil
}

// List returns the ids of all searches with a log, in file name order.
func (s *EventStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read event log dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	return ids, nil
}
