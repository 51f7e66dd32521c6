package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Strob0t/SearchForge/internal/adapter/jsonl"
	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
)

func TestWriteRecords(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recs := []eventstore.Record{
		{SearchID: "s1", Seq: 1, Type: event.TypeSearchStarted, Data: map[string]any{"query": "q"}, Timestamp: ts},
		{SearchID: "s1", Seq: 2, Type: event.TypeDone, Data: map[string]any{"answer": "a"}, Timestamp: ts},
	}

	tests := []struct {
		name      string
		pretty    bool
		wantLines int
	}{
		{"compact", false, 2},
		{"pretty", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeRecords(&buf, recs, tt.pretty); err != nil {
				t.Fatal(err)
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if tt.wantLines > 0 && len(lines) != tt.wantLines {
				t.Fatalf("expected %d lines, got %d:\n%s", tt.wantLines, len(lines), buf.String())
			}
			if tt.pretty && !strings.Contains(buf.String(), "\n  \"seq\": 1") {
				t.Fatalf("expected indented output, got:\n%s", buf.String())
			}
			if !strings.Contains(buf.String(), `"type":`) {
				t.Fatalf("missing type field:\n%s", buf.String())
			}
		})
	}
}

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		origin string
		want   []string
	}{
		{"", nil},
		{"*", nil},
		{"http://localhost:3000", []string{"localhost:3000"}},
		{"example.com", []string{"example.com"}},
	}
	for _, tt := range tests {
		got := originPatterns(tt.origin)
		if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
			t.Errorf("originPatterns(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestRunHelp(t *testing.T) {
	if err := run([]string{"help"}); err != nil {
		t.Fatalf("help: %v", err)
	}
}

type loadOnlyStore struct{}

func (loadOnlyStore) Append(context.Context, eventstore.Record) error { return nil }
func (loadOnlyStore) Load(context.Context, string) ([]eventstore.Record, error) {
	return []eventstore.Record{}, nil
}

func TestWriteSearchIDs(t *testing.T) {
	ctx := context.Background()
	store, err := jsonl.NewEventStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"s-b", "s-a"} {
		rec := eventstore.Record{SearchID: id, Seq: 1, Type: event.TypeSearchStarted, Timestamp: time.Now().UTC()}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := writeSearchIDs(ctx, &buf, store); err != nil {
		t.Fatalf("writeSearchIDs: %v", err)
	}
	if diff := cmp.Diff("s-a\ns-b\n", buf.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}

	if err := writeSearchIDs(ctx, &buf, loadOnlyStore{}); err == nil {
		t.Error("expected an error for a store that cannot list")
	}
}
