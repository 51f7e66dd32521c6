package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
)

// EventStore implements eventstore.Store on PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

var (
	_ eventstore.Store  = (*EventStore)(nil)
	_ eventstore.Lister = (*EventStore)(nil)
)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event. Re-appending an existing (search_id, seq) is a no-op.
func (s *EventStore) Append(ctx context.Context, rec eventstore.Record) error {
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_events (search_id, seq, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (search_id, seq) DO NOTHING`,
		rec.SearchID, rec.Seq, string(rec.Type), string(payload), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", rec.SearchID, rec.Seq, err)
	}
	return nil
}

// Load returns all events of a search ordered by seq.
func (s *EventStore) Load(ctx context.Context, searchID string) ([]eventstore.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT search_id, seq, event_type, data, created_at
		 FROM search_events WHERE search_id = $1 ORDER BY seq ASC`, searchID)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", searchID, err)
	}
	defer rows.Close()

	recs := []eventstore.Record{}
	for rows.Next() {
		var (
			rec     eventstore.Record
			evType  string
			payload []byte
		)
		if err := rows.Scan(&rec.SearchID, &rec.Seq, &evType, &payload, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Type = event.Type(evType)
		if err := json.Unmarshal(payload, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode event data %s/%d: %w", rec.SearchID, rec.Seq, err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// List returns the ids of all searches with recorded events.
func (s *EventStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT search_id FROM search_events ORDER BY search_id`)
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	return ids, nil
}
