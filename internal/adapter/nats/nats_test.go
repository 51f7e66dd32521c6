package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Strob0t/SearchForge/internal/logger"
	"github.com/Strob0t/SearchForge/internal/port/messagequeue"
)

func testConnect(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	q, err := Connect(context.Background(), url, DefaultStream)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

type delivery struct {
	ctx  context.Context
	data []byte
}

// collect subscribes to subject and forwards deliveries accepted by match.
func collect(t *testing.T, q *Queue, subject string, match func([]byte) bool, fail error) <-chan delivery {
	t.Helper()
	ch := make(chan delivery, 16)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, data []byte) error {
		if !match(data) {
			return nil
		}
		ch <- delivery{ctx: ctx, data: data}
		return fail
	})
	if err != nil {
		t.Fatalf("Subscribe %s: %v", subject, err)
	}
	t.Cleanup(stop)
	return ch
}

func hasSearchID(id string) func([]byte) bool {
	return func(data []byte) bool {
		var p struct {
			SearchID string `json:"search_id"`
		}
		return json.Unmarshal(data, &p) == nil && p.SearchID == id
	}
}

func await(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message")
		return delivery{}
	}
}

func TestQueue_SearchStartRoundTrip(t *testing.T) {
	q := testConnect(t)
	searchID := uuid.NewString()
	got := collect(t, q, messagequeue.SubjectSearchStart, hasSearchID(searchID), nil)

	want := messagequeue.SearchStartPayload{
		SearchID:       searchID,
		SessionID:      uuid.NewString(),
		ConversationID: uuid.NewString(),
		Query:          "who wrote the nats protocol?",
		FollowUp:       true,
	}
	data, _ := json.Marshal(want)
	ctx := logger.WithRequestID(context.Background(), "req-"+searchID)
	if err := q.Publish(ctx, messagequeue.SubjectSearchStart, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	d := await(t, got)
	var p messagequeue.SearchStartPayload
	if err := json.Unmarshal(d.data, &p); err != nil {
		t.Fatal(err)
	}
	if p != want {
		t.Errorf("payload = %+v, want %+v", p, want)
	}
	if id := logger.RequestID(d.ctx); id != "req-"+searchID {
		t.Errorf("request id = %q, want %q", id, "req-"+searchID)
	}
}

func TestQueue_InvalidToolPayloadIsDeadLettered(t *testing.T) {
	q := testConnect(t)
	searchID := uuid.NewString()
	handled := collect(t, q, messagequeue.SubjectSearchTool, hasSearchID(searchID), nil)
	dlq := collect(t, q, messagequeue.DeadLetter(messagequeue.SubjectSearchTool), hasSearchID(searchID), nil)

	bad := messagequeue.SearchToolPayload{SearchID: searchID, CallID: "c1", Phase: "middle", Tool: "web_search"}
	data, _ := json.Marshal(bad)
	if err := q.Publish(context.Background(), messagequeue.SubjectSearchTool, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	await(t, dlq)
	select {
	case <-handled:
		t.Fatal("invalid payload reached the handler")
	default:
	}
}

func TestQueue_HandlerFailureRetriesThenDeadLetters(t *testing.T) {
	q := testConnect(t)
	subject := "searches.test." + t.Name()
	searchID := uuid.NewString()

	var attempts atomic.Int32
	attemptCh := collect(t, q, subject, func(data []byte) bool {
		if hasSearchID(searchID)(data) {
			attempts.Add(1)
			return true
		}
		return false
	}, errors.New("worker unavailable"))
	dlq := collect(t, q, messagequeue.DeadLetter(subject), hasSearchID(searchID), nil)

	data, _ := json.Marshal(map[string]string{"search_id": searchID})
	if err := q.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	await(t, dlq)
	for len(attemptCh) > 0 {
		<-attemptCh
	}
	if n := attempts.Load(); n != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", n, maxRetries+1)
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "searchforge-test-kv", 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	if _, err := kv.Put(ctx, "search.abc.result", []byte(`{"answer":"a"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "search.abc.result")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != `{"answer":"a"}` {
		t.Errorf("value = %q", entry.Value())
	}
	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{"", 0},
		{"2", 2},
		{"-1", 0},
		{"x", 0},
	}
	for _, tt := range tests {
		h := nats.Header{}
		if tt.header != "" {
			h.Set(headerRetryCount, tt.header)
		}
		if got := retryCount(h); got != tt.want {
			t.Errorf("retryCount(%q) = %d, want %d", tt.header, got, tt.want)
		}
	}
}

func TestCopyHeaderIsDeep(t *testing.T) {
	h := nats.Header{}
	h.Set(headerRequestID, "r1")
	out := copyHeader(h)
	out.Set(headerRequestID, "r2")
	if h.Get(headerRequestID) != "r1" {
		t.Fatal("copyHeader shares storage with the source")
	}
}
