// Package cachetest checks that a cache.Cache behaves the way the search
// service relies on.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/SearchForge/internal/port/cache"
)

// step is one operation in a scenario. want is the expected Get result;
// a nil want expects a miss.
type step struct {
	op    string // set, get, del
	key   string
	value string
	want  *string
}

func hit(v string) *string { return &v }

// RunComplianceTests runs every scenario against c. Scenarios use distinct
// keys so they can share one cache.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	scenarios := []struct {
		name  string
		steps []step
	}{
		{"set then get", []step{
			{op: "set", key: cache.ResultKey("ct-a"), value: `{"answer":"a"}`},
			{op: "get", key: cache.ResultKey("ct-a"), want: hit(`{"answer":"a"}`)},
		}},
		{"miss", []step{
			{op: "get", key: "ct-never-set"},
		}},
		{"delete", []step{
			{op: "set", key: "ct-del", value: "v"},
			{op: "del", key: "ct-del"},
			{op: "get", key: "ct-del"},
		}},
		{"delete missing", []step{
			{op: "del", key: "ct-del-missing"},
		}},
		{"overwrite", []step{
			{op: "set", key: "ct-ow", value: "v1"},
			{op: "set", key: "ct-ow", value: "v2"},
			{op: "get", key: "ct-ow", want: hit("v2")},
		}},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			for i, st := range sc.steps {
				switch st.op {
				case "set":
					if err := c.Set(ctx, st.key, []byte(st.value), time.Minute); err != nil {
						t.Fatalf("step %d set: %v", i, err)
					}
				case "del":
					if err := c.Delete(ctx, st.key); err != nil {
						t.Fatalf("step %d delete: %v", i, err)
					}
				case "get":
					got, found, err := c.Get(ctx, st.key)
					if err != nil {
						t.Fatalf("step %d get: %v", i, err)
					}
					switch {
					case st.want == nil && found:
						t.Fatalf("step %d: want miss, got %q", i, got)
					case st.want != nil && !found:
						t.Fatalf("step %d: want %q, got miss", i, *st.want)
					case st.want != nil && string(got) != *st.want:
						t.Fatalf("step %d: got %q, want %q", i, got, *st.want)
					}
				}
			}
		})
	}

	t.Run("json helpers", func(t *testing.T) {
		type result struct {
			Answer string `json:"answer"`
		}
		key := cache.ResultKey("ct-json")
		if err := cache.SetJSON(ctx, c, key, result{Answer: "42"}, time.Minute); err != nil {
			t.Fatal(err)
		}
		var got result
		if found, err := cache.GetJSON(ctx, c, key, &got); err != nil || !found || got.Answer != "42" {
			t.Fatalf("GetJSON = %+v found=%v err=%v", got, found, err)
		}
		if found, err := cache.GetJSON(ctx, c, cache.ResultKey("ct-json-missing"), &got); err != nil || found {
			t.Fatalf("GetJSON miss found=%v err=%v", found, err)
		}
	})
}
