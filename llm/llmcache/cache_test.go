// ABOUTME: Tests for the SQLite response cache: keying, round trip, middleware behavior.
package llmcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/2389-research/stampede/llm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRequest(salt string) llm.Request {
	return llm.Request{
		Model:     "m-1",
		Messages:  []llm.Message{llm.UserMessage("hello")},
		CacheSalt: salt,
	}
}

func TestKeyIsDeterministicAndSaltSensitive(t *testing.T) {
	a := Key(sampleRequest(""))
	b := Key(sampleRequest(""))
	if a != b {
		t.Errorf("same request produced different keys: %s vs %s", a, b)
	}
	if Key(sampleRequest("salted")) == a {
		t.Error("cache salt did not change the key")
	}

	other := sampleRequest("")
	other.Messages = []llm.Message{llm.UserMessage("different")}
	if Key(other) == a {
		t.Error("different messages produced the same key")
	}
}

func TestGetMissReturnsNil(t *testing.T) {
	store := openTestStore(t)
	resp, err := store.Get("absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp != nil {
		t.Errorf("miss returned %+v", resp)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	key := Key(sampleRequest(""))
	want := &llm.Response{Text: "cached answer", Model: "m-1", Usage: llm.Usage{InputTokens: 5, OutputTokens: 9}}

	if err := store.Put(key, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Text != want.Text || got.Usage.OutputTokens != 9 {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestMiddlewareServesHitsAndStoresMisses(t *testing.T) {
	store := openTestStore(t)
	mw := store.Middleware()

	calls := 0
	next := func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		calls++
		return &llm.Response{Text: "fresh"}, nil
	}

	req := sampleRequest("")
	first, err := mw(context.Background(), req, next)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := mw(context.Background(), req, next)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if calls != 1 {
		t.Errorf("provider called %d times, want 1 (second call served from cache)", calls)
	}
	if first.Text != "fresh" || second.Text != "fresh" {
		t.Errorf("responses = %q / %q", first.Text, second.Text)
	}
}
