// ABOUTME: Tests for the client: provider routing, middleware order, retry passthrough.
// ABOUTME: Uses a scripted fake adapter; no network.
package llm

import (
	"context"
	"errors"
	"testing"
)

// fakeAdapter is a scripted ProviderAdapter.
type fakeAdapter struct {
	name    string
	calls   int
	closed  bool
	respond func(req Request) (*Response, error)
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}
func (f *fakeAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	if f.respond != nil {
		return f.respond(req)
	}
	return &Response{Text: "ok", Model: req.Model}, nil
}

func TestCompleteRoutesToDefaultProvider(t *testing.T) {
	adapter := &fakeAdapter{name: "fake"}
	client := NewClient(WithProvider("fake", adapter))

	resp, err := client.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" || adapter.calls != 1 {
		t.Errorf("resp = %+v, calls = %d", resp, adapter.calls)
	}
}

func TestCompleteExplicitProviderWins(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	b := &fakeAdapter{name: "b"}
	client := NewClient(WithProvider("a", a), WithProvider("b", b), WithDefaultProvider("a"))

	if _, err := client.Complete(context.Background(), Request{Provider: "b"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if a.calls != 0 || b.calls != 1 {
		t.Errorf("calls a=%d b=%d, want 0/1", a.calls, b.calls)
	}
}

func TestCompleteUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("fake", &fakeAdapter{name: "fake"}))
	_, err := client.Complete(context.Background(), Request{Provider: "ghost"})
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(ctx context.Context, req Request, next NextFunc) (*Response, error) {
			order = append(order, name+":in")
			resp, err := next(ctx, req)
			order = append(order, name+":out")
			return resp, err
		}
	}

	client := NewClient(
		WithProvider("fake", &fakeAdapter{name: "fake"}),
		WithMiddleware(mark("outer"), mark("inner")),
	)
	if _, err := client.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []string{"outer:in", "inner:in", "inner:out", "outer:out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestMiddlewareCanShortCircuit(t *testing.T) {
	adapter := &fakeAdapter{name: "fake"}
	cacheHit := func(ctx context.Context, req Request, next NextFunc) (*Response, error) {
		return &Response{Text: "cached"}, nil
	}
	client := NewClient(WithProvider("fake", adapter), WithMiddleware(cacheHit))

	resp, err := client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "cached" || adapter.calls != 0 {
		t.Errorf("short circuit failed: resp=%+v calls=%d", resp, adapter.calls)
	}
}

func TestCompleteRetriesRetryableProviderErrors(t *testing.T) {
	attempts := 0
	adapter := &fakeAdapter{name: "fake", respond: func(req Request) (*Response, error) {
		attempts++
		if attempts == 1 {
			return nil, newProviderError("fake", 503, "overloaded", nil)
		}
		return &Response{Text: "recovered"}, nil
	}}
	client := NewClient(WithProvider("fake", adapter))

	resp, err := client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "recovered" || attempts != 2 {
		t.Errorf("resp = %+v, attempts = %d", resp, attempts)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	adapter := &fakeAdapter{name: "fake", respond: func(req Request) (*Response, error) {
		attempts++
		return nil, newProviderError("fake", 400, "bad request", nil)
	}}
	client := NewClient(WithProvider("fake", adapter))

	if _, err := client.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

func TestCloseShutsDownProviders(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	b := &fakeAdapter{name: "b"}
	client := NewClient(WithProvider("a", a), WithProvider("b", b))
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("adapters not closed")
	}
}
