// ABOUTME: Client infrastructure with provider routing, functional options, and a middleware chain.
// ABOUTME: Middleware wraps Complete calls (caching, logging); providers register behind ProviderAdapter.
package llm

import (
	"context"
	"fmt"
)

// ProviderAdapter translates provider-agnostic requests into one provider's
// API and back.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// Middleware wraps a completion call, enabling caching, logging, and other
// cross-cutting concerns. Registration order is outermost-first.
type Middleware func(ctx context.Context, req Request, next NextFunc) (*Response, error)

// NextFunc continues the middleware chain.
type NextFunc func(ctx context.Context, req Request) (*Response, error)

// Client routes completion requests to provider adapters through the
// middleware chain.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithProvider registers an adapter under the given name. The first provider
// registered becomes the default if none has been set.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
		if c.defaultProvider == "" {
			c.defaultProvider = name
		}
	}
}

// WithDefaultProvider sets the provider used when a Request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware appends middleware to the chain. The first registered runs
// outermost: first on the way in, last on the way out.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a Client with the given options applied.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{providers: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolveProvider picks the adapter for a request: the request's Provider
// field when set, the default otherwise.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError{
			Message: "no provider specified and no default provider configured",
		}}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{ClientError{
			Message: fmt.Sprintf("provider %q not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a request through the middleware chain to the resolved
// provider adapter, with transport-level retry around the provider call.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	handler := func(ctx context.Context, req Request) (*Response, error) {
		adapter, err := c.resolveProvider(req)
		if err != nil {
			return nil, err
		}
		var resp *Response
		retryErr := Retry(ctx, DefaultRetryPolicy(), func() error {
			var callErr error
			resp, callErr = adapter.Complete(ctx, req)
			return callErr
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return resp, nil
	}

	chain := handler
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := chain
		chain = func(ctx context.Context, req Request) (*Response, error) {
			return mw(ctx, req, next)
		}
	}

	return chain(ctx, req)
}

// Close shuts down all registered adapters, combining any errors.
func (c *Client) Close() error {
	var combined error
	for name, adapter := range c.providers {
		if err := adapter.Close(); err != nil {
			if combined == nil {
				combined = fmt.Errorf("closing provider %q: %w", name, err)
			} else {
				combined = fmt.Errorf("%w; closing provider %q: %v", combined, name, err)
			}
		}
	}
	return combined
}
