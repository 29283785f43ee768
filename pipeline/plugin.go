// ABOUTME: Plugin contract, capability declarations, and the capability-aware plugin registry.
// ABOUTME: Registration fails fast when a plugin requires a capability the host cannot supply.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Capability names a host service a plugin may depend on. Plugins declare
// what they require; the registry refuses plugins whose requirements the
// host cannot meet (e.g. a search API key is absent).
type Capability string

const (
	CapabilityModelFactory Capability = "model_factory"
	CapabilityHTTPFetch    Capability = "http_fetch"
	CapabilityBrowser      Capability = "browser"
	CapabilityImageSearch  Capability = "image_search"
	CapabilityWebSearch    Capability = "web_search"
)

// ImageResult is one hit from an image search collaborator.
type ImageResult struct {
	URL       string
	ThumbURL  string
	Title     string
	SourceURL string
	Width     int
	Height    int
}

// ImageSearcher is the image search collaborator consumed by the
// image-search strategy and by image-driven plugins.
type ImageSearcher interface {
	SearchImages(ctx context.Context, query string, limit int) ([]ImageResult, error)
}

// WebResult is one hit from a web search collaborator.
type WebResult struct {
	URL     string
	Title   string
	Snippet string
}

// WebSearcher is the web search collaborator.
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string, limit int) ([]WebResult, error)
}

// BrowserDriver abstracts the headless-browser collaborator for crawling
// plugins.
type BrowserDriver interface {
	FetchRendered(ctx context.Context, url string) (html string, err error)
}

// Services is the capability set the host exposes to plugins. Nil fields
// mean the capability is unavailable.
type Services struct {
	Models      CallerFactory
	HTTPClient  *http.Client
	Browser     BrowserDriver
	ImageSearch ImageSearcher
	WebSearch   WebSearcher
}

// Has reports whether the named capability is available.
func (s *Services) Has(c Capability) bool {
	if s == nil {
		return false
	}
	switch c {
	case CapabilityModelFactory:
		return s.Models != nil
	case CapabilityHTTPFetch:
		return s.HTTPClient != nil
	case CapabilityBrowser:
		return s.Browser != nil
	case CapabilityImageSearch:
		return s.ImageSearch != nil
	case CapabilityWebSearch:
		return s.WebSearch != nil
	}
	return false
}

// Packet is one plugin result unit. Packet count drives branching: zero
// packets filters the row out, one enriches it, N explodes it.
type Packet struct {
	Data         any
	ContentParts []string
}

// PluginResult is everything a plugin produced for one execution.
type PluginResult struct {
	Packets []Packet
}

// PluginContext supplies a plugin execution with the row, step position,
// working directories, and the host capability set.
type PluginContext struct {
	Row       Row
	Index     int
	StepIndex int
	OutputDir string
	TempDir   string
	Services  *Services
	Model     ModelSettings
	// Artifact publishes an artifact event for bus subscribers (file
	// writers, archivers). Persistence happens off the task's critical
	// path. May be nil when the plugin runs outside an engine.
	Artifact func(name string, payload any)
}

// Plugin is a self-contained content-gathering operation executed before a
// step's model call.
type Plugin interface {
	// Name is the identifier steps use to invoke this plugin.
	Name() string
	// Requires lists the capabilities this plugin needs at execute time.
	Requires() []Capability
	// ResolveConfig validates and types the raw config for one invocation.
	// It runs per row, after template expansion.
	ResolveConfig(raw map[string]any, row Row, inherited ModelSettings) (any, error)
	// Execute performs the operation and returns zero or more packets.
	Execute(ctx context.Context, config any, pctx *PluginContext) (*PluginResult, error)
}

// Registry holds registered plugins, checked against the host capability
// set at registration time.
type Registry struct {
	mu       sync.RWMutex
	services *Services
	plugins  map[string]Plugin
}

// NewRegistry creates a registry backed by the given capability set.
func NewRegistry(services *Services) *Registry {
	return &Registry{
		services: services,
		plugins:  make(map[string]Plugin),
	}
}

// Register adds a plugin. It returns a ConfigurationError if any required
// capability is unavailable, so misconfiguration surfaces at startup rather
// than mid-batch.
func (r *Registry) Register(p Plugin) error {
	for _, required := range p.Requires() {
		if !r.services.Has(required) {
			return NewConfigurationError("plugin %q requires capability %q which is not configured", p.Name(), required)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name()]; exists {
		return NewConfigurationError("plugin %q is already registered", p.Name())
	}
	r.plugins[p.Name()] = p
	return nil
}

// Get returns the plugin registered under name, or an error naming it.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q is not registered", name)
	}
	return p, nil
}

// Names returns the registered plugin names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// Services returns the host capability set used by this registry.
func (r *Registry) Services() *Services {
	return r.services
}
