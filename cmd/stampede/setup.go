// ABOUTME: Host wiring for the generate command: model client, cache, registry, event subscribers.
// ABOUTME: All collaborators are constructed here so the engine stays free of process-level concerns.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/stampede/llm"
	"github.com/2389-research/stampede/llm/llmcache"
	"github.com/2389-research/stampede/pipeline"
)

// host bundles the wired collaborators for one run.
type host struct {
	Engine *pipeline.Engine
	RunID  string

	client *llm.Client
	cache  *llmcache.Store
	bus    *pipeline.Bus
	subs   sync.WaitGroup
}

// buildHost wires the model client, optional response cache, plugin
// registry, and event subscribers from the CLI configuration.
func buildHost(cfg *generateConfig, logger *log.Logger) (*host, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("no model API key found; set OPENAI_API_KEY")
	}

	var adapterOpts []llm.OpenAIOption
	if cfg.baseURL != "" {
		adapterOpts = append(adapterOpts, llm.WithOpenAIBaseURL(cfg.baseURL))
	}
	if cfg.model != "" {
		adapterOpts = append(adapterOpts, llm.WithOpenAIDefaultModel(cfg.model))
	}
	adapter := llm.NewOpenAIAdapter(apiKey, adapterOpts...)

	h := &host{RunID: ulid.Make().String()}

	clientOpts := []llm.ClientOption{
		llm.WithProvider("openai", adapter),
		llm.WithDefaultProvider("openai"),
	}
	if cfg.cachePath != "" {
		store, err := llmcache.Open(cfg.cachePath)
		if err != nil {
			return nil, fmt.Errorf("open response cache: %w", err)
		}
		h.cache = store
		clientOpts = append(clientOpts, llm.WithMiddleware(store.Middleware()))
	}
	h.client = llm.NewClient(clientOpts...)

	factory := func(settings pipeline.ModelSettings) (pipeline.ModelCaller, error) {
		return h.client.Bind(llm.BindOptions{
			Model:           settings.Model,
			Temperature:     settings.Temperature,
			ReasoningEffort: settings.Effort,
			CacheSalt:       settings.CacheSalt,
		}), nil
	}

	services := &pipeline.Services{
		Models:     factory,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	registry := pipeline.NewRegistry(services)

	h.bus = pipeline.NewBus()
	if cfg.verbose {
		events := h.bus.Subscribe()
		h.subs.Add(1)
		go func() {
			defer h.subs.Done()
			for evt := range events {
				logger.Printf("%s row=%d step=%d", evt.Type, evt.RowIndex, evt.StepIndex)
			}
		}()
	}
	if cfg.artifactDir != "" {
		writer := &pipeline.ArtifactWriter{BaseDir: cfg.artifactDir}
		events := h.bus.Subscribe()
		h.subs.Add(1)
		go func() {
			defer h.subs.Done()
			if err := writer.Consume(events); err != nil {
				logger.Printf("warning: artifact writer: %v", err)
			}
		}()
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	h.Engine = pipeline.NewEngine(registry, factory,
		pipeline.WithBus(h.bus),
		pipeline.WithWorkDir(wd),
	)
	return h, nil
}

// DrainEvents closes the bus and waits for subscribers to finish.
func (h *host) DrainEvents() {
	h.bus.Close()
	h.subs.Wait()
}

// Close releases the cache and provider connections.
func (h *host) Close() error {
	var firstErr error
	if h.cache != nil {
		if err := h.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if err := h.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
