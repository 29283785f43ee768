// ABOUTME: Tests for the capability-aware plugin registry.
// ABOUTME: Covers refusal on missing capabilities, duplicate names, and lookup.
package pipeline

import (
	"errors"
	"net/http"
	"testing"
)

func TestRegistryRefusesMissingCapability(t *testing.T) {
	registry := NewRegistry(&Services{}) // no capabilities at all
	err := registry.Register(&fakePlugin{name: "crawler", requires: []Capability{CapabilityBrowser}})

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if _, err := registry.Get("crawler"); err == nil {
		t.Error("refused plugin should not be registered")
	}
}

func TestRegistryAcceptsSatisfiedCapabilities(t *testing.T) {
	registry := NewRegistry(&Services{
		Models:     fixedFactory(echoCaller()),
		HTTPClient: http.DefaultClient,
	})
	p := &fakePlugin{name: "fetcher", requires: []Capability{CapabilityModelFactory, CapabilityHTTPFetch}}
	if err := registry.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := registry.Get("fetcher")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "fetcher" {
		t.Errorf("Get returned %q", got.Name())
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry(&Services{})
	if err := registry.Register(&fakePlugin{name: "p"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := registry.Register(&fakePlugin{name: "p"})
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("duplicate Register err = %v, want ConfigurationError", err)
	}
}

func TestServicesHas(t *testing.T) {
	var nilServices *Services
	if nilServices.Has(CapabilityHTTPFetch) {
		t.Error("nil services should have no capabilities")
	}

	s := &Services{ImageSearch: &fakeImageSearch{}}
	if !s.Has(CapabilityImageSearch) {
		t.Error("image search capability should be present")
	}
	if s.Has(CapabilityWebSearch) {
		t.Error("web search capability should be absent")
	}
}
