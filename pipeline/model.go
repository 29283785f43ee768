// ABOUTME: Model-caller contract consumed by strategies and the validation loop.
// ABOUTME: Defines the factory through which steps obtain bound callers for their model settings.
package pipeline

import (
	"context"

	"github.com/2389-research/stampede/llm"
)

// ModelCaller issues one model request for a prepared conversation and
// returns the reply text. *llm.BoundClient satisfies this; tests substitute
// fakes.
type ModelCaller interface {
	PromptText(ctx context.Context, msgs []llm.Message) (string, error)
}

// ModelSettings are the per-step model knobs resolved into a StepDefinition.
type ModelSettings struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	Effort      string   `yaml:"effort"`
	AspectRatio string   `yaml:"aspect_ratio"`
	CacheSalt   string   `yaml:"cache_salt"`
}

// CallerFactory produces a bound caller for the given settings. The engine
// resolves one caller per step execution so steps can run different models.
type CallerFactory func(settings ModelSettings) (ModelCaller, error)
