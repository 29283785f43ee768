// ABOUTME: Runtime configuration: output strategies, plugin/step specs, whole-batch settings.
// ABOUTME: Steps are resolved per row at dequeue time because templates depend on row contents.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

// OutputMode says what to do with a production (plugin packet or model
// result) relative to the current row.
type OutputMode string

const (
	// OutputMerge shallow-merges the production object into the row.
	OutputMerge OutputMode = "merge"
	// OutputColumn writes the production to a named column.
	OutputColumn OutputMode = "column"
	// OutputIgnore discards the production; the row passes through unchanged.
	OutputIgnore OutputMode = "ignore"
)

// OutputStrategy controls how a production reshapes the row set.
type OutputStrategy struct {
	Mode    OutputMode `yaml:"mode"`
	Column  string     `yaml:"column"`
	Explode bool       `yaml:"explode"`
}

// Validate checks structural constraints on the strategy.
func (s OutputStrategy) Validate() error {
	switch s.Mode {
	case OutputMerge, OutputIgnore:
	case OutputColumn:
		if s.Column == "" {
			return NewConfigurationError("output strategy mode %q requires a column name", s.Mode)
		}
	case "":
		return NewConfigurationError("output strategy mode is required (merge, column, or ignore)")
	default:
		return NewConfigurationError("unknown output strategy mode %q", s.Mode)
	}
	return nil
}

// PluginSpec names one plugin invocation within a step, with its raw config
// and the strategy applied to its packets. The config is an opaque map; each
// plugin validates its own variant at resolve time.
type PluginSpec struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
	Output OutputStrategy `yaml:"output"`
}

// StepSpec is the raw, template-bearing definition of one step. Prompt,
// output column, and schema path may reference row columns and are expanded
// per row when the step is resolved.
type StepSpec struct {
	Prompt         string         `yaml:"prompt"`
	System         string         `yaml:"system"`
	Model          ModelSettings  `yaml:"model"`
	Plugins        []PluginSpec   `yaml:"plugins"`
	Output         OutputStrategy `yaml:"output"`
	OutputColumn   string         `yaml:"output_column"`
	SchemaPath     string         `yaml:"schema"`
	VerifyCommand  string         `yaml:"verify_command"`
	Candidates     int            `yaml:"candidates"`
	JudgeModel     string         `yaml:"judge_model"`
	FeedbackLoops  int            `yaml:"feedback_loops"`
	UseImageSearch bool           `yaml:"use_image_search"`
	// ImageSearchLimit caps how many hits the search collaborator returns
	// per query; 0 means the strategy default.
	ImageSearchLimit int           `yaml:"image_search_limit"`
	MaxRetries       int           `yaml:"max_retries"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RuntimeConfig is the whole-batch configuration, owned by the caller and
// read-only to the engine.
type RuntimeConfig struct {
	// Concurrency bounds in-flight model calls.
	Concurrency int `yaml:"concurrency"`
	// TaskConcurrency bounds concurrently executing (item, step) tasks.
	TaskConcurrency int           `yaml:"task_concurrency"`
	Steps           []StepSpec    `yaml:"steps"`
	OutputPath      string        `yaml:"output"`
	ArtifactDir     string        `yaml:"artifact_dir"`
	Rows            []Row         `yaml:"-"`
}

const (
	defaultTaskConcurrency  = 8
	defaultModelConcurrency = 4
	defaultMaxRetries       = 3
)

// LoadConfig reads a RuntimeConfig from a YAML file. Input rows are loaded
// separately (batchio) and attached by the caller.
func LoadConfig(path string) (*RuntimeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg RuntimeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole-batch configuration before any row is queued.
// The output_column shorthand is normalized into a column strategy here. A
// step declaring neither a strategy nor a column defaults to ignore: the
// model result lands in the conversation history only, so plain-text steps
// without a target column pass rows through instead of failing a merge.
func (rc *RuntimeConfig) Validate() error {
	if len(rc.Steps) == 0 {
		return NewConfigurationError("pipeline has no steps")
	}
	for i := range rc.Steps {
		step := &rc.Steps[i]
		if step.Output.Mode == "" {
			if step.OutputColumn != "" {
				// Preserve an explode flag set alongside the shorthand.
				step.Output.Mode = OutputColumn
				step.Output.Column = step.OutputColumn
			} else {
				step.Output.Mode = OutputIgnore
			}
		}
		if err := step.Output.Validate(); err != nil {
			return NewConfigurationError("step %d: %v", i, err)
		}
		for _, p := range step.Plugins {
			if p.Name == "" {
				return NewConfigurationError("step %d: plugin with no name", i)
			}
			if err := p.Output.Validate(); err != nil {
				return NewConfigurationError("step %d plugin %q: %v", i, p.Name, err)
			}
		}
	}
	return nil
}

// PluginInvocation is one resolved plugin call within a StepDefinition.
type PluginInvocation struct {
	Name   string
	Config map[string]any
	Output OutputStrategy
}

// StepDefinition is a StepSpec resolved against one row: templates expanded,
// schema loaded and compiled, defaults applied.
type StepDefinition struct {
	Index            int
	Prompt           string
	System           string
	Model            ModelSettings
	Plugins          []PluginInvocation
	Output           OutputStrategy
	OutputColumn     string
	Schema           *jsonschema.Resolved
	SchemaRaw        json.RawMessage
	VerifyCommand    string
	Candidates       int
	JudgeModel       string
	FeedbackLoops    int
	UseImageSearch   bool
	ImageSearchLimit int
	MaxRetries       int
	Timeout          time.Duration
}

// ResolveStep expands a StepSpec against the view context built from one
// row. Called once per row per step at dequeue time.
func ResolveStep(spec StepSpec, index int, view map[string]any) (*StepDefinition, error) {
	prompt, err := renderTemplate("prompt", spec.Prompt, view)
	if err != nil {
		return nil, NewConfigurationError("step %d prompt: %v", index, err)
	}
	outputColumn, err := renderTemplate("output_column", spec.OutputColumn, view)
	if err != nil {
		return nil, NewConfigurationError("step %d output column: %v", index, err)
	}
	output := spec.Output
	if output.Column != "" {
		rendered, err := renderTemplate("output_column", output.Column, view)
		if err != nil {
			return nil, NewConfigurationError("step %d output column: %v", index, err)
		}
		output.Column = rendered
	}
	schemaPath, err := renderTemplate("schema", spec.SchemaPath, view)
	if err != nil {
		return nil, NewConfigurationError("step %d schema path: %v", index, err)
	}

	def := &StepDefinition{
		Index:            index,
		Prompt:           prompt,
		System:           spec.System,
		Model:            spec.Model,
		Output:           output,
		OutputColumn:     outputColumn,
		VerifyCommand:    spec.VerifyCommand,
		Candidates:       spec.Candidates,
		JudgeModel:       spec.JudgeModel,
		FeedbackLoops:    spec.FeedbackLoops,
		UseImageSearch:   spec.UseImageSearch,
		ImageSearchLimit: spec.ImageSearchLimit,
		MaxRetries:       spec.MaxRetries,
		Timeout:          spec.Timeout,
	}
	if def.MaxRetries <= 0 {
		def.MaxRetries = defaultMaxRetries
	}

	if schemaPath != "" {
		raw, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, NewConfigurationError("step %d: read schema %q: %v", index, schemaPath, err)
		}
		resolved, err := CompileSchema(raw)
		if err != nil {
			return nil, NewConfigurationError("step %d: schema %q: %v", index, schemaPath, err)
		}
		def.Schema = resolved
		def.SchemaRaw = raw
	}

	for _, p := range spec.Plugins {
		cfg, err := renderConfigTemplates(p.Config, view)
		if err != nil {
			return nil, NewConfigurationError("step %d plugin %q: %v", index, p.Name, err)
		}
		def.Plugins = append(def.Plugins, PluginInvocation{
			Name:   p.Name,
			Config: cfg,
			Output: p.Output,
		})
	}

	return def, nil
}

// CompileSchema parses and resolves a raw JSON schema.
func CompileSchema(raw []byte) (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return resolved, nil
}
