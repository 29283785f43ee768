// ABOUTME: Flag parsing for the generate command, including per-step overrides.
// ABOUTME: Overrides use the -<flag>-<stepIndex> convention and are registered by pre-scanning argv.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/2389-research/stampede/pipeline"
)

// generateConfig holds everything the generate command parsed from flags and
// positional arguments.
type generateConfig struct {
	dataFile    string
	promptFiles []string
	configFile  string

	concurrency     int
	taskConcurrency int
	model           string
	system          string
	schemaPath      string
	verifyCommand   string
	candidates      int
	judgeModel      string
	feedbackLoops   int
	aspectRatio     string
	maxRetries      int
	timeout         time.Duration
	outputColumn    string
	explode         bool

	outputPath  string
	artifactDir string
	cachePath   string
	baseURL     string
	verbose     bool

	overrides []stepOverride
}

// stepOverride is one -<flag>-<stepIndex> value parsed from argv.
type stepOverride struct {
	flag  string
	step  int
	value string
}

// overridableFlags are the per-step override targets. -candidates-2 sets
// candidates for step 2 only.
var overridableFlags = map[string]bool{
	"model":          true,
	"system":         true,
	"schema":         true,
	"verify-command": true,
	"candidates":     true,
	"judge-model":    true,
	"feedback-loops": true,
	"aspect-ratio":   true,
	"max-retries":    true,
	"timeout":        true,
	"output-column":  true,
	"explode":        true,
}

var overridePattern = regexp.MustCompile(`^--?([a-z-]+)-(\d+)(?:=(.*))?$`)

// parseGenerateArgs parses the generate command's arguments. Positional
// arguments are the data file followed by one or more prompt template files
// (one step per file); -config replaces the prompt files with a YAML
// pipeline definition.
func parseGenerateArgs(args []string) (*generateConfig, error) {
	cfg := &generateConfig{}

	static, overrides, err := extractOverrides(args)
	if err != nil {
		return nil, err
	}
	cfg.overrides = overrides

	fs := flag.NewFlagSet("stampede generate", flag.ContinueOnError)
	fs.StringVar(&cfg.configFile, "config", "", "YAML pipeline definition (replaces prompt files)")
	fs.IntVar(&cfg.concurrency, "concurrency", 0, "Max in-flight model calls")
	fs.IntVar(&cfg.taskConcurrency, "task-concurrency", 0, "Max concurrently executing tasks")
	fs.StringVar(&cfg.model, "model", "", "Model id for all steps")
	fs.StringVar(&cfg.system, "system", "", "System prompt for all steps")
	fs.StringVar(&cfg.schemaPath, "schema", "", "JSON schema file validating replies")
	fs.StringVar(&cfg.verifyCommand, "verify-command", "", "Shell command verifying replies (reply on stdin)")
	fs.IntVar(&cfg.candidates, "candidates", 0, "Parallel candidate generations per call")
	fs.StringVar(&cfg.judgeModel, "judge-model", "", "Model id judging candidates")
	fs.IntVar(&cfg.feedbackLoops, "feedback-loops", 0, "Critique-and-regenerate rounds")
	fs.StringVar(&cfg.aspectRatio, "aspect-ratio", "", "Aspect ratio instruction for image output")
	fs.IntVar(&cfg.maxRetries, "max-retries", 0, "Total model calls allowed per validation loop")
	fs.DurationVar(&cfg.timeout, "timeout", 0, "Per-step task timeout")
	fs.StringVar(&cfg.outputColumn, "output-column", "", "Column receiving each step's result")
	fs.BoolVar(&cfg.explode, "explode", false, "Branch rows on multi-valued results")
	fs.StringVar(&cfg.outputPath, "output", "output.json", "Result file (.json or .csv)")
	fs.StringVar(&cfg.artifactDir, "artifact-dir", "", "Directory for artifact events")
	fs.StringVar(&cfg.cachePath, "cache", "", "SQLite response cache path")
	fs.StringVar(&cfg.baseURL, "base-url", "", "Custom API base URL for the model provider")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Log lifecycle events to stderr")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(static); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return nil, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return nil, fmt.Errorf("generate requires a data file")
	}
	cfg.dataFile = rest[0]
	cfg.promptFiles = rest[1:]

	if cfg.configFile == "" && len(cfg.promptFiles) == 0 {
		return nil, fmt.Errorf("generate requires prompt template files or -config")
	}
	if cfg.configFile != "" && len(cfg.promptFiles) > 0 {
		return nil, fmt.Errorf("-config and prompt files are mutually exclusive")
	}
	return cfg, nil
}

// extractOverrides splits argv into ordinary flags and per-step overrides.
// Overrides match -<name>-<index> where <name> is an overridable flag; the
// value is either attached with = or taken from the next argument.
func extractOverrides(args []string) (static []string, overrides []stepOverride, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		m := overridePattern.FindStringSubmatch(arg)
		if m == nil || !overridableFlags[m[1]] {
			static = append(static, arg)
			continue
		}
		step, convErr := strconv.Atoi(m[2])
		if convErr != nil {
			static = append(static, arg)
			continue
		}

		value := m[3]
		if !strings.Contains(arg, "=") {
			if m[1] == "explode" {
				value = "true"
			} else {
				if i+1 >= len(args) {
					return nil, nil, fmt.Errorf("flag %s needs a value", arg)
				}
				i++
				value = args[i]
			}
		}
		overrides = append(overrides, stepOverride{flag: m[1], step: step, value: value})
	}
	return static, overrides, nil
}

// buildRuntimeConfig assembles the pipeline configuration: either the YAML
// definition or one step per prompt file, then global flags and per-step
// overrides applied in that order.
func (cfg *generateConfig) buildRuntimeConfig() (*pipeline.RuntimeConfig, error) {
	var runtime *pipeline.RuntimeConfig
	if cfg.configFile != "" {
		loaded, err := pipeline.LoadConfig(cfg.configFile)
		if err != nil {
			return nil, err
		}
		runtime = loaded
	} else {
		runtime = &pipeline.RuntimeConfig{}
		for _, path := range cfg.promptFiles {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read prompt template: %w", err)
			}
			runtime.Steps = append(runtime.Steps, pipeline.StepSpec{
				Prompt: strings.TrimSpace(string(raw)),
			})
		}
	}

	if cfg.concurrency > 0 {
		runtime.Concurrency = cfg.concurrency
	}
	if cfg.taskConcurrency > 0 {
		runtime.TaskConcurrency = cfg.taskConcurrency
	}
	if cfg.artifactDir != "" {
		runtime.ArtifactDir = cfg.artifactDir
	}
	runtime.OutputPath = cfg.outputPath

	for i := range runtime.Steps {
		cfg.applyGlobals(&runtime.Steps[i])
	}
	for _, ov := range cfg.overrides {
		if ov.step < 0 || ov.step >= len(runtime.Steps) {
			return nil, fmt.Errorf("override -%s-%d: no step %d", ov.flag, ov.step, ov.step)
		}
		if err := applyOverride(&runtime.Steps[ov.step], ov); err != nil {
			return nil, err
		}
	}
	return runtime, nil
}

// applyGlobals fills unset step fields from the whole-batch flags.
func (cfg *generateConfig) applyGlobals(step *pipeline.StepSpec) {
	if step.Model.Model == "" {
		step.Model.Model = cfg.model
	}
	if step.Model.AspectRatio == "" {
		step.Model.AspectRatio = cfg.aspectRatio
	}
	if step.System == "" {
		step.System = cfg.system
	}
	if step.SchemaPath == "" {
		step.SchemaPath = cfg.schemaPath
	}
	if step.VerifyCommand == "" {
		step.VerifyCommand = cfg.verifyCommand
	}
	if step.Candidates == 0 {
		step.Candidates = cfg.candidates
	}
	if step.JudgeModel == "" {
		step.JudgeModel = cfg.judgeModel
	}
	if step.FeedbackLoops == 0 {
		step.FeedbackLoops = cfg.feedbackLoops
	}
	if step.MaxRetries == 0 {
		step.MaxRetries = cfg.maxRetries
	}
	if step.Timeout == 0 {
		step.Timeout = cfg.timeout
	}
	if step.OutputColumn == "" {
		step.OutputColumn = cfg.outputColumn
	}
	if cfg.explode {
		step.Output.Explode = true
	}
}

// applyOverride sets one per-step field from its override value.
func applyOverride(step *pipeline.StepSpec, ov stepOverride) error {
	switch ov.flag {
	case "model":
		step.Model.Model = ov.value
	case "system":
		step.System = ov.value
	case "schema":
		step.SchemaPath = ov.value
	case "verify-command":
		step.VerifyCommand = ov.value
	case "judge-model":
		step.JudgeModel = ov.value
	case "aspect-ratio":
		step.Model.AspectRatio = ov.value
	case "output-column":
		step.OutputColumn = ov.value
	case "candidates", "feedback-loops", "max-retries":
		n, err := strconv.Atoi(ov.value)
		if err != nil {
			return fmt.Errorf("override -%s-%d: %q is not a number", ov.flag, ov.step, ov.value)
		}
		switch ov.flag {
		case "candidates":
			step.Candidates = n
		case "feedback-loops":
			step.FeedbackLoops = n
		case "max-retries":
			step.MaxRetries = n
		}
	case "timeout":
		d, err := time.ParseDuration(ov.value)
		if err != nil {
			return fmt.Errorf("override -%s-%d: %q is not a duration", ov.flag, ov.step, ov.value)
		}
		step.Timeout = d
	case "explode":
		v, err := strconv.ParseBool(ov.value)
		if err != nil {
			return fmt.Errorf("override -%s-%d: %q is not a bool", ov.flag, ov.step, ov.value)
		}
		step.Output.Explode = v
	default:
		return fmt.Errorf("unknown override flag %q", ov.flag)
	}
	return nil
}
