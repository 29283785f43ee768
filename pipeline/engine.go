// ABOUTME: The pipeline engine: schedules (branch, step) tasks under the task gate,
// ABOUTME: runs plugin chains and model strategies, and isolates failures per row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/2389-research/stampede/llm"
)

// RunResult is the outcome of a batch: final rows ordered by original input
// index, plus at most one error per failed input row.
type RunResult struct {
	Results []Row
	Errors  []RowError
}

// Engine drives rows through the configured step sequence. One Engine serves
// one Run at a time; construct it once with the host collaborators and call
// Run per batch.
type Engine struct {
	registry *Registry
	factory  CallerFactory
	bus      *Bus
	workDir  string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBus attaches an event bus; lifecycle events are published to it.
func WithBus(bus *Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithWorkDir sets the directory verify commands run in. Defaults to the
// process working directory.
func WithWorkDir(dir string) EngineOption {
	return func(e *Engine) { e.workDir = dir }
}

// NewEngine creates an engine around a plugin registry and a model caller
// factory.
func NewEngine(registry *Registry, factory CallerFactory, opts ...EngineOption) *Engine {
	e := &Engine{registry: registry, factory: factory}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// branchContext is one active context within a task: a row plus the content
// accumulated for it so far this step. Plugin fan-out multiplies contexts
// mid-step; the model phase runs once per surviving context.
type branchContext struct {
	row     Row
	content *contentNode
	records []StepRecord
}

// runState is the mutable shared state of one Run.
type runState struct {
	mu       sync.Mutex
	results  []resultRow
	errors   []RowError
	failed   map[int]bool // original indexes that already carry a RowError
	branches map[int]int  // outstanding branch count per original index
	wg       sync.WaitGroup
}

type resultRow struct {
	index int
	row   Row
}

// Run executes the batch and returns final rows plus per-row errors. A
// non-nil error return means startup validation failed and nothing ran;
// row-level failures are reported in RunResult.Errors instead.
func (e *Engine) Run(ctx context.Context, cfg *RuntimeConfig) (*RunResult, error) {
	if err := e.validateStartup(cfg); err != nil {
		return nil, err
	}

	taskLimit := cfg.TaskConcurrency
	if taskLimit <= 0 {
		taskLimit = defaultTaskConcurrency
	}
	modelLimit := cfg.Concurrency
	if modelLimit <= 0 {
		modelLimit = defaultModelConcurrency
	}
	gates := NewGates(taskLimit, modelLimit)

	services := e.registry.Services()
	executor := &StepExecutor{Factory: e.factory, Gates: gates}
	if services != nil {
		executor.ImageSearch = services.ImageSearch
	}

	tempDir, err := os.MkdirTemp("", "stampede-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	state := &runState{
		failed:   make(map[int]bool),
		branches: make(map[int]int),
	}

	run := &runContext{
		engine:   e,
		cfg:      cfg,
		gates:    gates,
		executor: executor,
		services: services,
		state:    state,
		tempDir:  tempDir,
	}

	for i, row := range cfg.Rows {
		state.mu.Lock()
		state.branches[i] = 1
		state.mu.Unlock()
		e.publish(Event{Type: EventRowStart, RowIndex: i, StepIndex: -1})
		run.schedule(ctx, NewPipelineItem(row.Clone(), i), 0)
	}

	state.wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()
	sort.SliceStable(state.results, func(a, b int) bool {
		return state.results[a].index < state.results[b].index
	})
	out := &RunResult{Errors: state.errors}
	out.Results = make([]Row, len(state.results))
	for i, r := range state.results {
		out.Results[i] = r.row
	}
	sort.Slice(out.Errors, func(a, b int) bool {
		return out.Errors[a].Index < out.Errors[b].Index
	})
	return out, nil
}

// validateStartup fails fast on configuration that would doom every row:
// invalid strategies, unregistered plugins, or an image-search step without
// a search collaborator.
func (e *Engine) validateStartup(cfg *RuntimeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	services := e.registry.Services()
	for i, step := range cfg.Steps {
		if step.UseImageSearch && (services == nil || services.ImageSearch == nil) {
			return NewConfigurationError("step %d requests image search but no image search collaborator is configured", i)
		}
		for _, p := range step.Plugins {
			if _, err := e.registry.Get(p.Name); err != nil {
				return NewConfigurationError("step %d: %v", i, err)
			}
		}
	}
	return nil
}

func (e *Engine) publish(evt Event) {
	e.bus.publish(evt)
}

// runContext carries everything a task needs, so task functions stay small.
type runContext struct {
	engine   *Engine
	cfg      *RuntimeConfig
	gates    *Gates
	executor *StepExecutor
	services *Services
	state    *runState
	tempDir  string
}

// schedule queues one (branch, step) task. The goroutine blocks on the task
// gate before doing any work, so at most taskLimit tasks execute at once.
func (rc *runContext) schedule(ctx context.Context, item *PipelineItem, stepIndex int) {
	rc.state.wg.Add(1)
	go func() {
		defer rc.state.wg.Done()
		if err := rc.gates.Tasks.Acquire(ctx); err != nil {
			rc.finishBranch(item, stepIndex, err)
			return
		}
		defer rc.gates.Tasks.Release()
		rc.runTask(ctx, item, stepIndex)
	}()
}

// runTask executes one step for one branch: resolve, plugins, model phase,
// branch application, then either enqueue successors or record final rows.
// Any error or panic fails the branch without touching its siblings.
func (rc *runContext) runTask(ctx context.Context, item *PipelineItem, stepIndex int) {
	rc.engine.publish(Event{Type: EventStepStart, RowIndex: item.OriginalIndex, StepIndex: stepIndex})

	next, err := rc.executeStep(ctx, item, stepIndex)

	rc.engine.publish(Event{
		Type: EventStepEnd, RowIndex: item.OriginalIndex, StepIndex: stepIndex,
		Data: map[string]any{"branches": len(next), "failed": err != nil},
	})

	if err != nil {
		rc.finishBranch(item, stepIndex, err)
		return
	}

	last := stepIndex == len(rc.cfg.Steps)-1
	rc.retargetBranches(item.OriginalIndex, len(next))
	if len(next) == 0 {
		// Filtered out: the lineage ends with no result and no error.
		return
	}
	for _, successor := range next {
		if last {
			rc.completeBranch(successor)
		} else {
			rc.schedule(ctx, successor, stepIndex+1)
		}
	}
}

// executeStep runs one step for one branch and returns the successor items.
// A nil error with zero successors means the branch was filtered.
func (rc *runContext) executeStep(ctx context.Context, item *PipelineItem, stepIndex int) (items []*PipelineItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %d panicked: %v", stepIndex, r)
		}
	}()

	spec := rc.cfg.Steps[stepIndex]
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
		defer func() {
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				err = &TimeoutError{
					EngineError: EngineError{Message: fmt.Sprintf("step %d exceeded its %s timeout", stepIndex, spec.Timeout)},
					StepIndex:   stepIndex,
				}
			}
		}()
	}

	view := buildView(item)
	def, err := ResolveStep(spec, stepIndex, view)
	if err != nil {
		return nil, err
	}

	contexts, err := rc.runPlugins(ctx, item, def)
	if err != nil {
		return nil, err
	}

	return rc.runModelPhase(ctx, item, def, contexts)
}

// runPlugins executes the step's plugin chain over the active contexts.
// Each plugin's packets fan the contexts out per its output strategy, with
// packet content chained onto the branch's accumulated content.
func (rc *runContext) runPlugins(ctx context.Context, item *PipelineItem, def *StepDefinition) ([]branchContext, error) {
	active := []branchContext{{row: item.Row, content: item.content}}

	for _, inv := range def.Plugins {
		plugin, err := rc.engine.registry.Get(inv.Name)
		if err != nil {
			return nil, NewConfigurationError("step %d: %v", def.Index, err)
		}

		var next []branchContext
		for _, bc := range active {
			result, err := rc.runOnePlugin(ctx, plugin, inv, bc, item, def)
			if err != nil {
				return nil, &PluginExecutionError{
					EngineError: EngineError{
						Message: fmt.Sprintf("plugin %q failed at step %d", inv.Name, def.Index),
						Cause:   err,
					},
					Plugin: inv.Name,
				}
			}

			packets := result.Packets
			if len(packets) == 0 {
				// Filter: this context disappears.
				continue
			}
			if !inv.Output.Explode {
				packets = packets[:1]
			}
			for _, packet := range packets {
				row, err := applyOne(bc.row, packet.Data, inv.Output)
				if err != nil {
					return nil, fmt.Errorf("plugin %q output at step %d: %w", inv.Name, def.Index, err)
				}
				next = append(next, branchContext{
					row:     row,
					content: bc.content.extend(packet.ContentParts),
					records: append(append([]StepRecord{}, bc.records...), StepRecord{
						StepIndex: def.Index,
						Plugin:    inv.Name,
						Result:    packet.Data,
					}),
				})
			}
		}
		active = next
	}

	return active, nil
}

// runOnePlugin resolves one invocation's config and executes the plugin with
// panic recovery, so a broken plugin fails its branch rather than the batch.
func (rc *runContext) runOnePlugin(ctx context.Context, plugin Plugin, inv PluginInvocation, bc branchContext, item *PipelineItem, def *StepDefinition) (result *PluginResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
	}()

	config, err := plugin.ResolveConfig(inv.Config, bc.row, def.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	result, err = plugin.Execute(ctx, config, &PluginContext{
		Row:       bc.row,
		Index:     item.OriginalIndex,
		StepIndex: def.Index,
		OutputDir: rc.cfg.ArtifactDir,
		TempDir:   rc.tempDir,
		Services:  rc.services,
		Model:     def.Model,
		Artifact:  rc.artifactFunc(item.OriginalIndex, def.Index),
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &PluginResult{}
	}
	return result, nil
}

// artifactFunc builds the artifact publisher handed to one plugin
// execution, pre-bound to its row and step position.
func (rc *runContext) artifactFunc(rowIndex, stepIndex int) func(name string, payload any) {
	return func(name string, payload any) {
		rc.engine.publish(Event{
			Type: EventArtifact, RowIndex: rowIndex, StepIndex: stepIndex,
			Data: map[string]any{"name": name, "payload": payload},
		})
	}
}

// runModelPhase runs the step's model call for each surviving context and
// applies the step's output strategy, producing the successor items. A step
// with no prompt skips the model call and passes contexts through.
func (rc *runContext) runModelPhase(ctx context.Context, item *PipelineItem, def *StepDefinition, contexts []branchContext) ([]*PipelineItem, error) {
	type candidate struct {
		row     Row
		turns   []llm.Message
		records []StepRecord
	}
	var produced []candidate

	for _, bc := range contexts {
		if def.Prompt == "" {
			produced = append(produced, candidate{row: bc.row, records: bc.records})
			continue
		}

		res, err := rc.executor.Execute(ctx, &StrategyRequest{
			Row:          bc.row,
			Index:        item.OriginalIndex,
			StepIndex:    def.Index,
			Def:          def,
			History:      item.Conversation,
			ExtraContent: bc.content.collect(),
			WorkDir:      rc.engine.workDir,
		})
		if err != nil {
			return nil, err
		}

		production := res.Output
		if def.Output.Mode == OutputColumn {
			if _, isArr := res.Output.([]any); !isArr {
				production = res.Content
			}
		}
		rows, err := applyToRow(bc.row, production, def.Output)
		if err != nil {
			return nil, fmt.Errorf("step %d output: %w", def.Index, err)
		}

		turns := []llm.Message{llm.UserMessage(res.UserTurn), llm.AssistantMessage(res.AssistantTurn)}
		records := append(append([]StepRecord{}, bc.records...), StepRecord{
			StepIndex: def.Index,
			Result:    res.Output,
		})
		for _, row := range rows {
			produced = append(produced, candidate{row: row, turns: turns, records: records})
		}
	}

	items := make([]*PipelineItem, 0, len(produced))
	for i, c := range produced {
		variation := item.VariationIndex
		if len(produced) > 1 {
			variation = i
		}
		items = append(items, item.advance(c.row, c.turns, c.records, variation))
	}
	return items, nil
}

// retargetBranches adjusts the outstanding-branch count for a lineage after
// a task that produced n successors from one branch.
func (rc *runContext) retargetBranches(originalIndex, n int) {
	rc.state.mu.Lock()
	rc.state.branches[originalIndex] += n - 1
	done := rc.state.branches[originalIndex] == 0
	rc.state.mu.Unlock()
	if done {
		rc.engine.publish(Event{Type: EventRowEnd, RowIndex: originalIndex, StepIndex: -1})
	}
}

// completeBranch records a branch that finished the last step.
func (rc *runContext) completeBranch(item *PipelineItem) {
	rc.state.mu.Lock()
	rc.state.results = append(rc.state.results, resultRow{index: item.OriginalIndex, row: item.Row})
	rc.state.branches[item.OriginalIndex]--
	done := rc.state.branches[item.OriginalIndex] == 0
	rc.state.mu.Unlock()
	if done {
		rc.engine.publish(Event{Type: EventRowEnd, RowIndex: item.OriginalIndex, StepIndex: -1})
	}
}

// finishBranch records a failed branch: its pre-step row falls through to
// the results, and the lineage's first failure becomes its RowError. Later
// failures in the same lineage keep their fallback rows but add no error.
func (rc *runContext) finishBranch(item *PipelineItem, stepIndex int, err error) {
	rc.state.mu.Lock()
	rc.state.results = append(rc.state.results, resultRow{index: item.OriginalIndex, row: item.Row})
	if !rc.state.failed[item.OriginalIndex] {
		rc.state.failed[item.OriginalIndex] = true
		rc.state.errors = append(rc.state.errors, RowError{
			Index:     item.OriginalIndex,
			StepIndex: stepIndex,
			Err:       err,
		})
	}
	rc.state.branches[item.OriginalIndex]--
	done := rc.state.branches[item.OriginalIndex] == 0
	rc.state.mu.Unlock()
	if done {
		rc.engine.publish(Event{Type: EventRowEnd, RowIndex: item.OriginalIndex, StepIndex: -1})
	}
}
