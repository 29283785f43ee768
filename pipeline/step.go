// ABOUTME: StepExecutor assembles the right strategy for a resolved step and runs it.
// ABOUTME: Model callers are built per step from its settings and wrapped with the model gate.
package pipeline

import (
	"context"
	"fmt"
)

// StepExecutor turns a resolved step definition into a strategy and runs it
// for one branch. It is shared by all tasks; per-step state lives in the
// strategies it builds.
type StepExecutor struct {
	Factory     CallerFactory
	Gates       *Gates
	ImageSearch ImageSearcher
}

// Execute runs the step's model phase for one branch.
func (e *StepExecutor) Execute(ctx context.Context, req *StrategyRequest) (*StrategyResult, error) {
	strategy, err := e.strategyFor(req.Def)
	if err != nil {
		return nil, err
	}
	return strategy.Execute(ctx, req)
}

// strategyFor builds the strategy stack for a step: a base strategy
// (standard or image search) optionally wrapped in candidate selection.
func (e *StepExecutor) strategyFor(def *StepDefinition) (Strategy, error) {
	caller, err := e.caller(def.Model)
	if err != nil {
		return nil, err
	}

	var base Strategy
	if def.UseImageSearch {
		if e.ImageSearch == nil {
			return nil, NewConfigurationError("step %d requests image search but no image search collaborator is configured", def.Index)
		}
		base = &ImageSearchStrategy{Caller: caller, Search: e.ImageSearch, Limit: def.ImageSearchLimit}
	} else {
		base = &StandardStrategy{Caller: caller}
	}

	if def.Candidates > 1 || def.FeedbackLoops > 0 {
		judgeSettings := def.Model
		if def.JudgeModel != "" {
			judgeSettings.Model = def.JudgeModel
		}
		judge, err := e.caller(judgeSettings)
		if err != nil {
			return nil, fmt.Errorf("step %d judge: %w", def.Index, err)
		}
		cs := &CandidateStrategy{
			Inner:         base,
			Candidates:    def.Candidates,
			FeedbackLoops: def.FeedbackLoops,
		}
		if def.Candidates > 1 {
			cs.Judge = judge
		}
		if def.FeedbackLoops > 0 {
			cs.Critic = judge
		}
		base = cs
	}

	return base, nil
}

// caller builds a model caller for the given settings, gated on the model
// semaphore so retries and candidates each re-enter the gate.
func (e *StepExecutor) caller(settings ModelSettings) (ModelCaller, error) {
	if e.Factory == nil {
		return nil, NewConfigurationError("no model caller factory configured")
	}
	inner, err := e.Factory(settings)
	if err != nil {
		return nil, err
	}
	var gate *Gate
	if e.Gates != nil {
		gate = e.Gates.Model
	}
	return &gatedCaller{inner: inner, gate: gate}, nil
}
