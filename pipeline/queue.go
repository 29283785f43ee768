// ABOUTME: Two-level concurrency gates bounding task execution and in-flight model calls.
// ABOUTME: Wraps weighted semaphores with context-aware admission; retries re-enter the model gate.
package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/2389-research/stampede/llm"
)

// Gate bounds the number of concurrently executing units. Admission is FIFO
// per the underlying semaphore; queued waiters block until a slot frees.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate admitting at most limit concurrent holders.
// A limit <= 0 defaults to 1.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit))}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Gates holds the engine's two independent concurrency bounds. Tasks bounds
// how many (item, step) units run at once; Model bounds in-flight model
// requests regardless of how many tasks are running, because plugin I/O
// parallelizes more aggressively than the rate-limited model API.
type Gates struct {
	Tasks *Gate
	Model *Gate
}

// NewGates builds both gates from the runtime limits.
func NewGates(taskLimit, modelLimit int) *Gates {
	return &Gates{
		Tasks: NewGate(taskLimit),
		Model: NewGate(modelLimit),
	}
}

// gatedCaller wraps a ModelCaller so every call, including each retry
// attempt and each candidate generation, re-enters the model gate.
type gatedCaller struct {
	inner ModelCaller
	gate  *Gate
}

func (g *gatedCaller) PromptText(ctx context.Context, msgs []llm.Message) (string, error) {
	if g.gate != nil {
		if err := g.gate.Acquire(ctx); err != nil {
			return "", err
		}
		defer g.gate.Release()
	}
	return g.inner.PromptText(ctx, msgs)
}
