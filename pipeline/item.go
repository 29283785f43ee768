// ABOUTME: PipelineItem is one branch of a row's lineage through the step sequence.
// ABOUTME: Carries conversation history, step records, and a shared accumulated-content chain.
package pipeline

import "github.com/2389-research/stampede/llm"

// StepRecord summarizes one completed step for a branch.
type StepRecord struct {
	StepIndex int
	Plugin    string // empty for the model call itself
	Result    any
}

// contentNode is one link in a branch's accumulated prompt content.
// Branches produced by an explode share their ancestors' nodes instead of
// copying the accumulated slice, so deep explode chains stay linear in memory.
type contentNode struct {
	parent *contentNode
	parts  []string
}

// extend returns a new node chaining the given parts onto c. Extending with
// no parts returns c unchanged.
func (c *contentNode) extend(parts []string) *contentNode {
	if len(parts) == 0 {
		return c
	}
	return &contentNode{parent: c, parts: parts}
}

// collect walks the chain root-first and returns all parts in order.
func (c *contentNode) collect() []string {
	if c == nil {
		return nil
	}
	var chain []*contentNode
	for n := c; n != nil; n = n.parent {
		chain = append(chain, n)
	}
	var out []string
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].parts...)
	}
	return out
}

// PipelineItem is a branch: one lineage of a row progressing through the
// steps with its own conversation history. Items are never mutated after
// creation; advancing a branch builds a new item.
type PipelineItem struct {
	Row            Row
	StepHistory    []StepRecord
	Conversation   []llm.Message
	OriginalIndex  int
	VariationIndex int // -1 until an explode assigns one
	content        *contentNode
}

// NewPipelineItem seeds a branch for a row entering the pipeline.
func NewPipelineItem(row Row, index int) *PipelineItem {
	return &PipelineItem{
		Row:            row,
		OriginalIndex:  index,
		VariationIndex: -1,
	}
}

// AccumulatedContent returns all prompt content gathered by plugins so far
// on this branch, oldest first.
func (it *PipelineItem) AccumulatedContent() []string {
	return it.content.collect()
}

// advance builds the successor item for the next step. The conversation and
// step history are extended, the accumulated content is reset (content is
// step-scoped), and the lineage index is preserved.
func (it *PipelineItem) advance(row Row, turns []llm.Message, records []StepRecord, variation int) *PipelineItem {
	next := &PipelineItem{
		Row:            row,
		OriginalIndex:  it.OriginalIndex,
		VariationIndex: variation,
	}
	next.Conversation = make([]llm.Message, 0, len(it.Conversation)+len(turns))
	next.Conversation = append(next.Conversation, it.Conversation...)
	next.Conversation = append(next.Conversation, turns...)
	next.StepHistory = make([]StepRecord, 0, len(it.StepHistory)+len(records))
	next.StepHistory = append(next.StepHistory, it.StepHistory...)
	next.StepHistory = append(next.StepHistory, records...)
	return next
}
