// ABOUTME: Tests for PipelineItem lineage: content chains, advancement, immutability.
package pipeline

import (
	"testing"

	"github.com/2389-research/stampede/llm"
)

func TestContentChainSharesAncestors(t *testing.T) {
	var root *contentNode
	base := root.extend([]string{"a", "b"})
	left := base.extend([]string{"l"})
	right := base.extend([]string{"r"})

	gotLeft := left.collect()
	gotRight := right.collect()
	if len(gotLeft) != 3 || gotLeft[0] != "a" || gotLeft[2] != "l" {
		t.Errorf("left chain = %v", gotLeft)
	}
	if len(gotRight) != 3 || gotRight[2] != "r" {
		t.Errorf("right chain = %v", gotRight)
	}
	if base.extend(nil) != base {
		t.Error("empty extend should return the same node")
	}
}

func TestAdvancePreservesLineage(t *testing.T) {
	item := NewPipelineItem(Row{"id": "x"}, 4)
	if item.VariationIndex != -1 {
		t.Errorf("fresh item VariationIndex = %d, want -1", item.VariationIndex)
	}

	turns := []llm.Message{llm.UserMessage("q"), llm.AssistantMessage("a")}
	records := []StepRecord{{StepIndex: 0, Result: "a"}}
	next := item.advance(Row{"id": "x", "out": "a"}, turns, records, 2)

	if next.OriginalIndex != 4 {
		t.Errorf("OriginalIndex = %d, want 4", next.OriginalIndex)
	}
	if next.VariationIndex != 2 {
		t.Errorf("VariationIndex = %d, want 2", next.VariationIndex)
	}
	if len(next.Conversation) != 2 || len(next.StepHistory) != 1 {
		t.Errorf("conversation/history = %d/%d", len(next.Conversation), len(next.StepHistory))
	}
	if len(item.Conversation) != 0 || len(item.StepHistory) != 0 {
		t.Error("advance mutated the parent item")
	}
	if next.AccumulatedContent() != nil {
		t.Error("accumulated content should reset between steps")
	}
}
