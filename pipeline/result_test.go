// ABOUTME: Tests for the result/branch processor: merge, column, ignore, explode, filter.
// ABOUTME: Pure-function table tests; no engine involvement.
package pipeline

import "testing"

func TestApplyStrategyMerge(t *testing.T) {
	rows := []Row{{"id": "a", "old": 1}}
	productions := []any{map[string]any{"new": 2, "old": 9}}

	out, err := ApplyStrategy(rows, productions, OutputStrategy{Mode: OutputMerge})
	if err != nil {
		t.Fatalf("ApplyStrategy: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d rows, want 1", len(out))
	}
	if out[0]["new"] != 2 {
		t.Errorf("new = %v, want 2", out[0]["new"])
	}
	if out[0]["old"] != 9 {
		t.Errorf("old = %v, want 9 (production wins)", out[0]["old"])
	}
	if rows[0]["new"] != nil {
		t.Error("input row was mutated")
	}
}

func TestApplyStrategyMergeIdempotent(t *testing.T) {
	rows := []Row{{"id": "a"}}
	production := map[string]any{"x": "1"}

	once, err := ApplyStrategy(rows, []any{production}, OutputStrategy{Mode: OutputMerge})
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	twice, err := ApplyStrategy(once, []any{production}, OutputStrategy{Mode: OutputMerge})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if len(twice) != 1 || twice[0]["x"] != "1" || twice[0]["id"] != "a" {
		t.Errorf("repeated merge changed the row: %v", twice[0])
	}
}

func TestApplyStrategyExplode(t *testing.T) {
	rows := []Row{{"id": "a"}, {"id": "b"}}
	productions := []any{
		[]any{map[string]any{"v": 1}, map[string]any{"v": 2}},
		[]any{map[string]any{"v": 3}},
	}

	out, err := ApplyStrategy(rows, productions, OutputStrategy{Mode: OutputMerge, Explode: true})
	if err != nil {
		t.Fatalf("ApplyStrategy: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d rows, want 3", len(out))
	}
	if out[0]["v"] != 1 || out[1]["v"] != 2 || out[2]["v"] != 3 {
		t.Errorf("explode values wrong: %v", out)
	}
	if out[0]["id"] != "a" || out[2]["id"] != "b" {
		t.Errorf("explode lost parent columns: %v", out)
	}
}

func TestApplyStrategyTruncatesWithoutExplode(t *testing.T) {
	rows := []Row{{"id": "a"}}
	productions := []any{[]any{map[string]any{"v": 1}, map[string]any{"v": 2}}}

	out, err := ApplyStrategy(rows, productions, OutputStrategy{Mode: OutputMerge})
	if err != nil {
		t.Fatalf("ApplyStrategy: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d rows, want 1 (truncated)", len(out))
	}
	if out[0]["v"] != 1 {
		t.Errorf("v = %v, want first element", out[0]["v"])
	}
}

func TestApplyStrategyEmptyProductionFilters(t *testing.T) {
	rows := []Row{{"id": "a"}}
	for _, explode := range []bool{false, true} {
		out, err := ApplyStrategy(rows, []any{[]any{}}, OutputStrategy{Mode: OutputMerge, Explode: explode})
		if err != nil {
			t.Fatalf("explode=%v: %v", explode, err)
		}
		if len(out) != 0 {
			t.Errorf("explode=%v: got %d rows, want 0", explode, len(out))
		}
	}
}

func TestApplyStrategyColumn(t *testing.T) {
	rows := []Row{{"id": "a"}}

	out, err := ApplyStrategy(rows, []any{"hello"}, OutputStrategy{Mode: OutputColumn, Column: "greeting"})
	if err != nil {
		t.Fatalf("ApplyStrategy: %v", err)
	}
	if out[0]["greeting"] != "hello" {
		t.Errorf("greeting = %v", out[0]["greeting"])
	}

	// Non-string productions are stringified.
	out, err = ApplyStrategy(rows, []any{map[string]any{"k": "v"}}, OutputStrategy{Mode: OutputColumn, Column: "blob"})
	if err != nil {
		t.Fatalf("ApplyStrategy: %v", err)
	}
	if out[0]["blob"] != `{"k":"v"}` {
		t.Errorf("blob = %v", out[0]["blob"])
	}
}

func TestApplyStrategyIgnoreExplodesIdenticalBranches(t *testing.T) {
	rows := []Row{{"id": "a"}}
	productions := []any{[]any{"x", "y", "z"}}

	out, err := ApplyStrategy(rows, productions, OutputStrategy{Mode: OutputIgnore, Explode: true})
	if err != nil {
		t.Fatalf("ApplyStrategy: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d rows, want 3", len(out))
	}
	for _, row := range out {
		if row["id"] != "a" || len(row) != 1 {
			t.Errorf("ignore branch altered row: %v", row)
		}
	}
}

func TestApplyStrategyMergeRejectsScalar(t *testing.T) {
	rows := []Row{{"id": "a"}}
	if _, err := ApplyStrategy(rows, []any{"just text"}, OutputStrategy{Mode: OutputMerge}); err == nil {
		t.Fatal("merging a scalar should error")
	}
}

func TestApplyStrategyCountMismatch(t *testing.T) {
	if _, err := ApplyStrategy([]Row{{"a": 1}}, nil, OutputStrategy{Mode: OutputMerge}); err == nil {
		t.Fatal("mismatched lengths should error")
	}
}
