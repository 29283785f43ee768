// ABOUTME: Result/Branch Processor: applies an output strategy to rows, producing the next row set.
// ABOUTME: Pure functions; branching (explode), filtering, merging, and column writes all happen here.
package pipeline

import "fmt"

// ApplyStrategy applies an output strategy to each row paired with its
// corresponding production and concatenates the resulting row sets. rows and
// productions must be the same length.
func ApplyStrategy(rows []Row, productions []any, strategy OutputStrategy) ([]Row, error) {
	if len(rows) != len(productions) {
		return nil, fmt.Errorf("row/production count mismatch: %d vs %d", len(rows), len(productions))
	}
	var out []Row
	for i, row := range rows {
		next, err := applyToRow(row, productions[i], strategy)
		if err != nil {
			return nil, err
		}
		out = append(out, next...)
	}
	return out, nil
}

// applyToRow applies a strategy to one row and its production, returning
// 0..N next rows.
//
// Multi-valued productions without explode are truncated to their first
// element rather than raising; this is the engine's documented contract. An
// empty production array filters the row out regardless of explode.
func applyToRow(row Row, production any, strategy OutputStrategy) ([]Row, error) {
	items, multi := production.([]any)
	if !multi {
		items = []any{production}
	}

	if len(items) == 0 {
		// Filter semantics: the row disappears.
		return nil, nil
	}

	if !strategy.Explode {
		items = items[:1]
	}

	out := make([]Row, 0, len(items))
	for _, item := range items {
		next, err := applyOne(row, item, strategy)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}

// applyOne produces a single next row from one production element.
func applyOne(row Row, item any, strategy OutputStrategy) (Row, error) {
	switch strategy.Mode {
	case OutputIgnore:
		// Passthrough; under explode this still emits one branch per element.
		return row, nil

	case OutputColumn:
		value := item
		if _, isString := item.(string); !isString {
			value = Stringify(item)
		}
		return row.WithColumn(strategy.Column, value)

	case OutputMerge:
		obj, ok := item.(map[string]any)
		if !ok {
			if asRow, isRow := item.(Row); isRow {
				obj = map[string]any(asRow)
			} else {
				return nil, fmt.Errorf("merge strategy requires an object production, got %T", item)
			}
		}
		return row.Merge(obj), nil

	default:
		return nil, fmt.Errorf("unsupported output mode %q", strategy.Mode)
	}
}
