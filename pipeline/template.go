// ABOUTME: Row-dependent template expansion for prompts, output columns, schema refs, and plugin configs.
// ABOUTME: Templates are text/template over the view context (row columns, index, step history).
package pipeline

import (
	"fmt"
	"strings"
	"text/template"
)

// renderTemplate expands a template string against the view context.
// Plain strings pass through without template parsing overhead.
func renderTemplate(name, tmpl string, view map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	t, err := template.New(name).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, view); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	// missingkey=zero renders absent keys as "<no value>" for any-typed maps.
	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}

// renderConfigTemplates walks a raw plugin config and expands every string
// value as a template. Nested maps and slices are walked recursively; the
// input is never mutated.
func renderConfigTemplates(cfg map[string]any, view map[string]any) (map[string]any, error) {
	if cfg == nil {
		return nil, nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		rendered, err := renderConfigValue(k, v, view)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

func renderConfigValue(key string, v any, view map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return renderTemplate(key, t, view)
	case map[string]any:
		return renderConfigTemplates(t, view)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			rendered, err := renderConfigValue(fmt.Sprintf("%s[%d]", key, i), elem, view)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// buildView assembles the read-only projection used for templating: the
// row's columns, the branch's original index, and prior step results.
func buildView(item *PipelineItem) map[string]any {
	view := make(map[string]any, len(item.Row)+2)
	for k, v := range item.Row {
		view[k] = v
	}
	view["_index"] = item.OriginalIndex
	if len(item.StepHistory) > 0 {
		history := make([]any, len(item.StepHistory))
		for i, rec := range item.StepHistory {
			history[i] = rec.Result
		}
		view["_history"] = history
	}
	return view
}
