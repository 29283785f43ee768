// ABOUTME: Row is the unit of batch input/output: an immutable flat-or-nested record.
// ABOUTME: Provides copy-on-write column access via dotted paths (gjson/sjson) and shallow merge.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Row is one unit of batch data: column name to value. Rows are treated as
// immutable once created; all mutating operations return a new Row.
type Row map[string]any

// Clone returns a shallow copy of the row. Nested values are shared, which is
// safe because rows are never mutated in place.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Value looks up a column by name. Dotted names address nested objects
// ("company.address.city"). The second return reports whether the path exists.
func (r Row) Value(path string) (any, bool) {
	if v, ok := r[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// WithColumn returns a new Row with the named column set. Dotted paths create
// intermediate objects as needed.
func (r Row) WithColumn(path string, value any) (Row, error) {
	if !strings.Contains(path, ".") {
		out := r.Clone()
		out[path] = value
		return out, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	updated, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return nil, fmt.Errorf("set column %q: %w", path, err)
	}
	var out Row
	if err := json.Unmarshal(updated, &out); err != nil {
		return nil, fmt.Errorf("rebuild row: %w", err)
	}
	return out, nil
}

// Merge returns a new Row with the production's keys shallow-merged in.
// Production keys win on conflict.
func (r Row) Merge(production map[string]any) Row {
	out := r.Clone()
	for k, v := range production {
		out[k] = v
	}
	return out
}

// Stringify renders a production value for column output: strings pass
// through, everything else is JSON-encoded.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
