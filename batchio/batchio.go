// ABOUTME: Batch row I/O: reads input rows from CSV or JSON, writes results back out.
// ABOUTME: Format is chosen by file extension; CSV output flattens nested objects to dotted headers.
package batchio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/2389-research/stampede/pipeline"
)

// LoadRows reads input rows from path. A .csv file is parsed with its first
// record as the header; anything else is parsed as a JSON array of objects.
func LoadRows(path string) ([]pipeline.Row, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseCSV(raw)
	}
	return parseJSON(raw)
}

func parseJSON(raw []byte) ([]pipeline.Row, error) {
	var rows []pipeline.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse JSON input: %w", err)
	}
	return rows, nil
}

func parseCSV(raw []byte) ([]pipeline.Row, error) {
	reader := csv.NewReader(strings.NewReader(string(raw)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV input: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]pipeline.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(pipeline.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteRows writes rows to path, choosing CSV or JSON by extension.
func WriteRows(path string, rows []pipeline.Row) error {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return WriteCSV(path, rows)
	}
	return WriteJSON(path, rows)
}

// WriteJSON writes rows as a pretty-printed JSON array.
func WriteJSON(path string, rows []pipeline.Row) error {
	if rows == nil {
		rows = []pipeline.Row{}
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// WriteCSV writes rows as CSV. Nested objects are flattened to dotted column
// names; the header is the sorted union of all rows' flattened keys, so rows
// with differing shapes still line up.
func WriteCSV(path string, rows []pipeline.Row) error {
	flattened := make([]map[string]string, len(rows))
	keySet := map[string]bool{}
	for i, row := range rows {
		flat := map[string]string{}
		flattenInto(flat, "", map[string]any(row))
		flattened[i] = flat
		for k := range flat {
			keySet[k] = true
		}
	}

	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(header))
	for _, flat := range flattened {
		for i, col := range header {
			record[i] = flat[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return f.Close()
}

// flattenInto flattens nested maps into dotted keys. Scalars and arrays are
// rendered with the same stringification the column strategy uses.
func flattenInto(out map[string]string, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = pipeline.Stringify(v)
	}
}
