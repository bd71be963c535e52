package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	OutputFormatTable = "table"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"
)

// maxTableColumns bounds how many record fields the table view shows.
const maxTableColumns = 8

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode as JSON: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()

	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode as YAML: %w", err)
	}
	return nil
}

// renderRecords prints records; total < 0 suppresses the summary line.
func renderRecords(w io.Writer, format string, records []map[string]any, total int) error {
	switch format {
	case OutputFormatJSON:
		return writeJSON(w, records)
	case OutputFormatYAML:
		return writeYAML(w, records)
	}

	if len(records) == 0 {
		_, _ = io.WriteString(w, "No records found\n")
		return nil
	}

	columns := recordColumns(records)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}

	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = cellValue(rec[c])
		}
		_ = table.Append(row)
	}
	_ = table.Render()

	if total >= 0 {
		_, _ = fmt.Fprintf(w, "\nShowing %d of %d records\n", len(records), total)
	}
	return nil
}

// renderDocument prints a raw JSON document such as metadata or a function result.
func renderDocument(w io.Writer, format string, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	switch format {
	case OutputFormatJSON:
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	case OutputFormatYAML:
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to decode document: %w", err)
		}
		return writeYAML(w, doc)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		// Not an object: print as is.
		_, err := fmt.Fprintf(w, "%s\n", raw)
		return err
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	for _, k := range keys {
		_ = table.Append([]string{k, cellValue(obj[k])})
	}
	return table.Render()
}

// recordColumns returns "_id" first, then the remaining field names sorted.
func recordColumns(records []map[string]any) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, rec := range records {
		for k := range rec {
			if k != "_id" && !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)

	columns := append([]string{"_id"}, fields...)
	if len(columns) > maxTableColumns {
		columns = columns[:maxTableColumns]
	}
	return columns
}

func cellValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
