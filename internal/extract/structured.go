package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

// flattenJSON renders a JSON document as one "path: value" line per leaf.
// Object keys are sorted so the output is stable.
func flattenJSON(content []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return "", apperr.Parse("extract_json", "invalid json", err)
	}

	var lines []string
	var walk func(v any, prefix string)
	walk = func(v any, prefix string) {
		switch val := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(val[k], prefix+k+": ")
			}
		case []any:
			for i, item := range val {
				walk(item, fmt.Sprintf("%s[%d] ", prefix, i))
			}
		case nil:
			lines = append(lines, prefix+"null")
		default:
			lines = append(lines, prefix+fmt.Sprint(val))
		}
	}
	walk(data, "")

	return strings.Join(lines, "\n"), nil
}

// formatCSV renders each data row as "Row N:" followed by "header: value"
// lines. Empty cells read "No Data".
func formatCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", apperr.Parse("extract_csv", "invalid csv", err)
	}

	var rows []string
	for n := 1; ; n++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperr.Parse("extract_csv", "invalid csv", err)
		}

		lines := []string{fmt.Sprintf("Row %d:", n)}
		for i, h := range header {
			value := ""
			if i < len(record) {
				value = strings.TrimSpace(record[i])
			}
			if value == "" {
				value = "No Data"
			}
			lines = append(lines, fmt.Sprintf("%s: %s", strings.TrimSpace(h), value))
		}
		rows = append(rows, strings.Join(lines, "\n"))
	}

	return strings.Join(rows, "\n\n"), nil
}
