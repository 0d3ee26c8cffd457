// Package table holds the tabular result schema produced by a run and the
// parsing and completeness rules applied to raw model output.
package table

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

// SchemaVersion is stored with every result.
const SchemaVersion = 1

// ColumnType is the declared value type of a column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeDate    ColumnType = "date"
	TypeURL     ColumnType = "url"
	TypeBoolean ColumnType = "boolean"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate, TypeURL, TypeBoolean:
		return true
	}
	return false
}

// Column describes one column of the table.
type Column struct {
	Key   string     `json:"key"`
	Label string     `json:"label"`
	Type  ColumnType `json:"type"`
}

// Row maps column keys to values. Missing values are explicit nils.
type Row map[string]any

// Table is the validated output of a successful run.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
	Summary *string  `json:"summary,omitempty"`
}

// Parse decodes model text into a table and normalizes it. Any failure is an
// apperr.Validation error.
func Parse(text string) (*Table, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, apperr.New(apperr.Validation, "parse table", "model output contained no JSON object")
	}

	var t Table
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, apperr.Errorf(apperr.Validation, "parse table", "model output is not valid table JSON: %w", err)
	}
	if err := t.Normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Normalize validates the column declarations, fills every row with every
// declared key and rejects empty tables.
func (t *Table) Normalize() error {
	if len(t.Columns) == 0 || len(t.Rows) == 0 {
		return apperr.New(apperr.Validation, "validate table", "LLM produced an empty table (no columns or no rows)")
	}

	seen := make(map[string]bool, len(t.Columns))
	for i, c := range t.Columns {
		if strings.TrimSpace(c.Key) == "" {
			return apperr.Errorf(apperr.Validation, "validate table", "column %d has an empty key", i)
		}
		if strings.TrimSpace(c.Label) == "" {
			return apperr.Errorf(apperr.Validation, "validate table", "column %q has an empty label", c.Key)
		}
		if !c.Type.Valid() {
			return apperr.Errorf(apperr.Validation, "validate table", "column %q has unknown type %q", c.Key, c.Type)
		}
		if seen[c.Key] {
			return apperr.Errorf(apperr.Validation, "validate table", "duplicate column key %q", c.Key)
		}
		seen[c.Key] = true
	}

	for i, row := range t.Rows {
		if row == nil {
			row = make(Row, len(t.Columns))
		}
		for _, c := range t.Columns {
			if _, ok := row[c.Key]; !ok {
				row[c.Key] = nil
			}
		}
		t.Rows[i] = row
	}

	if t.allEmpty() {
		return apperr.New(apperr.Validation, "validate table", "LLM produced an empty table (all cells were null/empty)")
	}
	return nil
}

func (t *Table) allEmpty() bool {
	for _, row := range t.Rows {
		for _, c := range t.Columns {
			if !isEmpty(row[c.Key]) {
				return false
			}
		}
	}
	return true
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// extractJSON returns the outermost JSON object in text, tolerating code
// fences and prose around it.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// Keys returns the declared column keys in order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Key
	}
	return keys
}

func (c Column) String() string {
	return fmt.Sprintf("%s(%s)", c.Key, c.Type)
}
