// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads tabular CSV data and checks it against a schema
// document before anything reaches the fitting engine.
//
// Two classes of problems are detected here rather than inside the
// engine:
//
//   - missing data, which aborts the run outright (the missing policy is
//     locked to abort; imputation is out of scope by design)
//   - encoding mismatches, where a column's observed values contradict
//     the variable's declared type
//
// Both are reported as diagnostic messages with stable codes, never as
// Go errors — the caller folds them into a failed results document.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/hashing"
)

// Diagnostic codes emitted by dataset checks.
const (
	CodeMissingDataDetected = "MISSING_DATA_DETECTED"
	CodeMissingDataAbort    = "MISSING_DATA_ABORT"
	CodeColumnNotFound      = "ENCODING_COLUMN_NOT_FOUND"
	CodeNotNumeric          = "ENCODING_NOT_NUMERIC"
	CodeBadCount            = "ENCODING_BAD_COUNT"
	CodeUnmappedCategory    = "ENCODING_UNMAPPED_CATEGORY"
	CodeLevelMismatch       = "ENCODING_LEVEL_MISMATCH"
)

// Sentinel errors.
var (
	// ErrEmptyDataset is returned for a CSV without a data row.
	ErrEmptyDataset = errors.New("dataset has no data rows")

	// ErrRaggedRows is returned when a row's cell count differs from the
	// header.
	ErrRaggedRows = errors.New("dataset has ragged rows")
)

// missingTokens are the cell values treated as missing, compared
// case-insensitively after trimming.
var missingTokens = map[string]struct{}{
	"":    {},
	"na":  {},
	"nan": {},
	"n/a": {},
}

// =============================================================================
// Table
// =============================================================================

// Table is an immutable in-memory CSV dataset. The original bytes are
// retained so content hashes cover exactly what gets staged for the
// engine.
type Table struct {
	Columns []string
	Rows    [][]string

	raw []byte
}

// Parse reads a CSV payload with a header row.
func Parse(data []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // Ragged rows reported below with context

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmptyDataset
	}

	header := records[0]
	rows := records[1:]
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d cells, header has %d",
				ErrRaggedRows, i+1, len(row), len(header))
		}
	}

	return &Table{Columns: header, Rows: rows, raw: data}, nil
}

// Bytes returns the original CSV payload.
func (t *Table) Bytes() []byte {
	return t.raw
}

// SHA256 returns the content hash of the CSV payload.
func (t *Table) SHA256() string {
	return hashing.SHA256Hex(t.raw)
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]string, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// MissingProfile counts missing cells over the whole table.
func (t *Table) MissingProfile() contracts.MissingProfile {
	var missing int
	for _, row := range t.Rows {
		for _, cell := range row {
			if isMissing(cell) {
				missing++
			}
		}
	}
	total := len(t.Rows) * len(t.Columns)
	p := contracts.MissingProfile{CellCount: missing}
	if total > 0 {
		p.Rate = float64(missing) / float64(total)
	}
	return p
}

// HasMissing reports whether any cell is missing.
func (t *Table) HasMissing() bool {
	return t.MissingProfile().CellCount > 0
}

func isMissing(cell string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// =============================================================================
// Schema Building
// =============================================================================

// Meta carries optional dataset metadata for BuildSchema.
type Meta struct {
	Name   string
	Source string
}

// BuildSchema assembles a schema document for the table with the given
// variable specs. A nonzero missing rate adds a MISSING_DATA_DETECTED
// warning — the dataset is describable, but no modeling module will
// accept it until the missing cells are resolved upstream.
func BuildSchema(t *Table, variables []contracts.VariableSpec, meta Meta) (*contracts.SchemaDocument, error) {
	missing := t.MissingProfile()

	doc := &contracts.SchemaDocument{
		SchemaVersion: "0.1.0",
		CreatedAt:     time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Dataset: contracts.DatasetInfo{
			Name:        meta.Name,
			Source:      meta.Source,
			RowCount:    len(t.Rows),
			ColumnCount: len(t.Columns),
			Missing:     missing,
		},
		Variables: variables,
	}

	if missing.CellCount > 0 {
		doc.Warnings = append(doc.Warnings, contracts.Message{
			Level: "warning",
			Code:  CodeMissingDataDetected,
			Text:  "missing values detected; netweave does not impute — preprocess the dataset before modeling",
			Details: map[string]any{
				"cell_count": missing.CellCount,
				"rate":       missing.Rate,
			},
		})
	}

	if err := contracts.ValidateSchema(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// InferVariables derives variable specs from observed column values:
// non-numeric columns become categorical with their sorted distinct
// values as categories, all-integer non-negative columns become counts,
// and everything else numeric becomes continuous. Missing cells are
// ignored during inference.
func InferVariables(t *Table) []contracts.VariableSpec {
	out := make([]contracts.VariableSpec, 0, len(t.Columns))

	for _, col := range t.Columns {
		values, _ := t.Column(col)

		spec := contracts.VariableSpec{
			ID:     col,
			Column: col,
			Level:  1,
		}

		allNumeric := true
		allCount := true
		distinct := make(map[string]struct{})

		for _, cell := range values {
			if isMissing(cell) {
				continue
			}
			cell = strings.TrimSpace(cell)
			distinct[cell] = struct{}{}

			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				allNumeric = false
				allCount = false
				continue
			}
			if f < 0 || f != math.Trunc(f) {
				allCount = false
			}
		}

		switch {
		case !allNumeric:
			spec.Type = contracts.VariableCategorical
			spec.Measurement = "nominal"
			spec.Categories = sortedKeys(distinct)
			spec.Level = len(spec.Categories)
		case allCount:
			spec.Type = contracts.VariableCount
			spec.Measurement = "ratio"
		default:
			spec.Type = contracts.VariableContinuous
			spec.Measurement = "interval"
		}

		out = append(out, spec)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Encoding Checks
// =============================================================================

// CheckEncoding verifies that each schema variable's observed column
// values are compatible with its declared type. Problems are diagnostic
// messages, not errors: the caller decides whether to fold them into a
// failed results document.
func CheckEncoding(t *Table, schema *contracts.SchemaDocument) []contracts.Message {
	var msgs []contracts.Message

	for _, v := range schema.Variables {
		values, ok := t.Column(v.Column)
		if !ok {
			msgs = append(msgs, contracts.Message{
				Level:   "error",
				Code:    CodeColumnNotFound,
				Text:    fmt.Sprintf("variable %q: column %q not present in dataset", v.ID, v.Column),
				Details: map[string]any{"variable": v.ID, "column": v.Column},
			})
			continue
		}

		switch v.Type {
		case contracts.VariableContinuous:
			msgs = append(msgs, checkNumeric(v, values)...)
		case contracts.VariableCount:
			msgs = append(msgs, checkCount(v, values)...)
		case contracts.VariableCategorical:
			msgs = append(msgs, checkCategorical(v, values)...)
		}
	}
	return msgs
}

func checkNumeric(v contracts.VariableSpec, values []string) []contracts.Message {
	for i, cell := range values {
		if isMissing(cell) {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return []contracts.Message{{
				Level: "error",
				Code:  CodeNotNumeric,
				Text:  fmt.Sprintf("variable %q: non-numeric value %q at row %d", v.ID, cell, i+1),
				Details: map[string]any{
					"variable": v.ID, "row": i + 1, "value": cell,
				},
			}}
		}
	}
	return nil
}

func checkCount(v contracts.VariableSpec, values []string) []contracts.Message {
	for i, cell := range values {
		if isMissing(cell) {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return []contracts.Message{{
				Level: "error",
				Code:  CodeNotNumeric,
				Text:  fmt.Sprintf("variable %q: non-numeric value %q at row %d", v.ID, cell, i+1),
				Details: map[string]any{
					"variable": v.ID, "row": i + 1, "value": cell,
				},
			}}
		}
		if f < 0 || f != math.Trunc(f) {
			return []contracts.Message{{
				Level: "error",
				Code:  CodeBadCount,
				Text:  fmt.Sprintf("variable %q: value %q at row %d is not a non-negative integer", v.ID, cell, i+1),
				Details: map[string]any{
					"variable": v.ID, "row": i + 1, "value": cell,
				},
			}}
		}
	}
	return nil
}

func checkCategorical(v contracts.VariableSpec, values []string) []contracts.Message {
	allowed := make(map[string]struct{}, len(v.Categories))
	for _, c := range v.Categories {
		allowed[c] = struct{}{}
	}

	observed := make(map[string]struct{})
	for i, cell := range values {
		if isMissing(cell) {
			continue
		}
		cell = strings.TrimSpace(cell)
		observed[cell] = struct{}{}
		if _, ok := allowed[cell]; !ok {
			return []contracts.Message{{
				Level: "error",
				Code:  CodeUnmappedCategory,
				Text:  fmt.Sprintf("variable %q: value %q at row %d is not a declared category", v.ID, cell, i+1),
				Details: map[string]any{
					"variable": v.ID, "row": i + 1, "value": cell,
				},
			}}
		}
	}

	if v.Level != len(v.Categories) {
		return []contracts.Message{{
			Level: "error",
			Code:  CodeLevelMismatch,
			Text: fmt.Sprintf("variable %q: declared level %d does not match category count %d",
				v.ID, v.Level, len(v.Categories)),
			Details: map[string]any{"variable": v.ID},
		}}
	}
	return nil
}
