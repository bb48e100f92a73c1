// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

const cleanCSV = "anxiety,smoker,drinks\n1.5,yes,2\n2.0,no,0\n0.5,yes,4\n"

func TestParse(t *testing.T) {
	table, err := Parse([]byte(cleanCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"anxiety", "smoker", "drinks"}, table.Columns)
	assert.Len(t, table.Rows, 3)

	col, ok := table.Column("smoker")
	require.True(t, ok)
	assert.Equal(t, []string{"yes", "no", "yes"}, col)

	_, ok = table.Column("absent")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	t.Run("header only", func(t *testing.T) {
		_, err := Parse([]byte("a,b\n"))
		require.ErrorIs(t, err, ErrEmptyDataset)
	})

	t.Run("ragged row", func(t *testing.T) {
		_, err := Parse([]byte("a,b\n1,2\n3\n"))
		require.ErrorIs(t, err, ErrRaggedRows)
	})
}

func TestSHA256_StableOverBytes(t *testing.T) {
	first, err := Parse([]byte(cleanCSV))
	require.NoError(t, err)
	second, err := Parse([]byte(cleanCSV))
	require.NoError(t, err)

	assert.Equal(t, first.SHA256(), second.SHA256())
	assert.Len(t, first.SHA256(), 64)

	other, err := Parse([]byte(cleanCSV + "9,no,1\n"))
	require.NoError(t, err)
	assert.NotEqual(t, first.SHA256(), other.SHA256())
}

func TestMissingProfile(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		table, err := Parse([]byte(cleanCSV))
		require.NoError(t, err)
		assert.False(t, table.HasMissing())
		assert.Zero(t, table.MissingProfile().CellCount)
	})

	t.Run("missing markers", func(t *testing.T) {
		table, err := Parse([]byte("a,b\n1,NA\nNaN,2\n,3\n"))
		require.NoError(t, err)

		p := table.MissingProfile()
		assert.Equal(t, 3, p.CellCount)
		assert.InDelta(t, 0.5, p.Rate, 1e-12)
		assert.True(t, table.HasMissing())
	})
}

func TestInferVariables(t *testing.T) {
	table, err := Parse([]byte(cleanCSV))
	require.NoError(t, err)

	vars := InferVariables(table)
	require.Len(t, vars, 3)

	assert.Equal(t, contracts.VariableContinuous, vars[0].Type)
	assert.Equal(t, 1, vars[0].Level)

	assert.Equal(t, contracts.VariableCategorical, vars[1].Type)
	assert.Equal(t, []string{"no", "yes"}, vars[1].Categories)
	assert.Equal(t, 2, vars[1].Level)

	assert.Equal(t, contracts.VariableCount, vars[2].Type)
	assert.Equal(t, 1, vars[2].Level)
}

func TestBuildSchema(t *testing.T) {
	table, err := Parse([]byte(cleanCSV))
	require.NoError(t, err)

	doc, err := BuildSchema(table, InferVariables(table), Meta{Name: "survey"})
	require.NoError(t, err)

	assert.Equal(t, "survey", doc.Dataset.Name)
	assert.Equal(t, 3, doc.Dataset.RowCount)
	assert.Equal(t, 3, doc.Dataset.ColumnCount)
	assert.Empty(t, doc.Warnings)
	require.NoError(t, contracts.ValidateSchema(doc))
}

func TestBuildSchema_MissingDataWarning(t *testing.T) {
	table, err := Parse([]byte("a,b\n1,NA\n2,3\n"))
	require.NoError(t, err)

	doc, err := BuildSchema(table, InferVariables(table), Meta{})
	require.NoError(t, err)

	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, CodeMissingDataDetected, doc.Warnings[0].Code)
	assert.Equal(t, "warning", doc.Warnings[0].Level)
}

func TestCheckEncoding(t *testing.T) {
	table, err := Parse([]byte(cleanCSV))
	require.NoError(t, err)
	schema, err := BuildSchema(table, InferVariables(table), Meta{})
	require.NoError(t, err)

	t.Run("conforming data", func(t *testing.T) {
		assert.Empty(t, CheckEncoding(table, schema))
	})

	t.Run("column not found", func(t *testing.T) {
		bad := *schema
		bad.Variables = append([]contracts.VariableSpec(nil), schema.Variables...)
		bad.Variables[0].Column = "gone"

		msgs := CheckEncoding(table, &bad)
		require.Len(t, msgs, 1)
		assert.Equal(t, CodeColumnNotFound, msgs[0].Code)
	})

	t.Run("non numeric continuous", func(t *testing.T) {
		other, err := Parse([]byte("anxiety,smoker,drinks\nhigh,yes,2\n1.0,no,0\n"))
		require.NoError(t, err)

		msgs := CheckEncoding(other, schema)
		require.NotEmpty(t, msgs)
		assert.Equal(t, CodeNotNumeric, msgs[0].Code)
	})

	t.Run("bad count", func(t *testing.T) {
		other, err := Parse([]byte("anxiety,smoker,drinks\n1.5,yes,-2\n1.0,no,0\n"))
		require.NoError(t, err)

		msgs := CheckEncoding(other, schema)
		require.NotEmpty(t, msgs)
		assert.Equal(t, CodeBadCount, msgs[0].Code)
	})

	t.Run("unmapped category", func(t *testing.T) {
		other, err := Parse([]byte("anxiety,smoker,drinks\n1.5,sometimes,2\n1.0,no,0\n"))
		require.NoError(t, err)

		msgs := CheckEncoding(other, schema)
		require.NotEmpty(t, msgs)
		assert.Equal(t, CodeUnmappedCategory, msgs[0].Code)
	})

	t.Run("missing cells skipped", func(t *testing.T) {
		other, err := Parse([]byte("anxiety,smoker,drinks\nNA,yes,2\n1.0,NA,NA\n"))
		require.NoError(t, err)

		assert.Empty(t, CheckEncoding(other, schema))
	})
}
