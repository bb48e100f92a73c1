// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

func newValidateCmd(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{RunE: runValidate}
	cmd.SetOut(out)
	return cmd
}

func TestRunValidate(t *testing.T) {
	t.Run("valid schema document", func(t *testing.T) {
		doc := contracts.SchemaDocument{
			SchemaVersion: "0.1.0",
			Dataset:       contracts.DatasetInfo{RowCount: 3, ColumnCount: 2},
			Variables: []contracts.VariableSpec{
				{ID: "anxiety", Column: "anxiety", Type: contracts.VariableContinuous, Level: 1},
				{ID: "sleep", Column: "sleep", Type: contracts.VariableContinuous, Level: 1},
			},
		}
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "schema.json")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		var out bytes.Buffer
		err = runValidate(newValidateCmd(&out), []string{"schema", path})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "OK:")
	})

	// An invalid document must report failure through the error return
	// rather than exiting the process, so deferred cleanup in callers
	// still runs.
	t.Run("invalid document returns an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schema.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

		var out bytes.Buffer
		cmd := newValidateCmd(&out)
		err := runValidate(cmd, []string{"schema", path})
		require.ErrorIs(t, err, errDocumentInvalid)
		assert.True(t, cmd.SilenceErrors)
		assert.Contains(t, out.String(), "FAIL:")
	})

	t.Run("unknown kind", func(t *testing.T) {
		var out bytes.Buffer
		err := runValidate(newValidateCmd(&out), []string{"network", "whatever.json"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, errDocumentInvalid)
	})
}
