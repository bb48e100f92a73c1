// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package run

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netweave/pkg/logging"
	"github.com/AleutianAI/netweave/services/analysis/bridge"
	"github.com/AleutianAI/netweave/services/analysis/cache"
	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/dataset"
	"github.com/AleutianAI/netweave/services/analysis/guardrails"
	"github.com/AleutianAI/netweave/services/analysis/modelspec"
)

func settingsWithGamma(gamma *float64) modelspec.Raw {
	return modelspec.Raw{Gamma: gamma}
}

var cleanData = []byte("anxiety,sleep\n1.5,6.0\n2.0,5.5\n0.5,7.0\n")

// fakeEngineScript emulates the fitting engine: it hashes its staged
// inputs, extracts the analysis id from the spec, appends to a counter
// file, and writes a success document with one raw parameter block in
// non-canonical pair order.
const fakeEngineScript = `#!/bin/sh
data=""; schema=""; spec=""; out=""; prev=""
for a in "$@"; do
  case "$prev" in
    --data) data="$a";;
    --schema) schema="$a";;
    --spec) spec="$a";;
    --out) out="$a";;
  esac
  prev="$a"
done
echo "run $@" >> %COUNTER%
dh=$(sha256sum "$data" | cut -d' ' -f1)
ch=$(sha256sum "$schema" | cut -d' ' -f1)
ph=$(sha256sum "$spec" | cut -d' ' -f1)
aid=$(sed -n 's/.*"analysis_id":"\([^"]*\)".*/\1/p' "$spec")
cat > "$out/results.json" <<EOF
{
  "results_version": "0.1.0",
  "analysis_id": "$aid",
  "status": "success",
  "engine": {"name": "r.mgm", "version": "1.0"},
  "input": {"data_sha256": "$dh", "schema_sha256": "$ch", "spec_sha256": "$ph"},
  "nodes": [
    {"id": "anxiety", "type": "continuous", "level": 1},
    {"id": "sleep", "type": "continuous", "level": 1}
  ],
  "blocks": [
    {"source": "sleep", "target": "anxiety", "values": [0.42, -0.95, 0.10]}
  ],
  "edges": []
}
EOF
`

// newTestRunner wires a runner around the fake engine and returns it
// with the path of the invocation counter file.
func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	counter := filepath.Join(dir, "invocations.log")

	script := strings.ReplaceAll(fakeEngineScript, "%COUNTER%", counter)
	for _, m := range registry {
		require.NoError(t, os.WriteFile(filepath.Join(dir, m.Script), []byte(script), 0o755))
	}

	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	b, err := bridge.New(bridge.Config{Interpreter: "/bin/sh", ScriptDir: dir}, log)
	require.NoError(t, err)

	return NewRunner(b, cache.New(), log), counter
}

func invocationCount(t *testing.T, counter string) int {
	t.Helper()
	data, err := os.ReadFile(counter)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestRun_CoreSuccess(t *testing.T) {
	runner, counter := newTestRunner(t)

	outcome, err := runner.Run(context.Background(), Request{
		Module: ModuleCore,
		Data:   cleanData,
	})
	require.NoError(t, err)

	doc := outcome.Results
	assert.Equal(t, contracts.StatusSuccess, doc.Status)
	assert.False(t, outcome.Cached)
	assert.Equal(t, 1, invocationCount(t, counter))

	// The raw block arrives in non-canonical order and is aggregated
	// into one canonical edge.
	require.Len(t, doc.Edges, 1)
	edge := doc.Edges[0]
	assert.Equal(t, "anxiety", edge.Source)
	assert.Equal(t, "sleep", edge.Target)
	assert.InDelta(t, 0.95, edge.Weight, 1e-12)
	assert.Equal(t, contracts.SignNegative, edge.Sign)
	assert.Equal(t, 3, edge.Summary.Count)

	require.NoError(t, contracts.ValidateResults(doc))

	require.NotNil(t, outcome.Report)
	require.Len(t, outcome.Report.Nodes, 2)
	assert.Equal(t, "anxiety", outcome.Report.Nodes[0].ID)
	assert.Equal(t, 1, outcome.Report.Nodes[0].Degree)
	assert.InDelta(t, 0.95, outcome.Report.Nodes[0].Strength, 1e-12)
}

func TestRun_SecondIdenticalRequestServedFromCache(t *testing.T) {
	runner, counter := newTestRunner(t)
	req := Request{Module: ModuleCore, Data: cleanData}

	first, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, invocationCount(t, counter))
	assert.Equal(t, first.Results.Edges, second.Results.Edges)
}

func TestRun_SettingsChangeMissesCache(t *testing.T) {
	runner, counter := newTestRunner(t)

	_, err := runner.Run(context.Background(), Request{Module: ModuleCore, Data: cleanData})
	require.NoError(t, err)

	gamma := 0.25
	_, err = runner.Run(context.Background(), Request{
		Module: ModuleCore, Data: cleanData,
		Settings: settingsWithGamma(&gamma),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, invocationCount(t, counter))
}

func TestRun_SchemaChangeMissesCache(t *testing.T) {
	runner, counter := newTestRunner(t)

	makeSchema := func(measurement string) *contracts.SchemaDocument {
		return &contracts.SchemaDocument{
			SchemaVersion: "0.1.0",
			Dataset:       contracts.DatasetInfo{RowCount: 3, ColumnCount: 2},
			Variables: []contracts.VariableSpec{
				{ID: "anxiety", Column: "anxiety", Type: contracts.VariableContinuous, Level: 1, Measurement: measurement},
				{ID: "sleep", Column: "sleep", Type: contracts.VariableContinuous, Level: 1, Measurement: measurement},
			},
		}
	}

	first, err := runner.Run(context.Background(), Request{
		Module: ModuleCore, Data: cleanData, Schema: makeSchema("interval"),
	})
	require.NoError(t, err)

	// Same data, same settings, schema differs only in its declared
	// measurement level: a distinct input, never a cache hit.
	second, err := runner.Run(context.Background(), Request{
		Module: ModuleCore, Data: cleanData, Schema: makeSchema("ratio"),
	})
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.False(t, second.Cached)
	assert.Equal(t, 2, invocationCount(t, counter))
	assert.NotEqual(t, first.Results.Input.SchemaSHA256, second.Results.Input.SchemaSHA256)
}

func TestRun_MissingDataAbortsBeforeEngine(t *testing.T) {
	runner, counter := newTestRunner(t)

	outcome, err := runner.Run(context.Background(), Request{
		Module: ModuleCore,
		Data:   []byte("anxiety,sleep\n1.5,NA\n2.0,5.5\n"),
	})
	require.NoError(t, err)

	doc := outcome.Results
	assert.Equal(t, contracts.StatusFailed, doc.Status)
	assert.Empty(t, doc.Edges)
	assert.Len(t, doc.Nodes, 2)
	require.NotEmpty(t, doc.Messages)
	assert.Equal(t, dataset.CodeMissingDataAbort, doc.Messages[0].Code)

	assert.Zero(t, invocationCount(t, counter))
	assert.Nil(t, outcome.Report)
}

func TestRun_EncodingMismatchAbortsBeforeEngine(t *testing.T) {
	runner, counter := newTestRunner(t)

	schema := &contracts.SchemaDocument{
		SchemaVersion: "0.1.0",
		Dataset:       contracts.DatasetInfo{RowCount: 2, ColumnCount: 2},
		Variables: []contracts.VariableSpec{
			{ID: "anxiety", Column: "anxiety", Type: contracts.VariableContinuous, Level: 1},
			{ID: "sleep", Column: "sleep", Type: contracts.VariableContinuous, Level: 1},
		},
	}

	outcome, err := runner.Run(context.Background(), Request{
		Module: ModuleCore,
		Data:   []byte("anxiety,sleep\nhigh,6.0\n2.0,5.5\n"),
		Schema: schema,
	})
	require.NoError(t, err)

	doc := outcome.Results
	assert.Equal(t, contracts.StatusFailed, doc.Status)
	require.NotEmpty(t, doc.Messages)
	assert.Equal(t, dataset.CodeNotNumeric, doc.Messages[0].Code)
	assert.Zero(t, invocationCount(t, counter))
}

func TestRun_BootstrapFlagsAndClampWarning(t *testing.T) {
	runner, counter := newTestRunner(t)

	outcome, err := runner.Run(context.Background(), Request{
		Module: ModuleBootstrap,
		Data:   cleanData,
		ModuleSettings: ModuleSettings{
			Bootstrap: guardrails.BootstrapSettings{Boots: 5000},
		},
	})
	require.NoError(t, err)

	var clamped bool
	for _, m := range outcome.Results.Messages {
		if m.Code == "BOOTSTRAP_CLAMPED" {
			clamped = true
		}
	}
	assert.True(t, clamped, "clamp warning should be folded into results messages")

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--n_boots_np 500")
	assert.Contains(t, string(data), "--n_cores 1")
}

func TestRun_UnknownModule(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := runner.Run(context.Background(), Request{Module: "quantum", Data: cleanData})
	require.ErrorIs(t, err, ErrUnknownModule)
}

func TestLookup(t *testing.T) {
	for _, name := range ModuleNames() {
		m, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name)
		assert.NotEmpty(t, m.Script)
		assert.Greater(t, m.Timeout.Seconds(), 0.0)
	}

	_, err := Lookup("nope")
	require.ErrorIs(t, err, ErrUnknownModule)
}

func TestModuleNames_SortedAndComplete(t *testing.T) {
	names := ModuleNames()
	assert.Equal(t, []string{
		ModuleBootstrap, ModuleCore, ModuleLasso,
		ModulePermutation, ModulePubpack, ModuleTemporal,
	}, names)
}

func TestModuleSettings_NormalizeFlags(t *testing.T) {
	t.Run("core has no flags", func(t *testing.T) {
		_, flags, warnings := ModuleSettings{}.normalize(ModuleCore, false)
		assert.Empty(t, flags)
		assert.Empty(t, warnings)
	})

	t.Run("permutation flags", func(t *testing.T) {
		s := ModuleSettings{}
		s.Permutation.Permutations = 100
		s.Permutation.EdgeTests = true

		_, flags, warnings := s.normalize(ModulePermutation, false)
		assert.Equal(t, []string{
			"--n_perms", "100",
			"--edge_tests", "true",
			"--n_cores", "1",
		}, flags)
		assert.Empty(t, warnings)
	})

	t.Run("lasso flags", func(t *testing.T) {
		_, flags, _ := ModuleSettings{}.normalize(ModuleLasso, false)
		assert.Equal(t, []string{
			"--n_folds", "5",
			"--max_features", "30",
			"--alpha", "1",
		}, flags)
	})
}
