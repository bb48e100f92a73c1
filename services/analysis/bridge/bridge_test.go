// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netweave/pkg/logging"
	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/hashing"
	"github.com/AleutianAI/netweave/services/analysis/modelspec"
)

var testData = []byte("anxiety,sleep\n1.5,6.0\n2.0,5.5\n")

func testSchema() *contracts.SchemaDocument {
	return &contracts.SchemaDocument{
		SchemaVersion: "0.1.0",
		Dataset:       contracts.DatasetInfo{RowCount: 2, ColumnCount: 2},
		Variables: []contracts.VariableSpec{
			{ID: "anxiety", Column: "anxiety", Type: contracts.VariableContinuous, Level: 1},
			{ID: "sleep", Column: "sleep", Type: contracts.VariableContinuous, Level: 1},
		},
	}
}

func testSpec(t *testing.T, schema *contracts.SchemaDocument) *contracts.ModelSpecDocument {
	t.Helper()
	spec, err := modelspec.Build(schema, modelspec.Sanitize(modelspec.Raw{}),
		modelspec.WithAnalysisID(uuid.NewString()),
		modelspec.WithCreatedAt("2026-01-01T00:00:00Z"))
	require.NoError(t, err)
	return spec
}

// stagedHashes mirrors what the bridge computes while staging.
func stagedHashes(t *testing.T, schema *contracts.SchemaDocument, spec *contracts.ModelSpecDocument) contracts.InputHashes {
	t.Helper()
	schemaBytes, err := hashing.CanonicalJSON(schema)
	require.NoError(t, err)
	specBytes, err := hashing.CanonicalJSON(spec)
	require.NoError(t, err)
	return contracts.InputHashes{
		DataSHA256:   hashing.SHA256Hex(testData),
		SchemaSHA256: hashing.SHA256Hex(schemaBytes),
		SpecSHA256:   hashing.SHA256Hex(specBytes),
	}
}

func cannedResults(analysisID string, hashes contracts.InputHashes) *contracts.ResultsDocument {
	return &contracts.ResultsDocument{
		ResultsVersion: "0.1.0",
		AnalysisID:     analysisID,
		Status:         contracts.StatusSuccess,
		Engine:         contracts.EngineInfo{Name: "r.mgm", Version: "1.0"},
		Input:          hashes,
		Nodes: []contracts.NodeRecord{
			{ID: "anxiety", Type: contracts.VariableContinuous, Level: 1},
			{ID: "sleep", Type: contracts.VariableContinuous, Level: 1},
		},
		Blocks: []contracts.ParameterBlock{
			{Source: "anxiety", Target: "sleep", Values: []float64{0.42}},
		},
		Edges: []contracts.EdgeRecord{},
	}
}

// writeFakeEngine writes a shell script that locates its --out flag and
// runs body with $out bound.
func writeFakeEngine(t *testing.T, body string) Config {
	t.Helper()
	dir := t.TempDir()

	script := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--out" ]; then out="$a"; fi
  prev="$a"
done
` + body + "\n"

	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.sh"), []byte(script), 0o755))
	return Config{Interpreter: "/bin/sh", ScriptDir: dir}
}

func writeCanned(t *testing.T, doc any) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "canned.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
}

func TestNew_EngineNotFound(t *testing.T) {
	_, err := New(Config{Interpreter: "definitely-not-a-real-engine-binary"}, quietLogger())
	require.ErrorIs(t, err, ErrEngineNotFound)
}

func TestExecute_Success(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)
	hashes := stagedHashes(t, schema, spec)
	canned := writeCanned(t, cannedResults(spec.AnalysisID, hashes))

	cfg := writeFakeEngine(t, fmt.Sprintf(`cp %s "$out/results.json"`, canned))
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	res, err := b.Execute(context.Background(), Request{
		Script: "engine.sh",
		Data:   testData,
		Schema: schema,
		Spec:   spec,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusSuccess, res.Results.Status)
	assert.Equal(t, spec.AnalysisID, res.Results.AnalysisID)
	assert.Equal(t, hashes, res.Hashes)
	assert.Len(t, res.Results.Blocks, 1)
	assert.Nil(t, res.Posthoc)
	assert.Greater(t, res.Runtime, time.Duration(0))
}

func TestExecute_FailedFitWithDocumentIsNotAnError(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)
	hashes := stagedHashes(t, schema, spec)

	doc := cannedResults(spec.AnalysisID, hashes)
	doc.Status = contracts.StatusFailed
	doc.Blocks = nil
	doc.Edges = nil
	doc.Messages = []contracts.Message{
		{Level: "error", Code: "FIT_DIVERGED", Text: "nodewise regression did not converge"},
	}
	canned := writeCanned(t, doc)

	// Engine writes the failure document and exits nonzero.
	cfg := writeFakeEngine(t, fmt.Sprintf(`cp %s "$out/results.json"; exit 1`, canned))
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	res, err := b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusFailed, res.Results.Status)
	require.Len(t, res.Results.Messages, 1)
	assert.Equal(t, "FIT_DIVERGED", res.Results.Messages[0].Code)
}

func TestExecute_NoOutput(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)

	cfg := writeFakeEngine(t, `echo "some progress" ; echo "engine crashed" >&2; exit 2`)
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
	})
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 2, execErr.ExitCode)
	assert.Contains(t, execErr.Stdout, "some progress")
	assert.Contains(t, execErr.Stderr, "engine crashed")
	assert.ErrorIs(t, execErr.Err, ErrNoOutput)
}

func TestExecute_InvalidOutputRejected(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)

	cfg := writeFakeEngine(t, `echo '{"results_version":""}' > "$out/results.json"`)
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
	})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestExecute_HashMismatchRejected(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)

	wrong := contracts.InputHashes{
		DataSHA256:   "4bf5122f344554c53bde2ebb8cd2b7e3d1600ad631c385a5d7cce23c7785459a",
		SchemaSHA256: "4bf5122f344554c53bde2ebb8cd2b7e3d1600ad631c385a5d7cce23c7785459a",
		SpecSHA256:   "4bf5122f344554c53bde2ebb8cd2b7e3d1600ad631c385a5d7cce23c7785459a",
	}
	canned := writeCanned(t, cannedResults(spec.AnalysisID, wrong))

	cfg := writeFakeEngine(t, fmt.Sprintf(`cp %s "$out/results.json"`, canned))
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
	})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Err.Error(), "hashes")
}

func TestExecute_Timeout(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)

	cfg := writeFakeEngine(t, `sleep 10`)
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	start := time.Now()
	_, err = b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
		Timeout: 200 * time.Millisecond,
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_RepeatedRunsProduceIdenticalResults(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)

	// The engine derives its whole document from the staged inputs: it
	// hashes them itself and reads the analysis id out of the spec. Two
	// executions can only agree if the bridge staged identical bytes
	// both times.
	body := `data=""; schema=""; spec=""; prev=""
for a in "$@"; do
  case "$prev" in
    --data) data="$a";;
    --schema) schema="$a";;
    --spec) spec="$a";;
  esac
  prev="$a"
done
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
    {"source": "anxiety", "target": "sleep", "values": [0.42, -0.95]}
  ],
  "edges": []
}
EOF`

	cfg := writeFakeEngine(t, body)
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	req := Request{Script: "engine.sh", Data: testData, Schema: schema, Spec: spec}

	first, err := b.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := b.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Hashes, second.Hashes)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, first.Results.Nodes, second.Results.Nodes)
	assert.Equal(t, first.Results.Blocks, second.Results.Blocks)
}

func TestExecute_PosthocPickedUp(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)
	hashes := stagedHashes(t, schema, spec)
	canned := writeCanned(t, cannedResults(spec.AnalysisID, hashes))

	posthocDoc := &contracts.PosthocDocument{
		PosthocVersion: "0.1.0",
		Predictability: contracts.PredictabilityBlock{
			Enabled: true,
			Metric:  "R2",
			ByNode:  map[string]float64{"anxiety": 0.31},
		},
	}
	cannedPosthoc := writeCanned(t, posthocDoc)

	cfg := writeFakeEngine(t, fmt.Sprintf(
		`cp %s "$out/results.json"; cp %s "$out/posthoc.json"`, canned, cannedPosthoc))
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	res, err := b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Posthoc)
	assert.InDelta(t, 0.31, res.Posthoc.Predictability.ByNode["anxiety"], 1e-12)
}

func TestExecute_MalformedPosthocDropped(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)
	hashes := stagedHashes(t, schema, spec)
	canned := writeCanned(t, cannedResults(spec.AnalysisID, hashes))

	cfg := writeFakeEngine(t, fmt.Sprintf(
		`cp %s "$out/results.json"; echo "not json" > "$out/posthoc.json"`, canned))
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	res, err := b.Execute(context.Background(), Request{
		Script: "engine.sh", Data: testData, Schema: schema, Spec: spec,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Posthoc)
}

func TestExecute_FlagsPassedToEngine(t *testing.T) {
	schema := testSchema()
	spec := testSpec(t, schema)
	hashes := stagedHashes(t, schema, spec)
	canned := writeCanned(t, cannedResults(spec.AnalysisID, hashes))

	// Record argv, then emit the canned document.
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	cfg := writeFakeEngine(t, fmt.Sprintf(
		`echo "$@" > %s; cp %s "$out/results.json"`, argsFile, canned))
	b, err := New(cfg, quietLogger())
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), Request{
		Script:      "engine.sh",
		Data:        testData,
		Schema:      schema,
		Spec:        spec,
		ModuleFlags: []string{"--n_boots_np", "500"},
		Quiet:       true,
	})
	require.NoError(t, err)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(recorded)

	assert.Contains(t, args, "--data ")
	assert.Contains(t, args, "--schema ")
	assert.Contains(t, args, "--spec ")
	assert.Contains(t, args, "--out ")
	assert.Contains(t, args, "--seed 1")
	assert.Contains(t, args, "--n_boots_np 500")
	assert.Contains(t, args, "--quiet")
	assert.NotContains(t, args, "--debug")
}
