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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/netweave/services/analysis/bridge"
	"github.com/AleutianAI/netweave/services/analysis/cache"
	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/guardrails"
	"github.com/AleutianAI/netweave/services/analysis/modelspec"
	"github.com/AleutianAI/netweave/services/analysis/netmetrics"
	"github.com/AleutianAI/netweave/services/analysis/run"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Shared flags
	runModule     string
	runSchemaPath string
	runOutDir     string
	runAdvanced   bool
	runVerbose    bool
	runMetrics    bool

	// Model settings
	runSeed          int64
	runGamma         float64
	runAlpha         float64
	runRule          string
	runNoScale       bool
	runAggregator    string
	runSignStrategy  string
	runZeroTolerance float64

	// Bootstrap-specific
	runBoots     int
	runCaseBoots int
	runCores     int
	runCaseMin   float64
	runCaseMax   float64

	// Permutation-specific
	runPerms     int
	runEdgeTests bool

	// Feature-selection-specific
	runFolds       int
	runMaxFeatures int
	runLassoAlpha  float64
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// runCmd executes one analysis end to end.
var runCmd = &cobra.Command{
	Use:   "run DATA.csv",
	Short: "Run an analysis module over a dataset",
	Long: `Run one analysis module over a CSV dataset.

Without --schema, variable types are inferred from the data. The engine
is invoked as a subprocess; its validated output, the canonical edge
list, and node-level metrics are written to the output directory:

  results.json       - full results contract document
  edges.csv          - canonical aggregated edge list
  node_metrics.csv   - per-node strength, expected influence, degree
  report.json        - merged node report with posthoc enrichment

Modules: core, bootstrap, permutation, lasso, temporal, pubpack.

Examples:
  netweave run data.csv
  netweave run data.csv --module bootstrap --boots 1000 --advanced
  netweave run data.csv --schema schema.json --aggregator l2_norm`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalysis,
}

func init() {
	runCmd.Flags().StringVarP(&runModule, "module", "m", run.ModuleCore,
		"analysis module: "+strings.Join(run.ModuleNames(), ", "))
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "", "schema document (inferred from data when omitted)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "netweave_out", "output directory")
	runCmd.Flags().BoolVar(&runAdvanced, "advanced", false, "widen guardrails from safe maxima to hard maxima")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "attach raw parameter values to emitted edges")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "dump collected metrics to stdout after the run")

	runCmd.Flags().Int64Var(&runSeed, "seed", modelspec.DefaultSeed, "engine random seed")
	runCmd.Flags().Float64Var(&runGamma, "gamma", modelspec.DefaultGamma, "sparsity-penalty weight [0,1]")
	runCmd.Flags().Float64Var(&runAlpha, "alpha", modelspec.DefaultAlpha, "elastic mixing parameter [0,1]")
	runCmd.Flags().StringVar(&runRule, "rule", modelspec.DefaultRule, "edge combination rule: and, or")
	runCmd.Flags().BoolVar(&runNoScale, "no-scale", false, "disable standardization of continuous variables")
	runCmd.Flags().StringVar(&runAggregator, "aggregator", modelspec.DefaultAggregator,
		"block aggregator: max_abs, l2_norm, mean, mean_abs, sum_abs, max")
	runCmd.Flags().StringVar(&runSignStrategy, "sign-strategy", modelspec.DefaultSignStrategy,
		"edge sign strategy: dominant, mean, none")
	runCmd.Flags().Float64Var(&runZeroTolerance, "zero-tolerance", modelspec.DefaultZeroTolerance,
		"weights at or below this magnitude collapse to zero")

	runCmd.Flags().IntVar(&runBoots, "boots", 0, "bootstrap: nonparametric bootstrap count")
	runCmd.Flags().IntVar(&runCaseBoots, "case-boots", 0, "bootstrap: case-dropping bootstrap count")
	runCmd.Flags().IntVar(&runCores, "cores", 0, "bootstrap/permutation: worker core count")
	runCmd.Flags().Float64Var(&runCaseMin, "case-min", 0, "bootstrap: case-dropping range lower bound")
	runCmd.Flags().Float64Var(&runCaseMax, "case-max", 0, "bootstrap: case-dropping range upper bound")

	runCmd.Flags().IntVar(&runPerms, "perms", 0, "permutation: permutation count")
	runCmd.Flags().BoolVar(&runEdgeTests, "edge-tests", false, "permutation: enable per-edge difference tests")

	runCmd.Flags().IntVar(&runFolds, "folds", 0, "lasso: cross-validation fold count")
	runCmd.Flags().IntVar(&runMaxFeatures, "max-features", 0, "lasso: feature cap")
	runCmd.Flags().Float64Var(&runLassoAlpha, "lasso-alpha", 0, "lasso: elastic mixing parameter")
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var dumpMetrics func()
	if runMetrics {
		var err error
		dumpMetrics, err = setupMetricsDump(ctx)
		if err != nil {
			return err
		}
		defer dumpMetrics()
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var schema *contracts.SchemaDocument
	if runSchemaPath != "" {
		raw, err := os.ReadFile(runSchemaPath)
		if err != nil {
			return err
		}
		schema, err = contracts.DecodeSchema(raw)
		if err != nil {
			return err
		}
		if err := contracts.ValidateSchema(schema); err != nil {
			return err
		}
	}

	b, err := bridge.New(bridge.Config{
		Interpreter: config.Engine.Interpreter,
		ScriptDir:   config.Engine.ScriptDir,
		Timeout:     config.Engine.Timeout(),
		KeepWorkdir: config.Engine.KeepWorkdir,
	}, logger)
	if err != nil {
		return err
	}

	runner := run.NewRunner(b, cache.New(), logger)
	outcome, err := runner.Run(ctx, run.Request{
		Module:   runModule,
		Data:     data,
		Schema:   schema,
		Settings: buildRawSettings(cmd),
		ModuleSettings: run.ModuleSettings{
			Bootstrap: guardrails.BootstrapSettings{
				Boots:     runBoots,
				CaseBoots: runCaseBoots,
				Cores:     runCores,
				CaseMin:   runCaseMin,
				CaseMax:   runCaseMax,
			},
			Permutation: guardrails.PermutationSettings{
				Permutations: runPerms,
				EdgeTests:    runEdgeTests,
				Cores:        runCores,
			},
			Lasso: guardrails.LassoSettings{
				Folds:       runFolds,
				MaxFeatures: runMaxFeatures,
				Alpha:       runLassoAlpha,
			},
		},
		AdvancedUnlocked: runAdvanced,
		Verbose:          runVerbose,
	})
	if err != nil {
		return err
	}

	if err := writeOutputs(runOutDir, outcome); err != nil {
		return err
	}
	printSummary(cmd, outcome)

	// A failed fit exits nonzero through the error return so deferred
	// work (the metrics dump, log cleanup) still runs; the summary above
	// already told the user why.
	if outcome.Results.Status == contracts.StatusFailed {
		cmd.SilenceErrors = true
		return errAnalysisFailed
	}
	return nil
}

// errAnalysisFailed signals a structured engine failure already reported
// through the run summary.
var errAnalysisFailed = errors.New("analysis failed")

// buildRawSettings maps changed flags onto the raw settings surface.
// Unchanged flags stay nil so the sanitizer's defaulting applies.
func buildRawSettings(cmd *cobra.Command) modelspec.Raw {
	raw := modelspec.Raw{
		Rule:         runRule,
		Aggregator:   runAggregator,
		SignStrategy: runSignStrategy,
	}
	if cmd.Flags().Changed("seed") {
		raw.RandomSeed = &runSeed
	}
	if cmd.Flags().Changed("gamma") {
		raw.Gamma = &runGamma
	}
	if cmd.Flags().Changed("alpha") {
		raw.Alpha = &runAlpha
	}
	if cmd.Flags().Changed("zero-tolerance") {
		raw.ZeroTolerance = &runZeroTolerance
	}
	if runNoScale {
		scale := false
		raw.Scale = &scale
	}
	return raw
}

// writeOutputs persists the outcome artifacts.
func writeOutputs(dir string, outcome *run.Outcome) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, "results.json"), outcome.Results); err != nil {
		return err
	}

	if outcome.Report != nil {
		if err := writeJSON(filepath.Join(dir, "report.json"), outcome.Report); err != nil {
			return err
		}

		edgesFile, err := os.Create(filepath.Join(dir, "edges.csv"))
		if err != nil {
			return err
		}
		defer edgesFile.Close()
		if err := netmetrics.WriteEdgesCSV(edgesFile, outcome.Results.Edges); err != nil {
			return err
		}

		metrics := make([]netmetrics.NodeMetrics, len(outcome.Report.Nodes))
		for i, n := range outcome.Report.Nodes {
			metrics[i] = n.NodeMetrics
		}
		nodesFile, err := os.Create(filepath.Join(dir, "node_metrics.csv"))
		if err != nil {
			return err
		}
		defer nodesFile.Close()
		if err := netmetrics.WriteNodeMetricsCSV(nodesFile, metrics); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o640)
}

func printSummary(cmd *cobra.Command, outcome *run.Outcome) {
	out := cmd.OutOrStdout()
	doc := outcome.Results

	fmt.Fprintf(out, "analysis %s: %s\n", doc.AnalysisID, doc.Status)
	fmt.Fprintf(out, "  nodes: %d  edges: %d\n", len(doc.Nodes), len(doc.Edges))
	if outcome.Cached {
		fmt.Fprintln(out, "  served from run cache")
	}
	for _, msg := range doc.Messages {
		fmt.Fprintf(out, "  [%s] %s: %s\n", msg.Level, msg.Code, msg.Text)
	}
}

// setupMetricsDump installs a manual-reader meter provider and returns a
// function that collects and prints everything recorded so far.
func setupMetricsDump(ctx context.Context) (func(), error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	return func() {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(ctx, &rm); err != nil {
			logger.Warn("metrics collection failed", "error", err)
			return
		}
		if err := exporter.Export(ctx, &rm); err != nil {
			logger.Warn("metrics export failed", "error", err)
		}
		_ = provider.Shutdown(ctx)
	}, nil
}
