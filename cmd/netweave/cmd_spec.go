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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/dataset"
	"github.com/AleutianAI/netweave/services/analysis/hashing"
	"github.com/AleutianAI/netweave/services/analysis/modelspec"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	specSchemaPath string
	specOutPath    string

	specSeed          int64
	specGamma         float64
	specAlpha         float64
	specRule          string
	specNoScale       bool
	specAggregator    string
	specSignStrategy  string
	specZeroTolerance float64
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// specCmd builds a model-spec document without invoking the engine.
var specCmd = &cobra.Command{
	Use:   "spec DATA.csv",
	Short: "Build a model-spec document from a dataset without running",
	Long: `Build and print the sanitized model-spec document an analysis run
would execute under, without invoking the engine.

Settings pass through the same sanitizer as a real run: out-of-range
numerics are clamped, unrecognized enum values fall back to defaults,
and the locked fields are forced. The emitted document embeds the
content hashes of the schema and data it was built against.

Examples:
  netweave spec data.csv
  netweave spec data.csv --gamma 0.25 --aggregator l2_norm
  netweave spec data.csv --schema schema.json -o model_spec.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSpec,
}

func init() {
	specCmd.Flags().StringVar(&specSchemaPath, "schema", "", "schema document (inferred from data when omitted)")
	specCmd.Flags().StringVarP(&specOutPath, "out", "o", "", "write the document to a file instead of stdout")

	specCmd.Flags().Int64Var(&specSeed, "seed", modelspec.DefaultSeed, "engine random seed")
	specCmd.Flags().Float64Var(&specGamma, "gamma", modelspec.DefaultGamma, "sparsity-penalty weight [0,1]")
	specCmd.Flags().Float64Var(&specAlpha, "alpha", modelspec.DefaultAlpha, "elastic mixing parameter [0,1]")
	specCmd.Flags().StringVar(&specRule, "rule", modelspec.DefaultRule, "edge combination rule: and, or")
	specCmd.Flags().BoolVar(&specNoScale, "no-scale", false, "disable standardization of continuous variables")
	specCmd.Flags().StringVar(&specAggregator, "aggregator", modelspec.DefaultAggregator,
		"block aggregator: max_abs, l2_norm, mean, mean_abs, sum_abs, max")
	specCmd.Flags().StringVar(&specSignStrategy, "sign-strategy", modelspec.DefaultSignStrategy,
		"edge sign strategy: dominant, mean, none")
	specCmd.Flags().Float64Var(&specZeroTolerance, "zero-tolerance", modelspec.DefaultZeroTolerance,
		"weights at or below this magnitude collapse to zero")
}

func runSpec(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	table, err := dataset.Parse(data)
	if err != nil {
		return err
	}

	var schema *contracts.SchemaDocument
	if specSchemaPath != "" {
		raw, err := os.ReadFile(specSchemaPath)
		if err != nil {
			return err
		}
		schema, err = contracts.DecodeSchema(raw)
		if err != nil {
			return err
		}
	} else {
		schema, err = dataset.BuildSchema(table, dataset.InferVariables(table), dataset.Meta{})
		if err != nil {
			return err
		}
	}

	schemaHash, err := hashing.SHA256JSON(schema)
	if err != nil {
		return err
	}

	sanitized := modelspec.Sanitize(buildSpecSettings(cmd))
	spec, err := modelspec.Build(schema, sanitized,
		modelspec.WithContentHashes(schemaHash, table.SHA256()))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return err
	}

	if specOutPath != "" {
		return os.WriteFile(specOutPath, append(out, '\n'), 0o640)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// buildSpecSettings maps changed flags onto the raw settings surface,
// leaving unchanged flags nil so the sanitizer's defaulting applies.
func buildSpecSettings(cmd *cobra.Command) modelspec.Raw {
	raw := modelspec.Raw{
		Rule:         specRule,
		Aggregator:   specAggregator,
		SignStrategy: specSignStrategy,
	}
	if cmd.Flags().Changed("seed") {
		raw.RandomSeed = &specSeed
	}
	if cmd.Flags().Changed("gamma") {
		raw.Gamma = &specGamma
	}
	if cmd.Flags().Changed("alpha") {
		raw.Alpha = &specAlpha
	}
	if cmd.Flags().Changed("zero-tolerance") {
		raw.ZeroTolerance = &specZeroTolerance
	}
	if specNoScale {
		scale := false
		raw.Scale = &scale
	}
	return raw
}
