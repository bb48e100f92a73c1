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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

// errDocumentInvalid signals a validation failure already reported on
// stdout; it exists to carry the nonzero exit code without double
// printing.
var errDocumentInvalid = errors.New("document is invalid")

// validateCmd checks a contract document against its kind.
var validateCmd = &cobra.Command{
	Use:   "validate KIND FILE",
	Short: "Validate a contract document",
	Long: `Validate a contract document file against its kind.

Kinds:
  schema      - dataset metadata and variable specifications
  model_spec  - model parameters, edge mapping, and locked policies
  results     - engine output with nodes, blocks, and edges
  posthoc     - optional predictability and community output

Exit status is 0 for a valid document and 1 otherwise. Every violation
is reported as a JSON-pointer path with a message.

Examples:
  netweave validate schema schema.json
  netweave validate results out/results.json`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	kind, err := contracts.ParseKind(args[0])
	if err != nil {
		return fmt.Errorf("%v (expected one of: schema, model_spec, results, posthoc)", err)
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	doc, err := contracts.Decode(kind, data)
	if err == nil {
		err = contracts.Validate(kind, doc)
	}

	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %s is a valid %s document\n", args[1], kind)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "FAIL: %s is not a valid %s document\n", args[1], kind)
	if cerr, ok := contracts.AsContractError(err); ok {
		for _, v := range cerr.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", v.Path, v.Message)
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", strings.TrimSpace(err.Error()))
	}

	cmd.SilenceErrors = true
	return errDocumentInvalid
}
