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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netweave/services/analysis/guardrails"
	"github.com/AleutianAI/netweave/services/analysis/run"
)

// modulesCmd lists the registered analysis modules and their guardrail
// envelopes.
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List analysis modules and their guardrail limits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODULE\tFIELD\tDEFAULT\tSAFE MAX\tHARD MAX")

		tables := map[string][]guardrails.Limit{
			run.ModuleBootstrap:   guardrails.BootstrapLimits(),
			run.ModulePermutation: guardrails.PermutationLimits(),
			run.ModuleLasso:       guardrails.LassoLimits(),
		}

		for _, name := range run.ModuleNames() {
			limits, guarded := tables[name]
			if !guarded {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", name)
				continue
			}
			for _, l := range limits {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", name, l.Field, l.Default, l.SafeMax, l.HardMax)
			}
		}
		return w.Flush()
	},
}
