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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/guardrails"
)

// Module names accepted by the runner.
const (
	ModuleCore        = "core"
	ModuleBootstrap   = "bootstrap"
	ModulePermutation = "permutation"
	ModuleLasso       = "lasso"
	ModuleTemporal    = "temporal"
	ModulePubpack     = "pubpack"
)

// ErrUnknownModule is returned for a module name outside the registry.
var ErrUnknownModule = errors.New("unknown analysis module")

// Module describes one registered analysis module: which engine script
// it runs, how long it may take, and how its settings are normalized
// into command-line flags.
type Module struct {
	Name   string
	Script string

	// Timeout is the per-run deadline for this module. The heavy modules
	// get generous deadlines; core fits are quick.
	Timeout time.Duration
}

// registry maps module names to their engine entry points.
var registry = map[string]Module{
	ModuleCore:        {Name: ModuleCore, Script: "run_mgm.R", Timeout: 10 * time.Minute},
	ModuleBootstrap:   {Name: ModuleBootstrap, Script: "run_bootnet.R", Timeout: 60 * time.Minute},
	ModulePermutation: {Name: ModulePermutation, Script: "run_nct.R", Timeout: 60 * time.Minute},
	ModuleLasso:       {Name: ModuleLasso, Script: "run_lasso.R", Timeout: 30 * time.Minute},
	ModuleTemporal:    {Name: ModuleTemporal, Script: "run_tvmgm.R", Timeout: 30 * time.Minute},
	ModulePubpack:     {Name: ModulePubpack, Script: "run_pubpack.R", Timeout: 10 * time.Minute},
}

// Lookup resolves a module by name.
func Lookup(name string) (Module, error) {
	m, ok := registry[name]
	if !ok {
		return Module{}, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return m, nil
}

// ModuleNames lists the registered modules, sorted.
func ModuleNames() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ModuleSettings is the per-module settings union. At most one block is
// consulted, matching the requested module; the rest are ignored.
type ModuleSettings struct {
	Bootstrap   guardrails.BootstrapSettings   `json:"bootstrap,omitempty"`
	Permutation guardrails.PermutationSettings `json:"permutation,omitempty"`
	Lasso       guardrails.LassoSettings       `json:"lasso,omitempty"`
}

// normalize applies the module's guardrail envelope and returns the
// normalized settings, the engine flags they produce, and any clamp
// warnings.
func (s ModuleSettings) normalize(module string, advancedUnlocked bool) (ModuleSettings, []string, []contracts.Message) {
	switch module {
	case ModuleBootstrap:
		norm, warnings := s.Bootstrap.Normalize(advancedUnlocked)
		s.Bootstrap = norm
		flags := []string{
			"--n_boots_np", strconv.Itoa(norm.Boots),
			"--n_boots_case", strconv.Itoa(norm.CaseBoots),
			"--n_cores", strconv.Itoa(norm.Cores),
			"--caseMin", formatFloat(norm.CaseMin),
			"--caseMax", formatFloat(norm.CaseMax),
		}
		return s, flags, warnings

	case ModulePermutation:
		norm, warnings := s.Permutation.Normalize(advancedUnlocked)
		s.Permutation = norm
		flags := []string{
			"--n_perms", strconv.Itoa(norm.Permutations),
			"--edge_tests", strconv.FormatBool(norm.EdgeTests),
			"--n_cores", strconv.Itoa(norm.Cores),
		}
		return s, flags, warnings

	case ModuleLasso:
		norm, warnings := s.Lasso.Normalize(advancedUnlocked)
		s.Lasso = norm
		flags := []string{
			"--n_folds", strconv.Itoa(norm.Folds),
			"--max_features", strconv.Itoa(norm.MaxFeatures),
			"--alpha", formatFloat(norm.Alpha),
		}
		return s, flags, warnings

	default:
		// core, temporal, and pubpack carry no guardrailed settings.
		return s, nil, nil
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
