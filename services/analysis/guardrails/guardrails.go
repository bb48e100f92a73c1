// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrails normalizes and limits the expensive settings of the
// heavy analysis modules before they reach the execution bridge.
//
// Each heavy module (bootstrap robustness, permutation comparison,
// supervised feature selection) has a table of (field, safe max, hard
// max, default). Without the advanced unlock, every field is clamped to
// its safe maximum and sub-features whose cost would exceed the safe
// envelope are disabled outright; with the unlock, only the hard maximum
// applies. One warning is emitted per clamp or disable. Values already
// below a field's default are never raised.
package guardrails

import (
	"fmt"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

// =============================================================================
// Limit Tables
// =============================================================================

// Limit describes the guardrail envelope for one integer field.
type Limit struct {
	Field   string
	SafeMax int
	HardMax int
	Default int

	// Min is the lower bound; requests below it are raised to it.
	Min int
}

// Bootstrap robustness limits.
var (
	limitBoots     = Limit{Field: "n_boots", SafeMax: 500, HardMax: 2000, Default: 200, Min: 1}
	limitCaseBoots = Limit{Field: "n_boots_case", SafeMax: 500, HardMax: 2000, Default: 200, Min: 1}
	limitBootCores = Limit{Field: "n_cores", SafeMax: 1, HardMax: 2, Default: 1, Min: 1}
)

// Permutation comparison limits.
var (
	limitPerms     = Limit{Field: "permutations", SafeMax: 500, HardMax: 5000, Default: 200, Min: 1}
	limitPermCores = Limit{Field: "n_cores", SafeMax: 1, HardMax: 2, Default: 1, Min: 1}
)

// edgeTestsMaxPerms is the permutation count above which per-edge tests
// are too expensive to allow without the advanced unlock.
const edgeTestsMaxPerms = 200

// Feature-selection limits.
var (
	limitFolds       = Limit{Field: "n_folds", SafeMax: 10, HardMax: 20, Default: 5, Min: 2}
	limitMaxFeatures = Limit{Field: "max_features", SafeMax: 100, HardMax: 300, Default: 30, Min: 1}
)

// BootstrapLimits returns the limit table for the bootstrap module.
func BootstrapLimits() []Limit {
	return []Limit{limitBoots, limitCaseBoots, limitBootCores}
}

// PermutationLimits returns the limit table for the permutation module.
func PermutationLimits() []Limit {
	return []Limit{limitPerms, limitPermCores}
}

// LassoLimits returns the limit table for the feature-selection module.
func LassoLimits() []Limit {
	return []Limit{limitFolds, limitMaxFeatures}
}

// =============================================================================
// Bootstrap Robustness
// =============================================================================

// BootstrapSettings configures the robustness bootstrap module.
type BootstrapSettings struct {
	// Boots is the nonparametric bootstrap count.
	Boots int `json:"n_boots"`

	// CaseBoots is the case-dropping bootstrap count.
	CaseBoots int `json:"n_boots_case"`

	Cores int `json:"n_cores"`

	// CaseMin and CaseMax bound the case-dropping proportion range.
	CaseMin float64 `json:"case_min"`
	CaseMax float64 `json:"case_max"`
}

// Normalize applies the guardrail envelope. Zero-valued fields take the
// module defaults first.
func (s BootstrapSettings) Normalize(advancedUnlocked bool) (BootstrapSettings, []contracts.Message) {
	var warnings []contracts.Message

	s.Boots = defaulted(s.Boots, limitBoots.Default)
	s.CaseBoots = defaulted(s.CaseBoots, limitCaseBoots.Default)
	s.Cores = defaulted(s.Cores, limitBootCores.Default)
	if s.CaseMin == 0 && s.CaseMax == 0 {
		s.CaseMin, s.CaseMax = 0.25, 0.75
	}

	s.Boots = clamp(s.Boots, limitBoots, advancedUnlocked, "BOOTSTRAP", &warnings)
	s.CaseBoots = clamp(s.CaseBoots, limitCaseBoots, advancedUnlocked, "BOOTSTRAP", &warnings)
	s.Cores = clamp(s.Cores, limitBootCores, advancedUnlocked, "BOOTSTRAP", &warnings)

	s.CaseMin = clampUnit(s.CaseMin)
	s.CaseMax = clampUnit(s.CaseMax)
	if s.CaseMin >= s.CaseMax {
		s.CaseMin, s.CaseMax = 0.25, 0.75
		warnings = append(warnings, contracts.Message{
			Level: "warning",
			Code:  "BOOTSTRAP_CASE_RANGE_FIXED",
			Text:  "case_min must be below case_max; reset to defaults (0.25, 0.75)",
		})
	}

	return s, warnings
}

// =============================================================================
// Permutation Comparison
// =============================================================================

// PermutationSettings configures the permutation-based comparison module.
type PermutationSettings struct {
	Permutations int `json:"permutations"`

	// EdgeTests enables per-edge difference tests, which multiply cost.
	EdgeTests bool `json:"edge_tests"`

	Cores int `json:"n_cores"`
}

// Normalize applies the guardrail envelope. Beyond the integer clamps,
// edge tests are disabled outright when the permutation count would make
// them exceed the safe envelope and no unlock is held.
func (s PermutationSettings) Normalize(advancedUnlocked bool) (PermutationSettings, []contracts.Message) {
	var warnings []contracts.Message

	s.Permutations = defaulted(s.Permutations, limitPerms.Default)
	s.Cores = defaulted(s.Cores, limitPermCores.Default)

	s.Permutations = clamp(s.Permutations, limitPerms, advancedUnlocked, "PERMUTATION", &warnings)
	s.Cores = clamp(s.Cores, limitPermCores, advancedUnlocked, "PERMUTATION", &warnings)

	if s.EdgeTests && s.Permutations > edgeTestsMaxPerms && !advancedUnlocked {
		s.EdgeTests = false
		warnings = append(warnings, contracts.Message{
			Level: "warning",
			Code:  "PERMUTATION_EDGE_TESTS_DISABLED",
			Text: fmt.Sprintf("per-edge tests disabled: too expensive above %d permutations without the advanced unlock",
				edgeTestsMaxPerms),
			Details: map[string]any{"field": "edge_tests", "permutations": s.Permutations},
		})
	}

	return s, warnings
}

// =============================================================================
// Feature Selection
// =============================================================================

// LassoSettings configures the supervised feature-selection module.
type LassoSettings struct {
	Folds       int `json:"n_folds"`
	MaxFeatures int `json:"max_features"`

	// Alpha is the elastic mixing parameter, clamped to [0, 1].
	Alpha float64 `json:"alpha"`
}

// Normalize applies the guardrail envelope.
func (s LassoSettings) Normalize(advancedUnlocked bool) (LassoSettings, []contracts.Message) {
	var warnings []contracts.Message

	s.Folds = defaulted(s.Folds, limitFolds.Default)
	s.MaxFeatures = defaulted(s.MaxFeatures, limitMaxFeatures.Default)
	if s.Alpha == 0 {
		s.Alpha = 1.0
	}

	s.Folds = clamp(s.Folds, limitFolds, advancedUnlocked, "LASSO", &warnings)
	s.MaxFeatures = clamp(s.MaxFeatures, limitMaxFeatures, advancedUnlocked, "LASSO", &warnings)
	s.Alpha = clampUnit(s.Alpha)

	return s, warnings
}

// =============================================================================
// Helpers
// =============================================================================

// clamp enforces one limit on one field, appending a warning when the
// value was reduced. Safe max applies without the unlock, hard max with
// it. Values at or below the limit pass through untouched — clamping
// never raises a value above its floor.
func clamp(value int, limit Limit, advancedUnlocked bool, modulePrefix string, warnings *[]contracts.Message) int {
	if value < limit.Min {
		return limit.Min
	}

	ceiling := limit.SafeMax
	code := modulePrefix + "_CLAMPED"
	hint := "; enable the advanced unlock for larger runs"
	if advancedUnlocked {
		ceiling = limit.HardMax
		code = modulePrefix + "_HARD_CLAMPED"
		hint = ""
	}

	if value <= ceiling {
		return value
	}

	*warnings = append(*warnings, contracts.Message{
		Level: "warning",
		Code:  code,
		Text:  fmt.Sprintf("%s reduced from %d to %d%s", limit.Field, value, ceiling, hint),
		Details: map[string]any{
			"field":    limit.Field,
			"original": value,
			"limit":    ceiling,
		},
	})
	return ceiling
}

// defaulted substitutes def for an unset (zero) value.
func defaulted(value, def int) int {
	if value == 0 {
		return def
	}
	return value
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
