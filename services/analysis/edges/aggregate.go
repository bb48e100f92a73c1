// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edges reduces per-pair parameter blocks produced by the fitting
// engine into canonical scalar edge records.
//
// For every unordered variable pair the engine reports a block of raw
// coefficients whose size depends on the pair's type combination. This
// package discards non-finite entries, summarizes the block, aggregates
// it to one non-negative magnitude, assigns a sign label, and emits the
// pair in lexicographic order so edge identity is order-independent.
//
// A pair whose block is empty after the finite filter yields no edge:
// disconnection is a valid outcome, not an error. A run in which every
// block is empty is a valid success with zero edges.
package edges

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

// Sentinel errors for aggregation.
var (
	// ErrUnknownAggregator is returned for an aggregator name outside the
	// contract enum. Upstream sanitization makes this unreachable in
	// normal operation.
	ErrUnknownAggregator = errors.New("unknown aggregator")

	// ErrUnknownSignStrategy is the sign-strategy counterpart.
	ErrUnknownSignStrategy = errors.New("unknown sign strategy")

	// ErrDuplicatePair is returned when the engine reports the same
	// unordered pair twice. That breaks the engine contract.
	ErrDuplicatePair = errors.New("duplicate parameter block for pair")

	// ErrSelfPair is returned for a block connecting a variable to
	// itself.
	ErrSelfPair = errors.New("self-pair parameter block")
)

// Aggregate converts raw parameter blocks into canonical edge records
// using a single module-wide aggregator and sign strategy — per-pair
// overrides do not exist in the contract.
//
// Raw block values are attached to the emitted records only when verbose
// is set; they are audit material, never computation input. The returned
// slice is sorted by (source, target) for deterministic output.
func Aggregate(blocks []contracts.ParameterBlock, mapping contracts.EdgeMapping, verbose bool) ([]contracts.EdgeRecord, error) {
	out := make([]contracts.EdgeRecord, 0, len(blocks))
	seen := make(map[[2]string]struct{}, len(blocks))

	for _, block := range blocks {
		if block.Source == block.Target {
			return nil, fmt.Errorf("%w: %q", ErrSelfPair, block.Source)
		}

		source, target := block.Source, block.Target
		if source > target {
			source, target = target, source
		}
		key := [2]string{source, target}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: (%s, %s)", ErrDuplicatePair, source, target)
		}
		seen[key] = struct{}{}

		values := finiteValues(block.Values)
		if len(values) == 0 {
			// Disconnection, not an error
			continue
		}

		summary := Summarize(values)

		magnitude, err := applyAggregator(mapping.Aggregator, values, summary)
		if err != nil {
			return nil, err
		}
		weight := math.Abs(magnitude)

		var sign contracts.EdgeSign
		if weight <= mapping.ZeroTolerance {
			weight = 0
			sign = contracts.SignZero
		} else {
			sign, err = applySignStrategy(mapping.SignStrategy, values, summary)
			if err != nil {
				return nil, err
			}
		}

		record := contracts.EdgeRecord{
			Source:  source,
			Target:  target,
			Weight:  weight,
			Sign:    sign,
			Summary: summary,
		}
		if verbose {
			record.Values = append([]float64(nil), block.Values...)
		}
		out = append(out, record)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}

// Summarize computes the block summary statistics over values, which
// must be non-empty and finite.
func Summarize(values []float64) contracts.BlockSummary {
	s := contracts.BlockSummary{
		Count: len(values),
		Max:   values[0],
		Min:   values[0],
	}

	var sum, sumSquares float64
	for _, v := range values {
		sum += v
		sumSquares += v * v
		if v > s.Max {
			s.Max = v
		}
		if v < s.Min {
			s.Min = v
		}
		if abs := math.Abs(v); abs > s.MaxAbs {
			s.MaxAbs = abs
		}
	}

	s.Mean = sum / float64(len(values))
	s.L2Norm = math.Sqrt(sumSquares)
	return s
}

// finiteValues drops NaN and infinite entries, preserving order.
func finiteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// applyAggregator reduces the block to a single scalar. The scalar may be
// signed (mean, max); the caller takes its magnitude for the weight.
func applyAggregator(name string, values []float64, s contracts.BlockSummary) (float64, error) {
	switch name {
	case "max_abs":
		return s.MaxAbs, nil
	case "l2_norm":
		return s.L2Norm, nil
	case "mean":
		return s.Mean, nil
	case "mean_abs":
		var sum float64
		for _, v := range values {
			sum += math.Abs(v)
		}
		return sum / float64(len(values)), nil
	case "sum_abs":
		var sum float64
		for _, v := range values {
			sum += math.Abs(v)
		}
		return sum, nil
	case "max":
		return s.Max, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
	}
}

// applySignStrategy labels an above-tolerance edge.
//
// dominant: sign of the raw entry with the largest absolute value, first
// occurrence winning ties. mean: sign of the arithmetic mean; a mean of
// exactly zero yields unsigned, since the zero label is reserved for
// below-tolerance edges. none: always unsigned.
func applySignStrategy(name string, values []float64, s contracts.BlockSummary) (contracts.EdgeSign, error) {
	switch name {
	case "dominant":
		dominant := values[0]
		best := math.Abs(values[0])
		for _, v := range values[1:] {
			if abs := math.Abs(v); abs > best {
				best = abs
				dominant = v
			}
		}
		return signOf(dominant), nil
	case "mean":
		if s.Mean == 0 {
			return contracts.SignUnsigned, nil
		}
		return signOf(s.Mean), nil
	case "none":
		return contracts.SignUnsigned, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSignStrategy, name)
	}
}

func signOf(v float64) contracts.EdgeSign {
	if v > 0 {
		return contracts.SignPositive
	}
	if v < 0 {
		return contracts.SignNegative
	}
	return contracts.SignUnsigned
}
