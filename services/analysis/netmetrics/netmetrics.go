// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package netmetrics derives node-level centrality metrics from the
// canonical aggregated edge list.
//
// All metrics are computed from edge weights and signs alone, never from
// raw parameter blocks: the edge list is the single source of truth for
// downstream consumers. Zero-weight edges contribute nothing.
package netmetrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

// NodeMetrics carries the per-node centrality values.
type NodeMetrics struct {
	ID string `json:"id"`

	// Degree is the count of nonzero incident edges.
	Degree int `json:"degree"`

	// Strength is the sum of incident edge weights.
	Strength float64 `json:"strength"`

	// ExpectedInfluence is the signed strength: positive edges add their
	// weight, negative edges subtract it, unsigned edges add it.
	ExpectedInfluence float64 `json:"expected_influence"`
}

// Compute derives metrics for every node. Nodes with no incident edges
// are reported with zeros so the output always covers the full node set.
// The result is sorted by node id.
func Compute(nodes []contracts.NodeRecord, edges []contracts.EdgeRecord) []NodeMetrics {
	byID := make(map[string]*NodeMetrics, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &NodeMetrics{ID: n.ID}
	}

	for _, e := range edges {
		if e.Weight == 0 {
			continue
		}
		signed := e.Weight
		if e.Sign == contracts.SignNegative {
			signed = -e.Weight
		}
		for _, id := range []string{e.Source, e.Target} {
			m, ok := byID[id]
			if !ok {
				// Edge endpoint missing from the node list; results
				// validation upstream makes this unreachable.
				continue
			}
			m.Degree++
			m.Strength += e.Weight
			m.ExpectedInfluence += signed
		}
	}

	out := make([]NodeMetrics, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WriteEdgesCSV writes the canonical edge list as CSV with a header row,
// preserving the input order (which is already lexicographic for a valid
// results document).
func WriteEdgesCSV(w io.Writer, edges []contracts.EdgeRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"source", "target", "weight", "sign", "n_params", "max_abs"}); err != nil {
		return fmt.Errorf("write edge csv: %w", err)
	}
	for _, e := range edges {
		row := []string{
			e.Source,
			e.Target,
			strconv.FormatFloat(e.Weight, 'g', -1, 64),
			string(e.Sign),
			strconv.Itoa(e.Summary.Count),
			strconv.FormatFloat(e.Summary.MaxAbs, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write edge csv: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write edge csv: %w", err)
	}
	return nil
}

// WriteNodeMetricsCSV writes node metrics as CSV with a header row.
func WriteNodeMetricsCSV(w io.Writer, metrics []NodeMetrics) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"id", "degree", "strength", "expected_influence"}); err != nil {
		return fmt.Errorf("write node metrics csv: %w", err)
	}
	for _, m := range metrics {
		row := []string{
			m.ID,
			strconv.Itoa(m.Degree),
			strconv.FormatFloat(m.Strength, 'g', -1, 64),
			strconv.FormatFloat(m.ExpectedInfluence, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write node metrics csv: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write node metrics csv: %w", err)
	}
	return nil
}
