// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package posthoc merges the optional engine posthoc pass (per-node
// predictability, community detection) with locally derived centrality
// metrics into one per-node report.
//
// The engine's community detection runs a fallback chain: the preferred
// algorithm first, then progressively cheaper strategies, ending at
// "none" when every algorithm failed. The merge surfaces a diagnostic
// whenever what ran differs from what was requested, so a silently
// degraded community structure is visible in the report.
package posthoc

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/netmetrics"
)

// CodeCommunityFallback flags community detection that fell back from
// the requested algorithm.
const CodeCommunityFallback = "COMMUNITY_ALGORITHM_FALLBACK"

// FallbackChain is the community detection strategy order the engine
// walks. "none" means no community structure was produced.
var FallbackChain = []string{"walktrap", "louvain", "none"}

// NodeReport is one node with every posthoc enrichment that applies to
// it. Pointer fields are nil when the corresponding posthoc block was
// absent or did not cover the node.
type NodeReport struct {
	netmetrics.NodeMetrics

	Predictability *float64 `json:"predictability,omitempty"`
	Community      *int     `json:"community,omitempty"`
}

// Report is the merged posthoc view of one completed run.
type Report struct {
	Nodes []NodeReport `json:"nodes"`

	// Communities echoes the engine's community block when present.
	Communities *contracts.CommunityBlock `json:"communities,omitempty"`

	Messages []contracts.Message `json:"messages,omitempty"`
}

// Merge joins derived node metrics with an optional posthoc document.
// A nil document yields a metrics-only report. Output node order follows
// the (already sorted) metrics input.
func Merge(metrics []netmetrics.NodeMetrics, doc *contracts.PosthocDocument) *Report {
	report := &Report{Nodes: make([]NodeReport, len(metrics))}
	for i, m := range metrics {
		report.Nodes[i] = NodeReport{NodeMetrics: m}
	}

	if doc == nil {
		return report
	}

	if doc.Predictability.Enabled {
		for i := range report.Nodes {
			if v, ok := doc.Predictability.ByNode[report.Nodes[i].ID]; ok {
				value := v
				report.Nodes[i].Predictability = &value
			}
		}
	}

	if doc.Communities.Enabled {
		communities := doc.Communities
		report.Communities = &communities

		for i := range report.Nodes {
			if c, ok := communities.Assignments[report.Nodes[i].ID]; ok {
				assignment := c
				report.Nodes[i].Community = &assignment
			}
		}

		if msg := fallbackMessage(communities); msg != nil {
			report.Messages = append(report.Messages, *msg)
		}
	}

	report.Messages = append(report.Messages, doc.Messages...)
	return report
}

// CommunitySizes tallies members per community id, sorted by id.
func CommunitySizes(block *contracts.CommunityBlock) []int {
	if block == nil || len(block.Assignments) == 0 {
		return nil
	}

	counts := make(map[int]int)
	for _, c := range block.Assignments {
		counts[c]++
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = counts[id]
	}
	return out
}

// fallbackMessage reports a community algorithm that differs from the
// requested one.
func fallbackMessage(block contracts.CommunityBlock) *contracts.Message {
	if block.Requested == "" || block.Algorithm == block.Requested {
		return nil
	}

	text := fmt.Sprintf("community detection fell back from %q to %q", block.Requested, block.Algorithm)
	if block.Algorithm == "none" {
		text = fmt.Sprintf("community detection failed for %q and every fallback; no community structure produced",
			block.Requested)
	}

	return &contracts.Message{
		Level: "warning",
		Code:  CodeCommunityFallback,
		Text:  text,
		Details: map[string]any{
			"requested": block.Requested,
			"ran":       block.Algorithm,
		},
	}
}
