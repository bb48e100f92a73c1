// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package run orchestrates one complete analysis: dataset checks, spec
// building, guardrail normalization, the engine exchange, edge
// aggregation, and posthoc enrichment, with completed runs memoized by
// settings hash.
//
// Dataset-level problems (missing data, encoding mismatches) never reach
// the engine and never surface as Go errors: they become failed results
// documents with stable diagnostic codes, detected before any
// computation begins. Go errors are reserved for infrastructure
// failures — a missing engine binary, a timeout, unusable engine output.
package run

import (
	"context"
	"time"

	"github.com/AleutianAI/netweave/pkg/logging"
	"github.com/AleutianAI/netweave/services/analysis/bridge"
	"github.com/AleutianAI/netweave/services/analysis/cache"
	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/dataset"
	"github.com/AleutianAI/netweave/services/analysis/edges"
	"github.com/AleutianAI/netweave/services/analysis/hashing"
	"github.com/AleutianAI/netweave/services/analysis/modelspec"
	"github.com/AleutianAI/netweave/services/analysis/netmetrics"
	"github.com/AleutianAI/netweave/services/analysis/posthoc"
)

// ResultsVersion is the results contract version stamped on documents
// this runner assembles locally (pre-engine aborts).
const ResultsVersion = "0.1.0"

// =============================================================================
// Request / Outcome
// =============================================================================

// Request describes one analysis run.
type Request struct {
	// Module selects the registered analysis module.
	Module string

	// Data is the raw CSV payload.
	Data []byte

	// Schema describes the dataset variables. When nil, variables are
	// inferred from the data.
	Schema *contracts.SchemaDocument

	// Settings are the model settings; locked fields are forced during
	// sanitization regardless of what is supplied here.
	Settings modelspec.Raw

	// ModuleSettings carry the per-module heavy-computation knobs.
	ModuleSettings ModuleSettings

	// AdvancedUnlocked widens the guardrail envelope from safe maxima to
	// hard maxima.
	AdvancedUnlocked bool

	// Verbose attaches raw parameter block values to emitted edges.
	Verbose bool
}

// Outcome is one completed analysis.
type Outcome struct {
	Results *contracts.ResultsDocument

	// Report is the merged node-level view (centrality plus posthoc
	// enrichment). Nil for failed runs.
	Report *posthoc.Report

	// Spec is the sanitized model spec the run executed under.
	Spec *contracts.ModelSpecDocument

	// Cached reports that the outcome came from the run cache rather
	// than a fresh engine invocation.
	Cached bool
}

// =============================================================================
// Runner
// =============================================================================

// Runner wires the analysis pipeline together.
type Runner struct {
	bridge *bridge.Bridge
	store  *cache.Store
	log    *logging.Logger
}

// NewRunner assembles a runner around an engine bridge.
func NewRunner(b *bridge.Bridge, store *cache.Store, log *logging.Logger) *Runner {
	if store == nil {
		store = cache.New()
	}
	return &Runner{bridge: b, store: store, log: log}
}

// Run executes one analysis end to end.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	module, err := Lookup(req.Module)
	if err != nil {
		return nil, err
	}

	table, err := dataset.Parse(req.Data)
	if err != nil {
		return nil, err
	}

	schema := req.Schema
	if schema == nil {
		schema, err = dataset.BuildSchema(table, dataset.InferVariables(table), dataset.Meta{})
		if err != nil {
			return nil, err
		}
	}

	sanitized := modelspec.Sanitize(req.Settings)
	spec, err := modelspec.Build(schema, sanitized,
		modelspec.WithContentHashes(mustSHA256JSON(schema), table.SHA256()))
	if err != nil {
		return nil, err
	}

	hashes := contracts.InputHashes{
		DataSHA256:   table.SHA256(),
		SchemaSHA256: mustSHA256JSON(schema),
		SpecSHA256:   mustSHA256JSON(spec),
	}

	// Pre-engine dataset checks. Both abort paths produce a failed
	// results document locally; the engine is never invoked.
	if table.HasMissing() {
		r.log.Warn("missing data detected, aborting before engine",
			"analysis_id", spec.AnalysisID,
			"cell_count", table.MissingProfile().CellCount)
		return r.abortedOutcome(spec, schema, hashes, contracts.Message{
			Level: "error",
			Code:  dataset.CodeMissingDataAbort,
			Text:  "dataset contains missing values and the missing policy is abort; preprocess the data and retry",
			Details: map[string]any{
				"cell_count": table.MissingProfile().CellCount,
				"rate":       table.MissingProfile().Rate,
			},
		}), nil
	}
	if msgs := dataset.CheckEncoding(table, schema); len(msgs) > 0 {
		r.log.Warn("encoding check failed, aborting before engine",
			"analysis_id", spec.AnalysisID, "problems", len(msgs))
		return r.abortedOutcome(spec, schema, hashes, msgs...), nil
	}

	settings, flags, clampWarnings := req.ModuleSettings.normalize(module.Name, req.AdvancedUnlocked)

	key, err := cache.Key(hashes.DataSHA256, cacheKeySettings{
		Module:       module.Name,
		SchemaSHA256: hashes.SchemaSHA256,
		Model:        sanitized,
		Settings:     settings,
		Verbose:      req.Verbose,
	})
	if err != nil {
		return nil, err
	}

	bundle, hit, err := r.store.Do(ctx, key, func(ctx context.Context) (*cache.Bundle, error) {
		return r.invoke(ctx, module, req, schema, spec, flags, clampWarnings)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		r.log.Info("run served from cache", "analysis_id", spec.AnalysisID, "module", module.Name)
	}

	outcome := &Outcome{
		Results: bundle.Results,
		Spec:    spec,
		Cached:  hit,
	}
	if bundle.Results.Status == contracts.StatusSuccess {
		metrics := netmetrics.Compute(bundle.Results.Nodes, bundle.Results.Edges)
		outcome.Report = posthoc.Merge(metrics, bundle.Posthoc)
	}
	return outcome, nil
}

// invoke performs one uncached engine exchange and finishes the results
// document: guardrail warnings are folded in, raw blocks are aggregated
// into edges, and the finished document is re-validated before it is
// allowed into the cache.
func (r *Runner) invoke(
	ctx context.Context,
	module Module,
	req Request,
	schema *contracts.SchemaDocument,
	spec *contracts.ModelSpecDocument,
	flags []string,
	clampWarnings []contracts.Message,
) (*cache.Bundle, error) {
	res, err := r.bridge.Execute(ctx, bridge.Request{
		Script:      module.Script,
		Data:        req.Data,
		Schema:      schema,
		Spec:        spec,
		ModuleFlags: flags,
		Timeout:     module.Timeout,
		Debug:       req.Verbose,
	})
	if err != nil {
		return nil, err
	}

	doc := res.Results
	doc.Messages = append(clampWarnings, doc.Messages...)

	if doc.Status == contracts.StatusSuccess && len(doc.Blocks) > 0 {
		edgeList, err := edges.Aggregate(doc.Blocks, spec.EdgeMapping, req.Verbose)
		if err != nil {
			return nil, err
		}
		doc.Edges = edgeList
	}

	if err := contracts.ValidateResults(doc); err != nil {
		return nil, err
	}
	return &cache.Bundle{Results: doc, Posthoc: res.Posthoc}, nil
}

// abortedOutcome assembles a failed results document for a run stopped
// before the engine, carrying the schema's nodes for traceability.
func (r *Runner) abortedOutcome(
	spec *contracts.ModelSpecDocument,
	schema *contracts.SchemaDocument,
	hashes contracts.InputHashes,
	msgs ...contracts.Message,
) *Outcome {
	nodes := make([]contracts.NodeRecord, len(schema.Variables))
	for i, v := range schema.Variables {
		nodes[i] = contracts.NodeRecord{
			ID:    v.ID,
			Label: v.Label,
			Type:  v.Type,
			Level: v.Level,
		}
	}

	doc := &contracts.ResultsDocument{
		ResultsVersion: ResultsVersion,
		AnalysisID:     spec.AnalysisID,
		CreatedAt:      time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Status:         contracts.StatusFailed,
		Engine:         spec.Engine,
		Input:          hashes,
		Nodes:          nodes,
		Edges:          []contracts.EdgeRecord{},
		Messages:       msgs,
	}
	return &Outcome{Results: doc, Spec: spec}
}

// cacheKeySettings is the settings payload hashed into the run cache
// key. The schema content hash is included so a caller-supplied schema
// change invalidates the key even when data and settings are identical;
// the spec document itself is covered through its sanitized settings.
// Field order matters for the canonical encoding; do not reorder.
type cacheKeySettings struct {
	Module       string              `json:"module"`
	SchemaSHA256 string              `json:"schema_sha256"`
	Model        modelspec.Sanitized `json:"model"`
	Settings     ModuleSettings      `json:"settings"`
	Verbose      bool                `json:"verbose"`
}

// mustSHA256JSON hashes a document that is known to marshal cleanly.
// The document types contain no unmarshalable values, so a failure here
// is a programming error.
func mustSHA256JSON(v any) string {
	h, err := hashing.SHA256JSON(v)
	if err != nil {
		panic(err)
	}
	return h
}
