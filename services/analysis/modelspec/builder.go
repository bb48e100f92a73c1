// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modelspec builds valid model-specification documents from a
// schema document and caller-supplied settings.
//
// Settings pass through Sanitize before they reach a document: numeric
// fields are clamped to their valid ranges, enum fields are normalized
// and defaulted, and the three locked fields (interaction order, missing
// policy, selection criterion) are unconditionally overwritten no matter
// what the caller supplied. Build then guarantees that its output passes
// contract validation — a violation there is a programming error, never a
// user-facing failure.
package modelspec

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/netweave/services/analysis/contracts"
)

// =============================================================================
// Defaults
// =============================================================================

// SpecVersion is the model-spec contract version this builder emits.
const SpecVersion = "0.1.0"

// Engine identity for the external fitting process.
const (
	EngineName = "r.mgm"
	EngineMode = "subprocess"
)

// Default settings values. Enum defaults double as the fallback for
// unrecognized caller input.
const (
	DefaultSeed          int64   = 1
	DefaultGamma         float64 = 0.5
	DefaultAlpha         float64 = 0.5
	DefaultRule                  = "and"
	DefaultAggregator            = "max_abs"
	DefaultSignStrategy          = "dominant"
	DefaultZeroTolerance float64 = 1e-5
)

// =============================================================================
// Settings
// =============================================================================

// Raw is the caller-facing settings surface. Pointer fields distinguish
// "not supplied" (defaulted) from an explicit zero value.
//
// The three locked fields are present so that callers can attempt to set
// them — and observe that Sanitize forces them back.
type Raw struct {
	RandomSeed *int64

	// InteractionOrder is ignored: the sanitizer always forces 2.
	InteractionOrder int

	// SelectionCriterion is ignored: the sanitizer always forces the
	// sparsity criterion.
	SelectionCriterion string

	// MissingAction is ignored: the sanitizer always forces abort.
	MissingAction string

	Gamma *float64
	Alpha *float64
	Rule  string
	Scale *bool

	Aggregator    string
	SignStrategy  string
	ZeroTolerance *float64
}

// Sanitized holds settings after clamping, normalization, and lock
// enforcement. Only Sanitize produces values of this type.
type Sanitized struct {
	RandomSeed int64

	InteractionOrder   int
	SelectionCriterion string
	MissingAction      string

	Gamma float64
	Alpha float64
	Rule  string
	Scale bool

	Aggregator    string
	SignStrategy  string
	ZeroTolerance float64
}

// Sanitize validates and coerces raw settings to safe values.
//
// Behavior per field class:
//   - numeric: clamped to the declared valid range; non-finite input
//     falls back to the default
//   - enum: trimmed, lowercased, and defaulted when unrecognized
//   - locked: unconditionally overwritten regardless of caller input
func Sanitize(raw Raw) Sanitized {
	s := Sanitized{
		// Locked fields: forced, never negotiable
		InteractionOrder:   contracts.LockedInteractionOrder,
		SelectionCriterion: contracts.LockedSelectionCriterion,
		MissingAction:      contracts.LockedMissingAction,

		RandomSeed:    DefaultSeed,
		Gamma:         DefaultGamma,
		Alpha:         DefaultAlpha,
		Rule:          DefaultRule,
		Scale:         true,
		Aggregator:    DefaultAggregator,
		SignStrategy:  DefaultSignStrategy,
		ZeroTolerance: DefaultZeroTolerance,
	}

	if raw.RandomSeed != nil {
		s.RandomSeed = *raw.RandomSeed
		if s.RandomSeed < 0 {
			s.RandomSeed = 0
		}
	}
	if raw.Gamma != nil {
		s.Gamma = clampFloat(*raw.Gamma, 0, 1, DefaultGamma)
	}
	if raw.Alpha != nil {
		s.Alpha = clampFloat(*raw.Alpha, 0, 1, DefaultAlpha)
	}
	if raw.Scale != nil {
		s.Scale = *raw.Scale
	}
	if raw.ZeroTolerance != nil {
		s.ZeroTolerance = clampFloat(*raw.ZeroTolerance, 0, math.MaxFloat64, DefaultZeroTolerance)
	}

	s.Rule = normalizeEnum(raw.Rule, []string{"and", "or"}, DefaultRule)
	s.Aggregator = normalizeEnum(raw.Aggregator,
		[]string{"max_abs", "l2_norm", "mean", "mean_abs", "sum_abs", "max"}, DefaultAggregator)
	s.SignStrategy = normalizeEnum(raw.SignStrategy,
		[]string{"dominant", "mean", "none"}, DefaultSignStrategy)

	return s
}

// =============================================================================
// Builder
// =============================================================================

// Option configures Build.
type Option func(*buildParams)

type buildParams struct {
	analysisID   string
	createdAt    string
	schemaRef    string
	schemaSHA256 string
	dataSHA256   string
}

// WithAnalysisID pins the analysis identifier instead of generating one.
func WithAnalysisID(id string) Option {
	return func(p *buildParams) { p.analysisID = id }
}

// WithCreatedAt pins the creation timestamp (RFC 3339). Used by tests and
// by the determinism contract.
func WithCreatedAt(ts string) Option {
	return func(p *buildParams) { p.createdAt = ts }
}

// WithSchemaRef overrides the schema reference filename.
func WithSchemaRef(ref string) Option {
	return func(p *buildParams) { p.schemaRef = ref }
}

// WithContentHashes attaches the SHA-256 hashes of the schema and data
// artifacts the spec was built against.
func WithContentHashes(schemaSHA256, dataSHA256 string) Option {
	return func(p *buildParams) {
		p.schemaSHA256 = schemaSHA256
		p.dataSHA256 = dataSHA256
	}
}

// Build constructs a model-spec document from a validated schema and
// sanitized settings.
//
// The analysis identifier resolves in order: option, schema document,
// freshly generated UUIDv4. The output always passes contract validation
// for the model-spec kind; an error return here indicates a bug in this
// package, not bad caller input.
func Build(schema *contracts.SchemaDocument, s Sanitized, opts ...Option) (*contracts.ModelSpecDocument, error) {
	p := buildParams{schemaRef: "schema.json"}
	for _, opt := range opts {
		opt(&p)
	}

	analysisID := p.analysisID
	if analysisID == "" {
		analysisID = schema.AnalysisID
	}
	if analysisID == "" {
		analysisID = uuid.NewString()
	}

	createdAt := p.createdAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}

	doc := &contracts.ModelSpecDocument{
		SpecVersion: SpecVersion,
		AnalysisID:  analysisID,
		CreatedAt:   createdAt,
		Input: contracts.InputRefs{
			SchemaRef:    p.schemaRef,
			SchemaSHA256: p.schemaSHA256,
			DataSHA256:   p.dataSHA256,
		},
		Engine: contracts.EngineInfo{
			Name: EngineName,
			Mode: EngineMode,
		},
		RandomSeed: s.RandomSeed,
		Model: contracts.ModelBlock{
			K: s.InteractionOrder,
			Regularization: contracts.Regularization{
				Selection: s.SelectionCriterion,
				Gamma:     s.Gamma,
				Alpha:     s.Alpha,
			},
			Rule:  s.Rule,
			Scale: s.Scale,
		},
		EdgeMapping: contracts.EdgeMapping{
			Aggregator:    s.Aggregator,
			SignStrategy:  s.SignStrategy,
			ZeroTolerance: s.ZeroTolerance,
		},
		MissingPolicy: contracts.MissingPolicy{
			Action: s.MissingAction,
		},
	}

	if err := contracts.ValidateModelSpec(doc); err != nil {
		return nil, fmt.Errorf("built spec failed its own contract (bug): %w", err)
	}
	return doc, nil
}

// =============================================================================
// Helpers
// =============================================================================

// clampFloat clamps v into [lo, hi]; non-finite input yields fallback.
func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeEnum trims and lowercases value, returning fallback when the
// result is not in allowed.
func normalizeEnum(value string, allowed []string, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return fallback
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}
