// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contracts defines the structured documents exchanged between the
// orchestrator and the external fitting engine, and validates them.
//
// Three document kinds cross the process boundary:
//
//   - schema: dataset metadata and variable specifications
//   - model_spec: model parameters, edge mapping, and locked policies
//   - results: engine output with nodes, raw parameter blocks, and edges
//
// A fourth, optional kind (posthoc) carries predictability and community
// detection output produced by a follow-up engine pass.
//
// Documents are value objects: once decoded and validated they are never
// mutated. Validation is applied both to documents built by this system
// and to documents returned by the engine — engine output is untrusted
// until it passes the same checks.
package contracts

// =============================================================================
// Shared Types
// =============================================================================

// VariableType classifies a dataset column for the model.
type VariableType string

const (
	// VariableContinuous is a real-valued measurement.
	VariableContinuous VariableType = "continuous"

	// VariableCategorical is a finite unordered or ordered category set.
	VariableCategorical VariableType = "categorical"

	// VariableCount is a non-negative integer count.
	VariableCount VariableType = "count"
)

// Status reports whether an engine run produced a usable model.
type Status string

const (
	// StatusSuccess means the engine fit completed and edges are usable.
	StatusSuccess Status = "success"

	// StatusFailed means the engine aborted; nodes are still reported for
	// traceability and the edge list is empty.
	StatusFailed Status = "failed"
)

// EdgeSign labels the direction of an aggregated edge.
type EdgeSign string

const (
	SignPositive EdgeSign = "positive"
	SignNegative EdgeSign = "negative"
	SignZero     EdgeSign = "zero"
	SignUnsigned EdgeSign = "unsigned"
)

// Message is a diagnostic emitted by any stage of the pipeline. The same
// shape is used by guardrails, the dataset checks, and the engine.
type Message struct {
	Level   string         `json:"level" validate:"required,oneof=info warning error"`
	Code    string         `json:"code" validate:"required"`
	Text    string         `json:"message" validate:"required"`
	Details map[string]any `json:"details,omitempty"`
}

// EngineInfo identifies the external fitting engine.
type EngineInfo struct {
	Name    string `json:"name" validate:"required"`
	Mode    string `json:"mode,omitempty"`
	Version string `json:"version,omitempty"`
}

// =============================================================================
// Schema Document
// =============================================================================

// MissingProfile summarizes missing cells in the dataset.
type MissingProfile struct {
	CellCount int     `json:"cell_count" validate:"gte=0"`
	Rate      float64 `json:"rate" validate:"gte=0,lte=1"`
}

// DatasetInfo carries dataset-level metadata.
type DatasetInfo struct {
	Name        string         `json:"name,omitempty"`
	Source      string         `json:"source,omitempty"`
	RowCount    int            `json:"row_count" validate:"required,gte=1"`
	ColumnCount int            `json:"column_count" validate:"required,gte=1"`
	Missing     MissingProfile `json:"missing"`
}

// VariableSpec describes one modeled variable.
//
// Invariants (enforced by the validator beyond struct tags):
//   - ID is unique across the document
//   - categorical variables have Level == len(Categories)
//   - non-categorical variables have Level == 1 and no Categories
type VariableSpec struct {
	// ID is the stable token used in spec and results documents.
	ID string `json:"id" validate:"required"`

	// Column is the source column name in the dataset.
	Column string `json:"column" validate:"required"`

	Type VariableType `json:"type" validate:"required,oneof=continuous categorical count"`

	// Measurement is the measurement level, when declared.
	Measurement string `json:"measurement,omitempty" validate:"omitempty,oneof=nominal ordinal interval ratio"`

	// Level is the category count; always 1 for non-categorical variables.
	Level int `json:"level" validate:"required,gte=1"`

	// Categories lists the ordered category values for categorical
	// variables.
	Categories []string `json:"categories,omitempty"`

	Label  string `json:"label,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// SchemaDocument is the variable/schema contract document.
type SchemaDocument struct {
	SchemaVersion string `json:"schema_version" validate:"required"`
	CreatedAt     string `json:"created_at,omitempty"`

	// AnalysisID is optional here; the spec builder reuses it when present.
	AnalysisID string `json:"analysis_id,omitempty" validate:"omitempty,uuid4"`

	Dataset   DatasetInfo    `json:"dataset"`
	Variables []VariableSpec `json:"variables" validate:"required,min=1,dive"`
	Warnings  []Message      `json:"warnings,omitempty" validate:"omitempty,dive"`
}

// Variable returns the variable with the given id, or nil.
func (s *SchemaDocument) Variable(id string) *VariableSpec {
	for i := range s.Variables {
		if s.Variables[i].ID == id {
			return &s.Variables[i]
		}
	}
	return nil
}

// =============================================================================
// Model Spec Document
// =============================================================================

// Locked values forced by the spec builder regardless of caller input.
// These are deliberate safety invariants, not user-configurable settings.
const (
	// LockedInteractionOrder restricts the model to pairwise interactions.
	LockedInteractionOrder = 2

	// LockedMissingAction aborts the run on missing data; imputation is
	// out of scope by design.
	LockedMissingAction = "abort"

	// LockedSelectionCriterion is the sparsity criterion for
	// regularization selection.
	LockedSelectionCriterion = "ebic"
)

// Regularization configures the nodewise regression penalty.
type Regularization struct {
	// Selection is locked to the sparsity criterion.
	Selection string `json:"selection" validate:"required,eq=ebic"`

	// Gamma is the sparsity-penalty weight in [0, 1].
	Gamma float64 `json:"gamma" validate:"gte=0,lte=1"`

	// Alpha is the elastic mixing parameter in [0, 1].
	Alpha float64 `json:"alpha" validate:"gte=0,lte=1"`
}

// ModelBlock configures the fit itself.
type ModelBlock struct {
	// K is the interaction order; locked to 2 (pairwise only).
	K int `json:"k" validate:"required,eq=2"`

	Regularization Regularization `json:"regularization"`

	// Rule combines the two nodewise regressions for a pair.
	Rule string `json:"rule" validate:"required,oneof=and or"`

	// Scale standardizes continuous variables before fitting.
	Scale bool `json:"scale"`
}

// EdgeMapping configures the parameter-block-to-edge aggregation.
type EdgeMapping struct {
	Aggregator    string  `json:"aggregator" validate:"required,oneof=max_abs l2_norm mean mean_abs sum_abs max"`
	SignStrategy  string  `json:"sign_strategy" validate:"required,oneof=dominant mean none"`
	ZeroTolerance float64 `json:"zero_tolerance" validate:"gte=0"`
}

// MissingPolicy is locked to abort: missing data is never imputed.
type MissingPolicy struct {
	Action string `json:"action" validate:"required,eq=abort"`
}

// InputRefs ties a spec document to the exact inputs it was built from.
type InputRefs struct {
	SchemaRef    string `json:"schema_ref" validate:"required"`
	SchemaSHA256 string `json:"schema_sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
	DataSHA256   string `json:"data_sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// ModelSpecDocument is the model-specification contract document.
type ModelSpecDocument struct {
	SpecVersion string `json:"spec_version" validate:"required"`
	AnalysisID  string `json:"analysis_id" validate:"required,uuid4"`
	CreatedAt   string `json:"created_at,omitempty"`

	Input  InputRefs  `json:"input"`
	Engine EngineInfo `json:"engine"`

	RandomSeed int64 `json:"random_seed" validate:"gte=0"`

	Model         ModelBlock    `json:"model"`
	EdgeMapping   EdgeMapping   `json:"edge_mapping"`
	MissingPolicy MissingPolicy `json:"missing_policy"`
}

// =============================================================================
// Results Document
// =============================================================================

// NodeRecord is one variable as reported by the engine. Node records are
// present even on failed runs so that failures remain traceable to the
// modeled variables.
type NodeRecord struct {
	ID    string       `json:"id" validate:"required"`
	Label string       `json:"label,omitempty"`
	Type  VariableType `json:"type" validate:"required,oneof=continuous categorical count"`
	Level int          `json:"level" validate:"required,gte=1"`
}

// ParameterBlock is the ordered list of raw fitted coefficients attached
// to one unordered variable pair. Its cardinality depends on the pair's
// type combination: 1 for continuous-continuous, K for
// continuous-categorical(K), K1*K2 for categorical-categorical.
type ParameterBlock struct {
	Source string    `json:"source" validate:"required"`
	Target string    `json:"target" validate:"required"`
	Values []float64 `json:"values"`
}

// BlockSummary carries the summary statistics of one parameter block
// after non-finite entries have been discarded.
type BlockSummary struct {
	Count  int     `json:"n_params" validate:"gte=1"`
	L2Norm float64 `json:"l2_norm"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	MaxAbs float64 `json:"max_abs"`
}

// EdgeRecord is one canonical undirected edge. Source and Target are in
// lexicographic order so edge identity is order-independent.
type EdgeRecord struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`

	// Weight is the non-negative magnitude under the configured
	// aggregator; exactly 0 when the block fell below zero tolerance.
	Weight float64 `json:"weight" validate:"gte=0"`

	Sign EdgeSign `json:"sign" validate:"required,oneof=positive negative zero unsigned"`

	Summary BlockSummary `json:"block_summary"`

	// Values echoes the raw block only in verbose/debug runs, for
	// auditability. Downstream computation never reads it.
	Values []float64 `json:"values,omitempty"`
}

// InputHashes records the content hashes of the three staged inputs so a
// results document can be tied back to exactly what produced it.
type InputHashes struct {
	DataSHA256   string `json:"data_sha256" validate:"required,len=64,hexadecimal"`
	SchemaSHA256 string `json:"schema_sha256" validate:"required,len=64,hexadecimal"`
	SpecSHA256   string `json:"spec_sha256" validate:"required,len=64,hexadecimal"`
}

// ResultsDocument is the results contract document.
//
// The engine writes nodes, raw parameter blocks, and messages; the edge
// aggregation protocol fills Edges afterwards. A failed run carries nodes
// and messages but no edges.
type ResultsDocument struct {
	ResultsVersion string `json:"results_version" validate:"required"`
	AnalysisID     string `json:"analysis_id" validate:"required,uuid4"`
	CreatedAt      string `json:"created_at,omitempty"`

	Status Status      `json:"status" validate:"required,oneof=success failed"`
	Engine EngineInfo  `json:"engine"`
	Input  InputHashes `json:"input"`

	Nodes []NodeRecord `json:"nodes" validate:"dive"`

	// Blocks is the engine's raw per-pair output.
	Blocks []ParameterBlock `json:"blocks,omitempty" validate:"omitempty,dive"`

	// Edges is the canonical aggregated edge list.
	Edges []EdgeRecord `json:"edges" validate:"dive"`

	Messages []Message `json:"messages,omitempty" validate:"omitempty,dive"`

	// RuntimeSeconds is measured wall-clock engine time. Excluded from
	// the determinism contract along with CreatedAt.
	RuntimeSeconds float64 `json:"runtime_seconds" validate:"gte=0"`
}

// =============================================================================
// Posthoc Document
// =============================================================================

// PredictabilityBlock reports per-node predictability from the posthoc
// engine pass.
type PredictabilityBlock struct {
	Enabled bool               `json:"enabled"`
	Metric  string             `json:"metric,omitempty"`
	ByNode  map[string]float64 `json:"by_node,omitempty"`
}

// CommunityBlock reports community detection output. Algorithm names the
// strategy that actually ran, which may be a fallback from the preferred
// algorithm; Requested preserves what was asked for.
type CommunityBlock struct {
	Enabled      bool           `json:"enabled"`
	Algorithm    string         `json:"algorithm,omitempty"`
	Requested    string         `json:"requested,omitempty"`
	Assignments  map[string]int `json:"assignments,omitempty"`
	NCommunities int            `json:"n_communities,omitempty" validate:"gte=0"`
}

// PosthocDocument is the optional posthoc contract document.
type PosthocDocument struct {
	PosthocVersion string `json:"posthoc_version" validate:"required"`
	AnalysisID     string `json:"analysis_id,omitempty" validate:"omitempty,uuid4"`

	Predictability PredictabilityBlock `json:"predictability"`
	Communities    CommunityBlock      `json:"communities"`

	Messages []Message `json:"messages,omitempty" validate:"omitempty,dive"`
}
