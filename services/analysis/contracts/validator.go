// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Contract Kinds
// =============================================================================

// Kind identifies a contract document type.
type Kind string

const (
	KindSchema    Kind = "schema"
	KindModelSpec Kind = "model_spec"
	KindResults   Kind = "results"
	KindPosthoc   Kind = "posthoc"
)

// ParseKind converts a kind name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindSchema, KindModelSpec, KindResults, KindPosthoc:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("%w: %q (must be one of schema, model_spec, results, posthoc)",
			ErrUnknownKind, name)
	}
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// contractValidate is the validator instance for contract documents.
// Initialized in init() so error paths report JSON field names.
var contractValidate *validator.Validate

func init() {
	contractValidate = validator.New()

	// Report JSON names, not Go field names, in validation paths
	contractValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// =============================================================================
// Decoding
// =============================================================================

// Decode parses and validates a document of the given kind from raw JSON.
//
// Decoding is strict: unknown fields are rejected (closed schema) and
// trailing content after the document is an error. The returned value is
// one of *SchemaDocument, *ModelSpecDocument, *ResultsDocument, or
// *PosthocDocument.
//
// Errors:
//
//	ErrUnknownKind - kind is not a contract kind
//	ErrNotJSON - payload is not parseable JSON
//	*ContractError - structural validation failed
func Decode(kind Kind, data []byte) (any, error) {
	switch kind {
	case KindSchema:
		return DecodeSchema(data)
	case KindModelSpec:
		return DecodeModelSpec(data)
	case KindResults:
		return DecodeResults(data)
	case KindPosthoc:
		return DecodePosthoc(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// DecodeSchema strictly parses and validates a schema document.
func DecodeSchema(data []byte) (*SchemaDocument, error) {
	var doc SchemaDocument
	if err := decodeStrict(KindSchema, data, &doc); err != nil {
		return nil, err
	}
	if err := ValidateSchema(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeModelSpec strictly parses and validates a model-spec document.
func DecodeModelSpec(data []byte) (*ModelSpecDocument, error) {
	var doc ModelSpecDocument
	if err := decodeStrict(KindModelSpec, data, &doc); err != nil {
		return nil, err
	}
	if err := ValidateModelSpec(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeResults strictly parses and validates a results document. Used
// defensively on engine output: the engine is outside the trust boundary.
func DecodeResults(data []byte) (*ResultsDocument, error) {
	var doc ResultsDocument
	if err := decodeStrict(KindResults, data, &doc); err != nil {
		return nil, err
	}
	if err := ValidateResults(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodePosthoc strictly parses and validates a posthoc document.
func DecodePosthoc(data []byte) (*PosthocDocument, error) {
	var doc PosthocDocument
	if err := decodeStrict(KindPosthoc, data, &doc); err != nil {
		return nil, err
	}
	if err := ValidatePosthoc(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// decodeStrict unmarshals JSON with unknown fields rejected and trailing
// content treated as an error.
func decodeStrict(kind Kind, data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(out); err != nil {
		var syntaxErr *json.SyntaxError
		if ok := asJSONSyntaxError(err, &syntaxErr); ok {
			return fmt.Errorf("%w: %v", ErrNotJSON, err)
		}
		// Type mismatches and unknown fields are structural problems
		return &ContractError{Kind: kind, Errors: []ValidationError{
			{Path: "/", Message: err.Error()},
		}}
	}
	// Reject trailing content after the document
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return &ContractError{Kind: kind, Errors: []ValidationError{
			{Path: "/", Message: "trailing content after document"},
		}}
	}
	return nil
}

func asJSONSyntaxError(err error, target **json.SyntaxError) bool {
	for err != nil {
		if se, ok := err.(*json.SyntaxError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks a decoded document against its contract. The document
// type must match the kind. Pure and deterministic; no side effects.
func Validate(kind Kind, doc any) error {
	switch kind {
	case KindSchema:
		d, ok := doc.(*SchemaDocument)
		if !ok {
			return fmt.Errorf("kind %s requires *SchemaDocument, got %T", kind, doc)
		}
		return ValidateSchema(d)
	case KindModelSpec:
		d, ok := doc.(*ModelSpecDocument)
		if !ok {
			return fmt.Errorf("kind %s requires *ModelSpecDocument, got %T", kind, doc)
		}
		return ValidateModelSpec(d)
	case KindResults:
		d, ok := doc.(*ResultsDocument)
		if !ok {
			return fmt.Errorf("kind %s requires *ResultsDocument, got %T", kind, doc)
		}
		return ValidateResults(d)
	case KindPosthoc:
		d, ok := doc.(*PosthocDocument)
		if !ok {
			return fmt.Errorf("kind %s requires *PosthocDocument, got %T", kind, doc)
		}
		return ValidatePosthoc(d)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ValidateSchema checks a schema document, including cross-field
// invariants the struct tags cannot express: id uniqueness and the
// level/category agreement per variable type.
func ValidateSchema(doc *SchemaDocument) error {
	errs := structErrors(doc)

	seen := make(map[string]int, len(doc.Variables))
	for i, v := range doc.Variables {
		base := fmt.Sprintf("/variables/%d", i)

		if prev, dup := seen[v.ID]; dup {
			errs = append(errs, ValidationError{
				Path:    base + "/id",
				Message: fmt.Sprintf("duplicate variable id %q (first declared at /variables/%d)", v.ID, prev),
			})
		} else {
			seen[v.ID] = i
		}

		switch v.Type {
		case VariableCategorical:
			if len(v.Categories) == 0 {
				errs = append(errs, ValidationError{
					Path:    base + "/categories",
					Message: "categorical variable must declare its categories",
				})
			} else if v.Level != len(v.Categories) {
				errs = append(errs, ValidationError{
					Path:    base + "/level",
					Message: fmt.Sprintf("level %d does not match category count %d", v.Level, len(v.Categories)),
				})
			}
		case VariableContinuous, VariableCount:
			if v.Level != 1 {
				errs = append(errs, ValidationError{
					Path:    base + "/level",
					Message: fmt.Sprintf("level must be 1 for %s variables, got %d", v.Type, v.Level),
				})
			}
			if len(v.Categories) > 0 {
				errs = append(errs, ValidationError{
					Path:    base + "/categories",
					Message: fmt.Sprintf("%s variables must not declare categories", v.Type),
				})
			}
		}
	}

	if len(errs) > 0 {
		return &ContractError{Kind: KindSchema, Errors: errs}
	}
	return nil
}

// ValidateModelSpec checks a model-spec document. The locked-field
// constraints (k=2, missing action, selection criterion) are part of the
// contract itself, so a document that tampered with them fails here even
// if it bypassed the spec builder.
func ValidateModelSpec(doc *ModelSpecDocument) error {
	errs := structErrors(doc)
	if len(errs) > 0 {
		return &ContractError{Kind: KindModelSpec, Errors: errs}
	}
	return nil
}

// ValidateResults checks a results document, including the status
// invariants: a failed run still lists nodes and carries no edges, and a
// zero sign label agrees with a zero weight.
func ValidateResults(doc *ResultsDocument) error {
	errs := structErrors(doc)

	if doc.Status == StatusFailed && len(doc.Edges) > 0 {
		errs = append(errs, ValidationError{
			Path:    "/edges",
			Message: "failed results must not carry edges",
		})
	}
	if doc.Status == StatusSuccess && len(doc.Nodes) == 0 {
		errs = append(errs, ValidationError{
			Path:    "/nodes",
			Message: "successful results must list node records",
		})
	}

	for i, e := range doc.Edges {
		base := fmt.Sprintf("/edges/%d", i)
		if e.Source > e.Target {
			errs = append(errs, ValidationError{
				Path:    base,
				Message: fmt.Sprintf("edge pair (%s, %s) is not in lexicographic order", e.Source, e.Target),
			})
		}
		if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
			errs = append(errs, ValidationError{
				Path:    base + "/weight",
				Message: "weight must be finite",
			})
		}
		if (e.Sign == SignZero) != (e.Weight == 0) {
			errs = append(errs, ValidationError{
				Path:    base + "/sign",
				Message: "sign is zero if and only if weight is 0",
			})
		}
	}

	for i, b := range doc.Blocks {
		if b.Source == b.Target {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/blocks/%d", i),
				Message: fmt.Sprintf("self-pair block for %q", b.Source),
			})
		}
	}

	if len(errs) > 0 {
		return &ContractError{Kind: KindResults, Errors: errs}
	}
	return nil
}

// ValidatePosthoc checks a posthoc document.
func ValidatePosthoc(doc *PosthocDocument) error {
	errs := structErrors(doc)
	if len(errs) > 0 {
		return &ContractError{Kind: KindPosthoc, Errors: errs}
	}
	return nil
}

// =============================================================================
// Struct-Tag Validation (Internal)
// =============================================================================

// structErrors runs go-playground/validator over the document and
// converts field errors to path/message pairs.
func structErrors(doc any) []ValidationError {
	err := contractValidate.Struct(doc)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Path: "/", Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    namespaceToPath(fe.Namespace()),
			Message: tagMessage(fe),
		})
	}
	return out
}

// namespaceToPath converts a validator namespace such as
// "SchemaDocument.variables[2].type" into "/variables/2/type".
func namespaceToPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:] // Drop the root struct name
	}

	var b strings.Builder
	for _, part := range parts {
		// Split index suffixes: "variables[2]" -> "variables", "2"
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					b.WriteByte('/')
					b.WriteString(part)
				}
				break
			}
			if head := part[:open]; head != "" {
				b.WriteByte('/')
				b.WriteString(head)
			}
			end := strings.IndexByte(part, ']')
			if end < 0 {
				break
			}
			b.WriteByte('/')
			b.WriteString(part[open+1 : end])
			part = part[end+1:]
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// tagMessage renders a field error into a short human-readable message.
func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "eq":
		return fmt.Sprintf("must equal %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "uuid4":
		return "must be a UUIDv4"
	case "hexadecimal":
		return "must be hexadecimal"
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}
