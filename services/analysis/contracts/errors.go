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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for contract operations.
var (
	// ErrUnknownKind is returned for a contract kind outside the three
	// document kinds (plus posthoc).
	ErrUnknownKind = errors.New("unknown contract kind")

	// ErrNotJSON is returned when a document payload is not parseable
	// JSON at all. Structural problems inside valid JSON are reported as
	// a *ContractError instead.
	ErrNotJSON = errors.New("document is not valid JSON")
)

// ValidationError is one structural problem in a document, addressed by a
// JSON-pointer-style path.
type ValidationError struct {
	// Path locates the failing field, e.g. "/variables/2/type".
	Path string `json:"path"`

	// Message is the human-readable problem description.
	Message string `json:"message"`
}

// ContractError reports every structural problem found in one document.
// Validation always runs to completion so callers see the full list, not
// just the first failure.
type ContractError struct {
	// Kind is the contract kind that was being validated.
	Kind Kind

	// Errors holds one entry per failing field.
	Errors []ValidationError
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed for %s:", e.Kind)
	for _, err := range e.Errors {
		path := err.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(&b, "\n  %s: %s", path, err.Message)
	}
	return b.String()
}

// AsContractError unwraps err into a *ContractError if possible.
func AsContractError(err error) (*ContractError, bool) {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
