// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrEngineNotFound means the engine executable is not on PATH. This
	// is an environment problem, not a run problem: no workdir is staged
	// and no engine-level failure document exists.
	ErrEngineNotFound = errors.New("fitting engine executable not found")

	// ErrNoOutput means the engine exited without writing a parseable
	// results document. Wrapped inside an ExecutionError.
	ErrNoOutput = errors.New("engine produced no parseable results document")
)

// TimeoutError reports a run killed at its deadline. No partial results
// are surfaced: a timed-out engine's output directory is untrusted.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine run exceeded timeout of %s and was killed", e.Timeout)
}

// ExecutionError reports an engine run that ended without a usable
// results document. It carries the captured process streams so the
// failure can be diagnosed without re-running.
type ExecutionError struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// Err is the underlying cause (ErrNoOutput, a decode failure, or a
	// contract violation in the output document).
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine run failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
