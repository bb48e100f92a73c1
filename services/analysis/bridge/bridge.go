// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge executes the external fitting engine as a subprocess
// and exchanges contract documents with it through a staged working
// directory.
//
// The lifecycle of one run:
//
//  1. stage a temporary workdir with data.csv, schema.json, and
//     model_spec.json, hashing each artifact as it is written
//  2. invoke the engine with file-path flags, never piping data through
//     stdin
//  3. on exit — any exit code — attempt to read and validate the results
//     document; a failed fit that still wrote a valid document is a
//     usable outcome, not a Go error
//  4. remove the workdir unconditionally unless retention was requested
//
// Timeouts kill the whole process group, so worker processes forked by
// the engine die with it.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/netweave/pkg/logging"
	"github.com/AleutianAI/netweave/services/analysis/contracts"
	"github.com/AleutianAI/netweave/services/analysis/hashing"
)

// Staged artifact filenames inside the run workdir.
const (
	dataFile    = "data.csv"
	schemaFile  = "schema.json"
	specFile    = "model_spec.json"
	outDir      = "out"
	resultsFile = "results.json"
	posthocFile = "posthoc.json"
)

// DefaultTimeout bounds an engine run when the request does not set one.
const DefaultTimeout = 10 * time.Minute

// waitDelay is how long a cancelled engine process gets to flush before
// the process group is killed.
const waitDelay = 3 * time.Second

// =============================================================================
// Configuration
// =============================================================================

// Config configures the engine bridge.
type Config struct {
	// Interpreter is the engine executable, resolved on PATH when not
	// absolute. Defaults to "Rscript".
	Interpreter string

	// ScriptDir is the directory holding the engine entry scripts.
	ScriptDir string

	// Timeout is the default per-run deadline.
	Timeout time.Duration

	// KeepWorkdir retains the staged working directory after the run, for
	// debugging. Default is unconditional removal.
	KeepWorkdir bool
}

// Request describes one engine invocation.
type Request struct {
	// Script is the engine entry script filename within ScriptDir.
	Script string

	// Data is the raw CSV payload staged as data.csv.
	Data []byte

	Schema *contracts.SchemaDocument
	Spec   *contracts.ModelSpecDocument

	// ModuleFlags are extra command-line flags appended after the common
	// flags, e.g. bootstrap counts.
	ModuleFlags []string

	// Timeout overrides the bridge default for this run.
	Timeout time.Duration

	Quiet bool
	Debug bool
}

// Result is a completed engine exchange. Results is always non-nil and
// contract-valid; its Status may still be failed.
type Result struct {
	Results *contracts.ResultsDocument

	// Posthoc is present when the engine wrote an optional posthoc
	// document alongside the results.
	Posthoc *contracts.PosthocDocument

	// Hashes are the content hashes of the three staged inputs.
	Hashes contracts.InputHashes

	Stdout  string
	Stderr  string
	Runtime time.Duration
}

// =============================================================================
// Bridge
// =============================================================================

// Bridge runs the external fitting engine.
type Bridge struct {
	cfg Config
	log *logging.Logger

	enginePath string
}

// New resolves the engine executable and returns a ready bridge.
// An unresolvable executable is fatal configuration: ErrEngineNotFound.
func New(cfg Config, log *logging.Logger) (*Bridge, error) {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "Rscript"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	path, err := exec.LookPath(cfg.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrEngineNotFound, cfg.Interpreter, err)
	}

	return &Bridge{cfg: cfg, log: log, enginePath: path}, nil
}

// Execute stages the request, runs the engine, and returns its validated
// output.
//
// Error classes:
//   - *TimeoutError: the run hit its deadline and was killed; no partial
//     results are returned
//   - *ExecutionError: the engine exited without a parseable, valid
//     results document
//
// A results document with status "failed" is returned as a normal
// Result: the engine communicated a structured failure, which callers
// surface to the user rather than treat as a crash.
func (b *Bridge) Execute(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}

	workdir, err := os.MkdirTemp("", "netweave_run_")
	if err != nil {
		return nil, fmt.Errorf("stage workdir: %w", err)
	}
	if !b.cfg.KeepWorkdir {
		defer os.RemoveAll(workdir)
	}

	hashes, err := b.stage(workdir, req)
	if err != nil {
		return nil, err
	}

	args := []string{
		filepath.Join(b.cfg.ScriptDir, req.Script),
		"--data", filepath.Join(workdir, dataFile),
		"--schema", filepath.Join(workdir, schemaFile),
		"--spec", filepath.Join(workdir, specFile),
		"--out", filepath.Join(workdir, outDir),
		"--seed", strconv.FormatInt(req.Spec.RandomSeed, 10),
	}
	args = append(args, req.ModuleFlags...)
	if req.Quiet {
		args = append(args, "--quiet")
	}
	if req.Debug {
		args = append(args, "--debug")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	recordRun(ctx, req.Script)
	b.log.Info("engine run starting",
		"script", req.Script,
		"analysis_id", req.Spec.AnalysisID,
		"workdir", workdir,
		"timeout", timeout.String())

	start := time.Now()
	stdout, stderr, exitCode, runErr := b.run(runCtx, args)
	elapsed := time.Since(start)
	recordDuration(ctx, req.Script, elapsed.Seconds())

	if runCtx.Err() == context.DeadlineExceeded {
		recordFailure(ctx, req.Script, "timeout")
		b.log.Error("engine run timed out", "script", req.Script, "timeout", timeout.String())
		return nil, &TimeoutError{Timeout: timeout}
	}

	// The engine writes its results document even on failed fits, so the
	// output is read regardless of how the process exited.
	results, readErr := b.readResults(workdir)
	if readErr != nil {
		recordFailure(ctx, req.Script, "no_output")
		if runErr != nil {
			b.log.Error("engine run failed without output",
				"script", req.Script, "exit_code", exitCode, "error", runErr)
		}
		return nil, &ExecutionError{
			ExitCode: exitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      readErr,
		}
	}

	if err := verifyHashes(results, hashes); err != nil {
		recordFailure(ctx, req.Script, "hash_mismatch")
		return nil, &ExecutionError{
			ExitCode: exitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      err,
		}
	}

	res := &Result{
		Results: results,
		Hashes:  hashes,
		Stdout:  stdout,
		Stderr:  stderr,
		Runtime: elapsed,
	}

	// Posthoc output is optional enrichment. A malformed posthoc document
	// degrades to "absent" rather than failing a run whose primary
	// results are valid.
	if posthoc, err := b.readPosthoc(workdir); err != nil {
		b.log.Warn("posthoc document unusable, dropping", "error", err)
	} else {
		res.Posthoc = posthoc
	}

	b.log.Info("engine run finished",
		"script", req.Script,
		"status", string(results.Status),
		"runtime", elapsed.String())
	return res, nil
}

// =============================================================================
// Internals
// =============================================================================

// stage writes the three input artifacts and returns their hashes.
func (b *Bridge) stage(workdir string, req Request) (contracts.InputHashes, error) {
	var hashes contracts.InputHashes

	if err := os.WriteFile(filepath.Join(workdir, dataFile), req.Data, 0o600); err != nil {
		return hashes, fmt.Errorf("stage data: %w", err)
	}
	hashes.DataSHA256 = hashing.SHA256Hex(req.Data)

	schemaBytes, err := hashing.CanonicalJSON(req.Schema)
	if err != nil {
		return hashes, fmt.Errorf("stage schema: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workdir, schemaFile), schemaBytes, 0o600); err != nil {
		return hashes, fmt.Errorf("stage schema: %w", err)
	}
	hashes.SchemaSHA256 = hashing.SHA256Hex(schemaBytes)

	specBytes, err := hashing.CanonicalJSON(req.Spec)
	if err != nil {
		return hashes, fmt.Errorf("stage spec: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workdir, specFile), specBytes, 0o600); err != nil {
		return hashes, fmt.Errorf("stage spec: %w", err)
	}
	hashes.SpecSHA256 = hashing.SHA256Hex(specBytes)

	if err := os.Mkdir(filepath.Join(workdir, outDir), 0o700); err != nil {
		return hashes, fmt.Errorf("stage out dir: %w", err)
	}
	return hashes, nil
}

// run executes the engine in its own process group and captures both
// streams. Cancellation kills the group so engine-forked workers do not
// outlive the run.
func (b *Bridge) run(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, b.enginePath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()

	exitCode = 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}

// readResults decodes and validates the engine's results document.
func (b *Bridge) readResults(workdir string) (*contracts.ResultsDocument, error) {
	path := filepath.Join(workdir, outDir, resultsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoOutput, err)
	}

	doc, err := contracts.DecodeResults(data)
	if err != nil {
		return nil, fmt.Errorf("results document rejected: %w", err)
	}
	if err := contracts.ValidateResults(doc); err != nil {
		return nil, fmt.Errorf("results document rejected: %w", err)
	}
	return doc, nil
}

// readPosthoc decodes the optional posthoc document. A missing file is
// not an error; an unreadable or invalid one is.
func (b *Bridge) readPosthoc(workdir string) (*contracts.PosthocDocument, error) {
	path := filepath.Join(workdir, outDir, posthocFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc, err := contracts.DecodePosthoc(data)
	if err != nil {
		return nil, err
	}
	if err := contracts.ValidatePosthoc(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// verifyHashes checks that the engine echoed the staged input hashes, so
// a results document can never be attributed to inputs it was not run
// against.
func verifyHashes(doc *contracts.ResultsDocument, staged contracts.InputHashes) error {
	if doc.Input != staged {
		return fmt.Errorf("results input hashes do not match staged inputs (got %+v, staged %+v)",
			doc.Input, staged)
	}
	return nil
}
