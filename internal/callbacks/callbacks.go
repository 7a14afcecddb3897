// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package callbacks invokes the optional host scripts the state machine
// consults at each transition: state-change-callback, validate-callback,
// rollback-callback, and error-callback, all resolved under a firmware
// metadata directory and obeying a fixed stdout protocol.
package callbacks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
)

var log = logger.New("updatehub", "")

// ErrCancelled is returned by StateChange when the callback's stdout was
// exactly "cancel".
var ErrCancelled = errors.New("transition cancelled by state-change-callback")

// ErrMalformedOutput is returned when a callback's stdout is neither empty
// nor one of its documented control values.
var ErrMalformedOutput = errors.New("callback produced malformed output")

const (
	stateChangeCallback = "state-change-callback"
	validateCallback    = "validate-callback"
	rollbackCallback    = "rollback-callback"
	errorCallback       = "error-callback"
)

// Runner resolves and invokes the four callback scripts under a single
// metadata directory. A missing script is not an error: the transition
// simply proceeds.
type Runner struct {
	fs  afero.Fs
	dir string
	run executor.Executor
}

// NewRunner returns a Runner that looks for hook scripts under dir.
func NewRunner(fs afero.Fs, dir string, run executor.Executor) *Runner {
	return &Runner{fs: fs, dir: dir, run: run}
}

func (r *Runner) exists(name string) bool {
	ok, err := afero.Exists(r.fs, filepath.Join(r.dir, name))
	return err == nil && ok
}

func (r *Runner) path(name string) string {
	return filepath.Join(r.dir, name)
}

// StateChange runs state-change-callback with the destination state's name,
// implementing the cancel/proceed/fatal protocol: empty stdout
// proceeds, stdout "cancel" returns ErrCancelled, anything else is a fatal
// format error. stderr is logged at ERROR regardless of outcome.
func (r *Runner) StateChange(ctx context.Context, destState string) error {
	if !r.exists(stateChangeCallback) {
		return nil
	}

	result, err := r.run.Run(ctx, r.path(stateChangeCallback), destState)
	if result.Stderr != "" {
		log.Errorf("state-change-callback(%s) stderr: %s", destState, result.Stderr)
	}
	if err != nil {
		return fmt.Errorf("running state-change-callback for %s: %w", destState, err)
	}

	switch result.Stdout {
	case "":
		return nil
	case "cancel":
		return ErrCancelled
	default:
		return fmt.Errorf("%w: state-change-callback(%s) printed %q", ErrMalformedOutput, destState, result.Stdout)
	}
}

// Validate runs validate-callback and reports whether it exited zero.
func (r *Runner) Validate(ctx context.Context) (bool, error) {
	if !r.exists(validateCallback) {
		return true, nil
	}
	result, err := r.run.Run(ctx, r.path(validateCallback))
	if result.Stderr != "" {
		log.Errorf("validate-callback stderr: %s", result.Stderr)
	}
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Rollback runs rollback-callback after a failed validation.
func (r *Runner) Rollback(ctx context.Context) error {
	if !r.exists(rollbackCallback) {
		return nil
	}
	result, err := r.run.Run(ctx, r.path(rollbackCallback))
	if result.Stderr != "" {
		log.Errorf("rollback-callback stderr: %s", result.Stderr)
	}
	if err != nil {
		return fmt.Errorf("running rollback-callback: %w", err)
	}
	return nil
}

// Error runs error-callback with the failing error's message. Empty stdout
// and "cancel" both return nil; any other output is an ErrMalformedOutput
// error.
func (r *Runner) Error(ctx context.Context, cause error) error {
	if !r.exists(errorCallback) {
		return nil
	}
	result, err := r.run.Run(ctx, r.path(errorCallback), cause.Error())
	if result.Stderr != "" {
		log.Errorf("error-callback stderr: %s", result.Stderr)
	}
	if err != nil {
		return fmt.Errorf("running error-callback: %w", err)
	}

	switch result.Stdout {
	case "", "cancel":
		return nil
	default:
		return fmt.Errorf("%w: error-callback printed %q", ErrMalformedOutput, result.Stdout)
	}
}
