// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package activeinactive queries and flips the active A|B installation set
// via three external scripts (updatehub-active-get, updatehub-active-set,
// updatehub-active-validated).
package activeinactive

import (
	"context"
	"fmt"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// Set is one of the two mirror-image installation sets.
type Set int

const (
	A Set = iota
	B
)

func (s Set) String() string {
	if s == A {
		return "A"
	}
	return "B"
}

// Other returns the inactive complement of this set.
func (s Set) Other() Set {
	if s == A {
		return B
	}
	return A
}

// Controller wraps the three external installation-set scripts.
type Controller struct {
	run executor.Executor
}

// New returns a Controller that shells out to the updatehub-active-* scripts
// resolved via PATH.
func New(run executor.Executor) *Controller {
	return &Controller{run: run}
}

// Active runs updatehub-active-get and parses its stdout ("0"→A, "1"→B).
func (c *Controller) Active(ctx context.Context) (Set, error) {
	result, err := c.run.Run(ctx, "updatehub-active-get")
	if err != nil {
		return A, fmt.Errorf("running updatehub-active-get: %w", err)
	}

	switch result.Stdout {
	case "0":
		return A, nil
	case "1":
		return B, nil
	default:
		return A, fmt.Errorf("updatehub-active-get returned unexpected output %q", result.Stdout)
	}
}

// Inactive is the complement of Active.
func (c *Controller) Inactive(ctx context.Context) (Set, error) {
	active, err := c.Active(ctx)
	if err != nil {
		return A, err
	}
	return active.Other(), nil
}

// SetActive runs updatehub-active-set <0|1>, flipping the active slot.
func (c *Controller) SetActive(ctx context.Context, set Set) error {
	id := "0"
	if set == B {
		id = "1"
	}
	if _, err := c.run.Run(ctx, "updatehub-active-set", id); err != nil {
		return fmt.Errorf("running updatehub-active-set %s: %w", id, err)
	}
	return nil
}

// Validated runs updatehub-active-validated, confirming the current boot is
// good and should not be rolled back.
func (c *Controller) Validated(ctx context.Context) error {
	if _, err := c.run.Run(ctx, "updatehub-active-validated"); err != nil {
		return fmt.Errorf("running updatehub-active-validated: %w", err)
	}
	return nil
}
