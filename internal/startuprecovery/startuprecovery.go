// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package startuprecovery implements the once-at-boot check for a
// half-applied upgrade, run before the state machine starts.
package startuprecovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/callbacks"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/runtimesettings"
)

var log = logger.New("updatehub", "")

// ErrRolledBack is returned when the booted image failed validation and a
// rollback-and-reboot was performed. The caller must terminate the process
// without starting the main state-machine loop.
var ErrRolledBack = errors.New("startup rollback performed; process must exit")

// Run performs the recovery check. It is a no-op unless
// runtime.Update.UpgradingTo is set.
func Run(ctx context.Context, runtime *runtimesettings.Settings, ai *activeinactive.Controller, cb *callbacks.Runner, exec executor.Executor) error {
	if runtime.Update.UpgradingTo == nil {
		return nil
	}

	active, err := ai.Active(ctx)
	if err != nil {
		return fmt.Errorf("determining active installation set: %w", err)
	}

	upgradingTo := *runtime.Update.UpgradingTo

	if active != upgradingTo {
		// We booted back from the previous slot by other means: the
		// upgrade attempt failed before even reaching this slot. Treat it
		// as a failed upgrade with no callback to run.
		log.Warnf("runtime settings say upgrading to %s but active set is %s; clearing upgrading_to", upgradingTo, active)
		runtime.Update.UpgradingTo = nil
		return runtime.Save()
	}

	ok, err := cb.Validate(ctx)
	if err != nil {
		log.Errorf("validate-callback failed to run: %v", err)
	}
	if ok {
		if err := ai.Validated(ctx); err != nil {
			log.Errorf("updatehub-active-validated failed: %v", err)
		}
		runtime.Update.UpgradingTo = nil
		log.Infof("upgrade to %s confirmed", active)
		return runtime.Save()
	}

	log.Errorf("validate-callback rejected upgrade to %s; rolling back", active)
	if err := cb.Rollback(ctx); err != nil {
		log.Errorf("rollback-callback failed: %v", err)
	}

	previous := active.Other()
	if err := ai.SetActive(ctx, previous); err != nil {
		return fmt.Errorf("flipping active set back to %s: %w", previous, err)
	}
	runtime.Update.UpgradingTo = nil
	if err := runtime.Save(); err != nil {
		log.Errorf("saving runtime settings after rollback: %v", err)
	}

	result, err := exec.Run(ctx, "reboot")
	if result.Stderr != "" {
		log.Errorf("reboot stderr: %s", result.Stderr)
	}
	if err != nil {
		log.Errorf("reboot command failed: %v", err)
	}

	return ErrRolledBack
}
