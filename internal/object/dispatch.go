// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"fmt"
)

// RunInstallPipeline runs an object's four lifecycle operations in the
// required order, aborting on first failure.
func RunInstallPipeline(ctx context.Context, obj Object, downloadDir string) error {
	if err := obj.CheckRequirements(ctx); err != nil {
		return fmt.Errorf("check_requirements: %w", err)
	}
	if err := obj.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := obj.Install(ctx, downloadDir); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := obj.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}
