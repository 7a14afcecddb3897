// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// fwEnvConfig is the libubootenv configuration file describing where the
// U-Boot environment lives on storage.
const fwEnvConfig = "/etc/fw_env.config"

// UbootEnv applies the downloaded object as a fw_setenv script, rewriting
// the persisted U-Boot environment. libubootenv itself avoids touching
// storage when the script changes nothing.
type UbootEnv struct {
	Common
	NoopLifecycle

	exec executor.Executor // set by WithExecutor; nil uses executor.New()
}

func (u *UbootEnv) Mode() string { return "uboot_env" }

// WithExecutor injects the executor used to run fw_setenv.
func (u *UbootEnv) WithExecutor(e executor.Executor) *UbootEnv {
	u.exec = e
	return u
}

func (u *UbootEnv) CheckRequirements(ctx context.Context) error {
	return requireTool("fw_setenv")
}

func (u *UbootEnv) Install(ctx context.Context, downloadDir string) error {
	run := u.exec
	if run == nil {
		run = executor.New()
	}

	source := filepath.Join(downloadDir, u.SHA256SumField)
	if _, err := run.Run(ctx, "fw_setenv", "-c", fwEnvConfig, "--script", source); err != nil {
		return fmt.Errorf("applying U-Boot environment script %s: %w", source, err)
	}
	return nil
}

func init() {
	Register("uboot_env", func(raw json.RawMessage) (Object, error) {
		var u UbootEnv
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
}
