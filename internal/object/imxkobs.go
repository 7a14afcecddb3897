// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// Imxkobs writes an i.MX kobs (kernel+bootstream) blob via kobs-ng.
type Imxkobs struct {
	Common
	NoopLifecycle

	Padding1K       bool   `json:"1k_padding"`
	SearchExponent  int    `json:"search_exponent"`
	Chip0DevicePath string `json:"chip_0_device_path"`
	Chip1DevicePath string `json:"chip_1_device_path"`

	exec executor.Executor // set by WithExecutor; nil uses executor.New()
}

func (i *Imxkobs) Mode() string { return "imxkobs" }

// WithExecutor injects the executor used to run kobs-ng.
func (i *Imxkobs) WithExecutor(e executor.Executor) *Imxkobs {
	i.exec = e
	return i
}

func (i *Imxkobs) CheckRequirements(ctx context.Context) error {
	return requireTool("kobs-ng")
}

func (i *Imxkobs) Install(ctx context.Context, downloadDir string) error {
	run := i.exec
	if run == nil {
		run = executor.New()
	}

	args := []string{"init"}
	if i.Padding1K {
		args = append(args, "-x")
	}
	args = append(args, filepath.Join(downloadDir, i.SHA256SumField))
	if i.SearchExponent > 0 {
		args = append(args, "--search_exponent="+strconv.Itoa(i.SearchExponent))
	}
	if i.Chip0DevicePath != "" {
		args = append(args, "--chip_0_device_path="+i.Chip0DevicePath)
	}
	if i.Chip1DevicePath != "" {
		args = append(args, "--chip_1_device_path="+i.Chip1DevicePath)
	}
	args = append(args, "-v")

	if _, err := run.Run(ctx, "kobs-ng", args...); err != nil {
		return fmt.Errorf("writing kobs blob %s: %w", i.SHA256SumField, err)
	}
	return nil
}

func init() {
	Register("imxkobs", func(raw json.RawMessage) (Object, error) {
		var i Imxkobs
		if err := json.Unmarshal(raw, &i); err != nil {
			return nil, err
		}
		return &i, nil
	})
}
