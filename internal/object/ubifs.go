// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// Ubifs writes a UBIFS image onto a UBI volume via ubiupdatevol. The target
// names a UBI volume; ubinfo resolves it to its char device node.
type Ubifs struct {
	Common
	NoopLifecycle

	TargetType         string `json:"target-type"`
	Target             string `json:"target"`
	Compressed         bool   `json:"compressed"`
	RequiredUncompSize uint64 `json:"required-uncompressed-size"`

	exec executor.Executor // set by WithExecutor; nil uses executor.New()
}

func (u *Ubifs) Mode() string { return "ubifs" }

func (u *Ubifs) RequiredInstallSize() uint64 {
	if u.Compressed && u.RequiredUncompSize > 0 {
		return u.RequiredUncompSize
	}
	return u.SizeField
}

// WithExecutor injects the executor used to run the UBI tools.
func (u *Ubifs) WithExecutor(e executor.Executor) *Ubifs {
	u.exec = e
	return u
}

func (u *Ubifs) CheckRequirements(ctx context.Context) error {
	if u.TargetType != "ubivolume" {
		return fmt.Errorf("ubifs objects require target-type \"ubivolume\", got %q", u.TargetType)
	}
	if err := requireTool("ubiupdatevol"); err != nil {
		return err
	}
	return requireTool("ubinfo")
}

func (u *Ubifs) Install(ctx context.Context, downloadDir string) error {
	run := u.exec
	if run == nil {
		run = executor.New()
	}

	device, err := resolveUbiVolume(ctx, run, u.Target)
	if err != nil {
		return err
	}

	source := filepath.Join(downloadDir, u.SHA256SumField)
	if _, err := run.Run(ctx, "ubiupdatevol", device, source); err != nil {
		return fmt.Errorf("updating UBI volume %s from %s: %w", device, source, err)
	}
	return nil
}

// resolveUbiVolume asks ubinfo for the device/volume ids behind a named UBI
// volume and renders the /dev/ubiX_Y node ubiupdatevol expects.
func resolveUbiVolume(ctx context.Context, run executor.Executor, name string) (string, error) {
	result, err := run.Run(ctx, "ubinfo", "-a", "-N", name)
	if err != nil {
		return "", fmt.Errorf("resolving UBI volume %q: %w", name, err)
	}

	var deviceID, volumeID string
	for _, line := range strings.Split(result.Stdout, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(strings.TrimSpace(v))
		if len(fields) == 0 {
			continue
		}
		switch strings.TrimSpace(k) {
		case "Volume ID":
			volumeID = fields[0]
		case "Device ID", "UBI device number":
			deviceID = fields[0]
		}
	}
	if deviceID == "" || volumeID == "" {
		return "", fmt.Errorf("ubinfo output for volume %q had no device/volume id", name)
	}
	return fmt.Sprintf("/dev/ubi%s_%s", deviceID, volumeID), nil
}

func init() {
	Register("ubifs", func(raw json.RawMessage) (Object, error) {
		var u Ubifs
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
}
