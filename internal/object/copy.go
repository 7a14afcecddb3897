// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// Copy writes a single file onto a mounted filesystem at a target path.
// The target device is mounted for the duration of the write and unmounted
// on every exit path, including failure.
type Copy struct {
	Common
	NoopLifecycle

	Filesystem         string              `json:"filesystem"`
	TargetType         string              `json:"target-type"`
	Target             string              `json:"target"`
	TargetPath         string              `json:"target-path"`
	InstallIfDifferent *InstallIfDifferent `json:"install-if-different"`
	Compressed         bool                `json:"compressed"`
	RequiredUncompSize uint64              `json:"required-uncompressed-size"`
	MountOptions       string              `json:"mount-options"`

	exec executor.Executor // set by WithExecutor; nil uses executor.New()
	fs   afero.Fs          // set by WithFs; nil uses afero.NewOsFs()
}

func (c *Copy) Mode() string { return "copy" }

func (c *Copy) RequiredInstallSize() uint64 {
	if c.Compressed && c.RequiredUncompSize > 0 {
		return c.RequiredUncompSize
	}
	return c.SizeField
}

// WithExecutor injects the executor used for mount/umount.
func (c *Copy) WithExecutor(e executor.Executor) *Copy {
	c.exec = e
	return c
}

// WithFs injects the filesystem used for the file copy itself.
func (c *Copy) WithFs(fs afero.Fs) *Copy {
	c.fs = fs
	return c
}

func (c *Copy) CheckRequirements(ctx context.Context) error {
	if c.TargetType != "device" {
		return fmt.Errorf("copy objects require target-type \"device\", got %q", c.TargetType)
	}
	return requireTool("mkfs." + c.Filesystem)
}

func (c *Copy) Install(ctx context.Context, downloadDir string) error {
	run := c.exec
	if run == nil {
		run = executor.New()
	}
	fs := c.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	mountPoint, err := afero.TempDir(fs, "", "updatehub-mount-")
	if err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}
	defer fs.RemoveAll(mountPoint)

	mountArgs := []string{"-t", c.Filesystem}
	if c.MountOptions != "" {
		mountArgs = append(mountArgs, "-o", c.MountOptions)
	}
	mountArgs = append(mountArgs, c.Target, mountPoint)
	if _, err := run.Run(ctx, "mount", mountArgs...); err != nil {
		return fmt.Errorf("mounting %s: %w", c.Target, err)
	}
	defer func() {
		if _, err := run.Run(ctx, "umount", mountPoint); err != nil {
			log.Errorf("unmounting %s: %v", mountPoint, err)
		}
	}()

	dest := filepath.Join(mountPoint, strings.TrimPrefix(c.TargetPath, "/"))

	if skip, err := c.InstallIfDifferent.ShouldSkip(fs, dest, c.SizeField, c.SHA256SumField); err == nil && skip {
		log.Infof("target %s already holds object %s content; skipping install", dest, c.SHA256SumField)
		return nil
	}

	src := filepath.Join(downloadDir, c.SHA256SumField)
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening object %s: %w", src, err)
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dest, err)
	}
	out, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

func init() {
	Register("copy", func(raw json.RawMessage) (Object, error) {
		var c Copy
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	})
}

// requireTool verifies an external tool named by name is reachable via PATH,
// the check_requirements contract for variants needing external tools
// (mkfs.*, flash_erase, flashcp, nandwrite, ubiupdatevol, ubinfo, kobs-ng,
// fw_setenv).
func requireTool(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required tool %q not found in PATH: %w", name, err)
	}
	return nil
}
