// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// Flash writes raw NOR/NAND flash: flash_erase first, then nandwrite for
// NAND devices or flashcp for NOR.
type Flash struct {
	Common
	NoopLifecycle

	TargetType         string              `json:"target-type"`
	Target             string              `json:"target"`
	InstallIfDifferent *InstallIfDifferent `json:"install-if-different"`

	exec executor.Executor // set by WithExecutor; nil uses executor.New()
	fs   afero.Fs          // set by WithFs; used for /proc/mtd and the skip check
}

func (f *Flash) Mode() string { return "flash" }

// WithExecutor injects the executor used to run the flash tools.
func (f *Flash) WithExecutor(e executor.Executor) *Flash {
	f.exec = e
	return f
}

// WithFs injects the filesystem used for /proc/mtd and the
// install-if-different check.
func (f *Flash) WithFs(fs afero.Fs) *Flash {
	f.fs = fs
	return f
}

func (f *Flash) executor() executor.Executor {
	if f.exec != nil {
		return f.exec
	}
	return executor.New()
}

func (f *Flash) filesystem() afero.Fs {
	if f.fs != nil {
		return f.fs
	}
	return afero.NewOsFs()
}

func (f *Flash) CheckRequirements(ctx context.Context) error {
	for _, tool := range []string{"flash_erase", "flashcp", "nandwrite"} {
		if err := requireTool(tool); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flash) Install(ctx context.Context, downloadDir string) error {
	fs := f.filesystem()

	if skip, err := f.InstallIfDifferent.ShouldSkip(fs, f.Target, f.SizeField, f.SHA256SumField); err != nil {
		return err
	} else if skip {
		log.Infof("target %s already holds object %s content; skipping install", f.Target, f.SHA256SumField)
		return nil
	}

	target, err := f.resolveTarget(fs)
	if err != nil {
		return err
	}
	source := filepath.Join(downloadDir, f.SHA256SumField)

	run := f.executor()
	if _, err := run.Run(ctx, "flash_erase", target, "0", "0"); err != nil {
		return fmt.Errorf("erasing %s: %w", target, err)
	}

	if isNand(fs, target) {
		if _, err := run.Run(ctx, "nandwrite", "-p", target, source); err != nil {
			return fmt.Errorf("writing %s to NAND %s: %w", source, target, err)
		}
		return nil
	}
	if _, err := run.Run(ctx, "flashcp", source, target); err != nil {
		return fmt.Errorf("copying %s to %s: %w", source, target, err)
	}
	return nil
}

// resolveTarget maps an MTD name to its /dev/mtdN node via /proc/mtd when
// target-type is "mtdname"; a plain device target is used as-is.
func (f *Flash) resolveTarget(fs afero.Fs) (string, error) {
	if f.TargetType != "mtdname" {
		return f.Target, nil
	}

	entries, err := parseProcMtd(fs)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.name == f.Target {
			return "/dev/" + entry.dev, nil
		}
	}
	return "", fmt.Errorf("MTD device named %q not found in /proc/mtd", f.Target)
}

type mtdEntry struct {
	dev  string // "mtd0"
	name string // quoted name column, unquoted
}

// parseProcMtd reads /proc/mtd lines of the form
// `mtd0: 00100000 00020000 "u-boot"`.
func parseProcMtd(fs afero.Fs) ([]mtdEntry, error) {
	data, err := afero.ReadFile(fs, "/proc/mtd")
	if err != nil {
		return nil, fmt.Errorf("reading /proc/mtd: %w", err)
	}

	var entries []mtdEntry
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "mtd") {
			continue
		}
		entries = append(entries, mtdEntry{
			dev:  strings.TrimSuffix(fields[0], ":"),
			name: strings.Trim(fields[3], `"`),
		})
	}
	return entries, nil
}

// isNand reports whether the MTD device behind target is NAND, by checking
// the sysfs type of the corresponding mtd node. A missing sysfs node means
// NAND cannot be positively identified; flashcp on NOR is the conservative
// default.
func isNand(fs afero.Fs, target string) bool {
	dev := filepath.Base(target)
	data, err := afero.ReadFile(fs, "/sys/class/mtd/"+dev+"/type")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "nand"
}

func init() {
	Register("flash", func(raw json.RawMessage) (Object, error) {
		var f Flash
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return &f, nil
	})
}
