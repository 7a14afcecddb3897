// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package firmware reads the device's immutable identity bundle by running
// the firmware hook scripts (product-uid, hardware, identity, attributes)
// once at startup.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// ErrInvalidProductUID is returned when the product-uid hook does not yield
// a 64-character lowercase hex string.
var ErrInvalidProductUID = errors.New("product-uid must be a 64-character lowercase hex string")

// ErrEmptyDeviceIdentity is returned when the device-identity hook yields no
// key/value pairs at all.
var ErrEmptyDeviceIdentity = errors.New("device-identity must not be empty")

// AttributeSet maps an attribute name to one or more values, matching the
// wire shape used for device-identity and device-attributes.
type AttributeSet map[string][]string

// Metadata is the immutable product/hardware/identity bundle exposed to the
// rest of the agent for the lifetime of the process.
type Metadata struct {
	ProductUID       string
	Version          string
	Hardware         string
	DeviceIdentity   AttributeSet
	DeviceAttributes AttributeSet
	PublicKeyPath    string // empty if signature verification is disabled
}

// HookRunner discovers and runs the firmware identity/attribute hook
// scripts. A directory-based implementation is provided below for
// production use; tests substitute their own.
type HookRunner interface {
	// RunSingle runs a single-value hook (product-uid, hardware, version)
	// and returns its trimmed stdout.
	RunSingle(ctx context.Context, hookName string) (string, error)
	// RunMulti runs every executable hook under a category directory
	// (device-identity, device-attributes) and aggregates "key=value"
	// stdout lines from each into an AttributeSet.
	RunMulti(ctx context.Context, category string) (AttributeSet, error)
}

// Reader builds Metadata from a HookRunner.
type Reader struct {
	hooks         HookRunner
	publicKeyPath string
}

// NewReader constructs a Reader. publicKeyPath may be empty, disabling
// signature verification.
func NewReader(hooks HookRunner, publicKeyPath string) *Reader {
	return &Reader{hooks: hooks, publicKeyPath: publicKeyPath}
}

// Read runs every hook and assembles Metadata, failing construction when
// the product UID or device identity is unusable.
func (r *Reader) Read(ctx context.Context) (*Metadata, error) {
	productUID, err := r.hooks.RunSingle(ctx, "product-uid")
	if err != nil {
		return nil, fmt.Errorf("running product-uid hook: %w", err)
	}
	if !isLowerHex64(productUID) {
		return nil, ErrInvalidProductUID
	}

	version, err := r.hooks.RunSingle(ctx, "version")
	if err != nil {
		return nil, fmt.Errorf("running version hook: %w", err)
	}

	hardware, err := r.hooks.RunSingle(ctx, "hardware")
	if err != nil {
		return nil, fmt.Errorf("running hardware hook: %w", err)
	}

	identity, err := r.hooks.RunMulti(ctx, "device-identity")
	if err != nil {
		return nil, fmt.Errorf("running device-identity hooks: %w", err)
	}
	if len(identity) == 0 {
		return nil, ErrEmptyDeviceIdentity
	}

	attributes, err := r.hooks.RunMulti(ctx, "device-attributes")
	if err != nil {
		return nil, fmt.Errorf("running device-attributes hooks: %w", err)
	}
	if attributes == nil {
		attributes = AttributeSet{}
	}

	return &Metadata{
		ProductUID:       productUID,
		Version:          version,
		Hardware:         hardware,
		DeviceIdentity:   identity,
		DeviceAttributes: attributes,
		PublicKeyPath:    r.publicKeyPath,
	}, nil
}

func isLowerHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// DirHookRunner resolves hooks under a metadata directory: single-value
// hooks are executables named exactly after the hook, multi-value hooks are
// every executable file under `<dir>/<category>.d/`.
type DirHookRunner struct {
	Dir string
	Run executor.Executor
}

func (d *DirHookRunner) RunSingle(ctx context.Context, hookName string) (string, error) {
	path := filepath.Join(d.Dir, hookName)
	result, err := d.Run.Run(ctx, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (d *DirHookRunner) RunMulti(ctx context.Context, category string) (AttributeSet, error) {
	dir := filepath.Join(d.Dir, category+".d")
	entries, err := listExecutables(dir)
	if err != nil {
		return AttributeSet{}, nil // no directory ⇒ empty set, not an error
	}

	out := AttributeSet{}
	for _, entry := range entries {
		result, err := d.Run.Run(ctx, filepath.Join(dir, entry))
		if err != nil {
			return nil, fmt.Errorf("running %s hook %s: %w", category, entry, err)
		}
		for _, line := range strings.Split(result.Stdout, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			out[k] = append(out[k], v)
		}
	}
	return out, nil
}
