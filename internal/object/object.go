// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package object implements the tagged install-mode object variants: a common
// capability surface dispatched through a table of per-mode constructors
// rather than inheritance, plus the hash-gated status probe used by the
// downloader and state machine.
package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
)

var log = logger.New("updatehub", "")

// Status is the hash-gated classification of an object's file in the
// download directory.
type Status int

const (
	Missing Status = iota
	Incomplete
	Corrupted
	Ready
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "Missing"
	case Incomplete:
		return "Incomplete"
	case Corrupted:
		return "Corrupted"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// hashChunkSize bounds memory while hashing: the hash gate reads in 1 KiB
// blocks rather than slurping the whole object.
const hashChunkSize = 1024

// Object is the capability set every install-mode variant implements.
type Object interface {
	Filename() string
	Size() uint64
	SHA256Sum() string
	RequiredInstallSize() uint64
	Mode() string

	CheckRequirements(ctx context.Context) error
	Setup(ctx context.Context) error
	Install(ctx context.Context, downloadDir string) error
	Cleanup(ctx context.Context) error
}

// Common is the field set every variant embeds.
type Common struct {
	FilenameField  string `json:"filename"`
	SizeField      uint64 `json:"size"`
	SHA256SumField string `json:"sha256sum"`
}

func (c Common) Filename() string            { return c.FilenameField }
func (c Common) Size() uint64                { return c.SizeField }
func (c Common) SHA256Sum() string           { return c.SHA256SumField }
func (c Common) RequiredInstallSize() uint64 { return c.SizeField }

// NoopLifecycle provides the default no-op CheckRequirements, Setup, and
// Cleanup for variants that only need Install.
type NoopLifecycle struct{}

func (NoopLifecycle) CheckRequirements(ctx context.Context) error { return nil }
func (NoopLifecycle) Setup(ctx context.Context) error             { return nil }
func (NoopLifecycle) Cleanup(ctx context.Context) error           { return nil }

// decoder unmarshals a single tagged object from its raw JSON.
type decoder func(raw json.RawMessage) (Object, error)

// registry is the mode→decoder dispatch table. Populated by each variant's
// init() via Register, so adding a mode means adding a file, not touching
// this one.
var registry = map[string]decoder{}

// Register adds a decoder for a given mode string. Called from variant
// files' init().
func Register(mode string, d decoder) {
	registry[mode] = d
}

type taggedObject struct {
	Mode string `json:"mode"`
}

// DecodeSlot decodes a JSON array of tagged objects (one package slot) into
// concrete Object values via the registry.
func DecodeSlot(raw json.RawMessage) ([]Object, error) {
	var rawObjects []json.RawMessage
	if err := json.Unmarshal(raw, &rawObjects); err != nil {
		return nil, fmt.Errorf("decoding object slot array: %w", err)
	}

	objects := make([]Object, 0, len(rawObjects))
	for i, rawObj := range rawObjects {
		var tag taggedObject
		if err := json.Unmarshal(rawObj, &tag); err != nil {
			return nil, fmt.Errorf("decoding object %d tag: %w", i, err)
		}
		dec, ok := registry[tag.Mode]
		if !ok {
			return nil, fmt.Errorf("object %d: unknown install mode %q", i, tag.Mode)
		}
		obj, err := dec(rawObj)
		if err != nil {
			return nil, fmt.Errorf("object %d (mode %s): %w", i, tag.Mode, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ComputeStatus is the hash gate: absent file means Missing;
// shorter than declared size → Incomplete; at-least declared size and
// hash match → Ready; otherwise Corrupted. It never modifies the file.
func ComputeStatus(fs afero.Fs, dir string, obj Object) (Status, error) {
	path := filepath.Join(dir, obj.SHA256Sum())

	info, err := fs.Stat(path)
	if err != nil {
		return Missing, nil
	}

	size := uint64(info.Size())
	if size < obj.Size() {
		return Incomplete, nil
	}

	sum, err := sha256sumFile(fs, path)
	if err != nil {
		return Corrupted, fmt.Errorf("hashing %s: %w", path, err)
	}
	if sum == obj.SHA256Sum() {
		return Ready, nil
	}
	return Corrupted, nil
}

func sha256sumFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
