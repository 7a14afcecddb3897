// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// defaultChunkSize is the copy block size used when an object does not
// declare its own chunk-size.
const defaultChunkSize = 128 * 1024

// Raw writes a file byte-for-byte onto a raw block device. Skip and Seek
// are expressed in chunk-size units: Skip is how many chunks of the source
// to pass over before reading, Seek how many chunks into the target to
// start writing. Count bounds how many chunks are copied (-1 means all).
type Raw struct {
	Common
	NoopLifecycle

	TargetType         string              `json:"target-type"`
	Target             string              `json:"target"`
	InstallIfDifferent *InstallIfDifferent `json:"install-if-different"`
	Compressed         bool                `json:"compressed"`
	RequiredUncompSize uint64              `json:"required-uncompressed-size"`
	ChunkSize          int64               `json:"chunk-size"`
	Skip               int64               `json:"skip"`
	Seek               int64               `json:"seek"`
	Count              int64               `json:"count"`
	Truncate           bool                `json:"truncate"`

	fs afero.Fs // set by WithFs; nil uses afero.NewOsFs()
}

func (r *Raw) Mode() string { return "raw" }

func (r *Raw) RequiredInstallSize() uint64 {
	if r.Compressed && r.RequiredUncompSize > 0 {
		return r.RequiredUncompSize
	}
	return r.SizeField
}

// WithFs injects a filesystem for the device write, overriding the OS
// default. Used by tests to install onto an afero.MemMapFs file.
func (r *Raw) WithFs(fs afero.Fs) *Raw {
	r.fs = fs
	return r
}

func (r *Raw) CheckRequirements(ctx context.Context) error {
	if r.TargetType != "device" {
		return fmt.Errorf("raw objects require target-type \"device\", got %q", r.TargetType)
	}
	return nil
}

func (r *Raw) Install(ctx context.Context, downloadDir string) error {
	fs := r.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if skip, err := r.InstallIfDifferent.ShouldSkip(fs, r.Target, r.SizeField, r.SHA256SumField); err != nil {
		return err
	} else if skip {
		log.Infof("target %s already holds object %s content; skipping install", r.Target, r.SHA256SumField)
		return nil
	}

	chunkSize := r.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	src := filepath.Join(downloadDir, r.SHA256SumField)
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening object %s: %w", src, err)
	}
	defer in.Close()

	if _, err := in.Seek(r.Skip*chunkSize, io.SeekStart); err != nil {
		return fmt.Errorf("seeking object %s: %w", src, err)
	}

	flags := os.O_RDWR
	if r.Truncate {
		flags |= os.O_TRUNC
	}
	out, err := fs.OpenFile(r.Target, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening target device %s: %w", r.Target, err)
	}
	defer out.Close()

	if _, err := out.Seek(r.Seek*chunkSize, io.SeekStart); err != nil {
		return fmt.Errorf("seeking target device %s: %w", r.Target, err)
	}

	buf := make([]byte, chunkSize)
	for chunks := int64(0); r.Count < 0 || chunks < r.Count; chunks++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := io.ReadFull(in, buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing target device %s: %w", r.Target, err)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("reading object %s: %w", src, readErr)
		}
	}
	return nil
}

func init() {
	Register("raw", func(raw json.RawMessage) (Object, error) {
		var r Raw
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.Count == 0 {
			r.Count = -1 // absent count means "copy everything"
		}
		return &r, nil
	})
}
