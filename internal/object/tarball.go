// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Tarball extracts a tar (optionally gzip-compressed) archive into
// TargetPath. Install does not mount Target: Target and MountOptions are
// parsed but not used during extraction.
type Tarball struct {
	Common
	NoopLifecycle

	Filesystem         string `json:"filesystem"`
	TargetType         string `json:"target-type"`
	Target             string `json:"target"`
	TargetPath         string `json:"target-path"`
	Compressed         bool   `json:"compressed"`
	RequiredUncompSize uint64 `json:"required-uncompressed-size"`
	MountOptions       string `json:"mount-options"`

	fs afero.Fs // set by WithFs; nil uses afero.NewOsFs()
}

func (t *Tarball) Mode() string { return "tarball" }

func (t *Tarball) RequiredInstallSize() uint64 {
	if t.Compressed && t.RequiredUncompSize > 0 {
		return t.RequiredUncompSize
	}
	return t.SizeField
}

func (t *Tarball) CheckRequirements(ctx context.Context) error {
	return requireTool("mkfs." + t.Filesystem)
}

// WithFs injects a filesystem for extraction, overriding the OS default.
// Used by tests to extract into an afero.MemMapFs.
func (t *Tarball) WithFs(fs afero.Fs) *Tarball {
	t.fs = fs
	return t
}

// Install extracts the archive member-by-member into TargetPath, rejecting
// any entry whose cleaned path does not lie below TargetPath.
func (t *Tarball) Install(ctx context.Context, downloadDir string) error {
	fs := t.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	src := filepath.Join(downloadDir, t.SHA256SumField)
	f, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening tarball object: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if t.Compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		destPath := filepath.Join(t.TargetPath, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(destPath, filepath.Clean(t.TargetPath)+string(filepath.Separator)) {
			return fmt.Errorf("tar entry %q escapes target path %q", hdr.Name, t.TargetPath)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", destPath, err)
			}
		case tar.TypeReg:
			if err := fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", destPath, err)
			}
			out, err := fs.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("creating %s: %w", destPath, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("writing %s: %w", destPath, err)
			}
			out.Close()
		}
	}
	return nil
}

func init() {
	Register("tarball", func(raw json.RawMessage) (Object, error) {
		var t Tarball
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return &t, nil
	})
}
