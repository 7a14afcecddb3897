// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package uhupkg reads and fetches the local-install archive format: a tar
// containing a `metadata` member (the package JSON), an optional
// `signature` member (base64 RSA signature over metadata), and one member
// per object named by its sha256sum. It backs the state machine's
// DirectDownload and PrepareLocalInstall states.
package uhupkg

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Extracted is the result of reading a uhupkg archive.
type Extracted struct {
	Metadata  []byte
	Signature []byte // empty if the archive carried no signature member
}

// Extract reads the tar archive at archivePath and writes every regular
// member other than metadata and signature into destDir (the download
// directory) under its base name, returning the metadata and (if present)
// signature bytes.
func Extract(fs afero.Fs, archivePath, destDir string) (*Extracted, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening uhupkg archive %s: %w", archivePath, err)
	}
	defer f.Close()

	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download dir %s: %w", destDir, err)
	}

	out := &Extracted{}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading uhupkg entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(filepath.Clean(hdr.Name))
		if name == ".." || strings.Contains(hdr.Name, "..") {
			return nil, fmt.Errorf("uhupkg entry %q escapes archive root", hdr.Name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading uhupkg member %s: %w", name, err)
		}

		switch name {
		case "metadata":
			out.Metadata = data
		case "signature":
			out.Signature = data
		default:
			if err := writeObjectMember(fs, destDir, name, data); err != nil {
				return nil, err
			}
		}
	}

	if out.Metadata == nil {
		return nil, fmt.Errorf("uhupkg archive %s has no metadata member", archivePath)
	}
	return out, nil
}

func writeObjectMember(fs afero.Fs, destDir, name string, data []byte) error {
	dest := filepath.Join(destDir, name)
	f, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

// Fetch downloads an arbitrary URL (the remote-install target) to
// destDir/fetched_pkg and returns the written path. This is a plain HTTP
// GET, not the product API the cloud client wraps: the URL here is
// operator-supplied, not a product/package-scoped object URL.
func Fetch(ctx context.Context, fs afero.Fs, url, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir %s: %w", destDir, err)
	}

	dest := filepath.Join(destDir, "fetched_pkg")
	out, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	return dest, nil
}
