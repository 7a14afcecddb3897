// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/spf13/afero"
)

// ErrUnsupportedPattern is returned for known-pattern install-if-different
// checks whose pattern is not one of the two documented below.
var ErrUnsupportedPattern = errors.New("unsupported known-pattern install-if-different check")

// linuxKernelBannerPattern matches the "Linux version X.Y.Z" banner emitted
// near the start of a bzImage/vmlinuz; uBootVersionPattern matches the
// U-Boot build banner string. Both banners are null-terminated ASCII within
// the first few KiB of their respective images, so the whole target is
// searched rather than a fixed offset.
var (
	linuxKernelBannerPattern = regexp.MustCompile(`Linux version (\S+)`)
	uBootVersionPattern      = regexp.MustCompile(`U-Boot (\S+)`)
)

// InstallIfDifferent is the per-object predicate that suppresses an install
// when the target already holds the desired content. On the wire it is
// either the string "sha256sum" (compare target content hash against the
// object's own sha256sum) or an object carrying a version plus either a
// known pattern name or a custom regexp/seek/buffer-size triple.
type InstallIfDifferent struct {
	CheckSum bool

	Version    string
	Pattern    string // "linux-kernel" or "u-boot" for the known patterns
	Regexp     string // custom pattern
	Seek       int64
	BufferSize int64
}

// IsSet reports whether any install-if-different check was declared.
func (i *InstallIfDifferent) IsSet() bool {
	return i != nil && (i.CheckSum || i.Version != "")
}

type customPattern struct {
	Regexp     string `json:"regexp"`
	Seek       int64  `json:"seek"`
	BufferSize int64  `json:"buffer-size"`
}

type wirePattern struct {
	Version string          `json:"version"`
	Pattern json.RawMessage `json:"pattern"`
}

func (i *InstallIfDifferent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "sha256sum" {
			return fmt.Errorf("install-if-different string form must be \"sha256sum\", got %q", asString)
		}
		i.CheckSum = true
		return nil
	}

	var wire wirePattern
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("install-if-different must be \"sha256sum\" or a pattern object: %w", err)
	}
	i.Version = wire.Version

	var named string
	if err := json.Unmarshal(wire.Pattern, &named); err == nil {
		i.Pattern = named
		return nil
	}

	var custom customPattern
	if err := json.Unmarshal(wire.Pattern, &custom); err != nil {
		return fmt.Errorf("install-if-different pattern must be a name or a regexp object: %w", err)
	}
	i.Regexp = custom.Regexp
	i.Seek = custom.Seek
	i.BufferSize = custom.BufferSize
	return nil
}

// ShouldSkip evaluates the predicate against the current target content:
// true means the target already holds the desired content and the installer
// must return success without writing.
func (i *InstallIfDifferent) ShouldSkip(fs afero.Fs, targetPath string, size uint64, sha256sum string) (bool, error) {
	switch {
	case !i.IsSet():
		return false, nil
	case i.CheckSum:
		return checkSumMatches(fs, targetPath, size, sha256sum)
	case i.Pattern != "":
		return knownPatternMatches(fs, targetPath, i.Pattern, i.Version)
	default:
		re, err := regexp.Compile(i.Regexp)
		if err != nil {
			return false, fmt.Errorf("compiling install-if-different regexp: %w", err)
		}
		return customPatternMatches(fs, targetPath, i.Seek, i.BufferSize, re, i.Version)
	}
}

// checkSumMatches hashes the current target region (the first size bytes at
// target) and reports whether it already equals sha256sum.
func checkSumMatches(fs afero.Fs, targetPath string, size uint64, sha256sum string) (bool, error) {
	f, err := fs.Open(targetPath)
	if err != nil {
		return false, fmt.Errorf("opening target %s: %w", targetPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, int64(size)); err != nil && err != io.EOF {
		return false, fmt.Errorf("reading target %s: %w", targetPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)) == sha256sum, nil
}

// knownPatternMatches extracts a version string from the target using one of
// the two documented fixed patterns and compares it to version.
func knownPatternMatches(fs afero.Fs, targetPath, pattern, version string) (bool, error) {
	var re *regexp.Regexp
	switch pattern {
	case "linux-kernel":
		re = linuxKernelBannerPattern
	case "u-boot":
		re = uBootVersionPattern
	default:
		return false, ErrUnsupportedPattern
	}

	data, err := afero.ReadFile(fs, targetPath)
	if err != nil {
		return false, fmt.Errorf("reading target %s: %w", targetPath, err)
	}

	match := re.FindSubmatch(data)
	if match == nil {
		return false, nil
	}
	return string(match[1]) == version, nil
}

// customPatternMatches reads bufferSize bytes at offset seek from target and
// searches for re, comparing its first capture group to version.
func customPatternMatches(fs afero.Fs, targetPath string, seek, bufferSize int64, re *regexp.Regexp, version string) (bool, error) {
	f, err := fs.Open(targetPath)
	if err != nil {
		return false, fmt.Errorf("opening target %s: %w", targetPath, err)
	}
	defer f.Close()

	if _, err := f.Seek(seek, io.SeekStart); err != nil {
		return false, fmt.Errorf("seeking target %s: %w", targetPath, err)
	}

	buf := make([]byte, bufferSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, fmt.Errorf("reading target %s: %w", targetPath, err)
	}

	match := re.FindSubmatch(buf[:n])
	if match == nil || len(match) < 2 {
		return false, nil
	}
	return string(match[1]) == version, nil
}
