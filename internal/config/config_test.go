// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestNewAppliesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/updatehub.conf", "serverAddress: https://updates.example.com\n")

	cfg, err := New("/etc/updatehub.conf", fs)
	require.NoError(t, err)

	assert.Equal(t, "https://updates.example.com", cfg.ServerAddress)
	assert.Equal(t, "/var/cache/updatehub/downloads", cfg.DownloadDir)
	assert.Equal(t, "/usr/share/updatehub", cfg.MetadataPath)
	assert.Equal(t, "localhost:8080", cfg.ListenAddress)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Contains(t, cfg.SupportedInstallModes, "flash")
}

func TestNewRejectsMissingServerAddress(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/updatehub.conf", "downloadDir: /tmp\n")

	_, err := New("/etc/updatehub.conf", fs)
	assert.Error(t, err)
}

func TestNewRejectsNegativePollingInterval(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/etc/updatehub.conf", "serverAddress: https://x\npollingInterval: -5000000000\n")

	_, err := New("/etc/updatehub.conf", fs)
	assert.Error(t, err)
}

func TestNewReturnsErrorForMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := New("/etc/updatehub.conf", fs)
	assert.Error(t, err)
}

func TestInstallModeSet(t *testing.T) {
	cfg := &Config{SupportedInstallModes: []string{"raw", "copy"}}
	set := cfg.InstallModeSet()
	assert.True(t, set["raw"])
	assert.True(t, set["copy"])
	assert.False(t, set["flash"])
}
