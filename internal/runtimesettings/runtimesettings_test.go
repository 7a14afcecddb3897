// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package runtimesettings

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Load(fs, "/data/runtime.conf", true)
	require.NoError(t, err)
	assert.Nil(t, s.Polling.LastPoll)
	assert.Equal(t, 0, s.Polling.Retries)
	assert.Nil(t, s.Update.UpgradingTo)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/data/runtime.conf", true)

	last := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Polling.LastPoll = &last
	extra := 10 * time.Second
	s.Polling.ExtraInterval = &extra
	s.Polling.Retries = 3
	set := activeinactive.B
	s.Update.UpgradingTo = &set
	s.Update.AppliedPackageUID = "c775e7b757ede630cd0aa1113bd102661ab38829ca52a6422ab782862f268646"

	require.NoError(t, s.Save())

	reloaded, err := Load(fs, "/data/runtime.conf", true)
	require.NoError(t, err)
	assert.Equal(t, last, *reloaded.Polling.LastPoll)
	assert.Equal(t, extra, *reloaded.Polling.ExtraInterval)
	assert.Equal(t, 3, reloaded.Polling.Retries)
	require.NotNil(t, reloaded.Update.UpgradingTo)
	assert.Equal(t, activeinactive.B, *reloaded.Update.UpgradingTo)
	assert.Equal(t, s.Update.AppliedPackageUID, reloaded.Update.AppliedPackageUID)
}

func TestSaveIsNoOpWhenNotPersistent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/data/runtime.conf", false)
	s.Polling.Retries = 5
	require.NoError(t, s.Save())

	exists, err := afero.Exists(fs, "/data/runtime.conf")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoadFallsBackToV1SchemaAndPreservesIt(t *testing.T) {
	fs := afero.NewMemMapFs()
	const v1 = "[Polling]\n" +
		"LastPoll=2017-01-01T00:00:00Z\n" +
		"First=2017-02-02T00:00:00Z\n" +
		"ExtraInterval=4\n" +
		"Retries=5\n" +
		"ProbeASAP=false\n" +
		"\n[Update]\n" +
		"UpgradeToInstallation=1\n"
	require.NoError(t, afero.WriteFile(fs, "/data/runtime.conf", []byte(v1), 0o600))

	s, err := Load(fs, "/data/runtime.conf", true)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Polling.Retries)
	require.NotNil(t, s.Update.UpgradingTo)
	assert.Equal(t, activeinactive.B, *s.Update.UpgradingTo)
	assert.True(t, s.v1Format)

	// Saving a v1-loaded settings file rewrites it in the v1 shape: no
	// AppliedPackageUID or CustomServerAddress fields, ever.
	s.Update.AppliedPackageUID = "ignored-in-v1-output"
	require.NoError(t, s.Save())

	raw, err := afero.ReadFile(fs, "/data/runtime.conf")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "AppliedPackageUID")
}

func TestParsePermissiveBoolIsCaseInsensitive(t *testing.T) {
	assert.True(t, parsePermissiveBool("true"))
	assert.True(t, parsePermissiveBool("TRUE"))
	assert.False(t, parsePermissiveBool("false"))
	assert.False(t, parsePermissiveBool(""))
}
