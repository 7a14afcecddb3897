// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package startuprecovery

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/callbacks"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/runtimesettings"
)

type fakeExecutor struct {
	stdout map[string]string
	err    map[string]error
	calls  []string
}

func (f *fakeExecutor) Run(ctx context.Context, name string, args ...string) (executor.Result, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.err[name]; ok {
		return executor.Result{}, err
	}
	return executor.Result{Stdout: f.stdout[name]}, nil
}

func newRuntime(t *testing.T, fs afero.Fs, upgradingTo *activeinactive.Set) *runtimesettings.Settings {
	t.Helper()
	rs := runtimesettings.New(fs, "/runtime.conf", false)
	rs.Update.UpgradingTo = upgradingTo
	return rs
}

func TestRunIsNoOpWithoutPendingUpgrade(t *testing.T) {
	fs := afero.NewMemMapFs()
	rs := newRuntime(t, fs, nil)
	exec := &fakeExecutor{stdout: map[string]string{"updatehub-active-get": "0"}}

	err := Run(context.Background(), rs, activeinactive.New(exec), callbacks.NewRunner(fs, "/meta", exec), exec)
	require.NoError(t, err)
	assert.Empty(t, exec.calls)
}

func TestRunClearsUpgradingToWhenBootedBackToOldSlot(t *testing.T) {
	fs := afero.NewMemMapFs()
	upgrading := activeinactive.B
	rs := newRuntime(t, fs, &upgrading)
	exec := &fakeExecutor{stdout: map[string]string{"updatehub-active-get": "0"}} // active == A, not B

	err := Run(context.Background(), rs, activeinactive.New(exec), callbacks.NewRunner(fs, "/meta", exec), exec)
	require.NoError(t, err)
	assert.Nil(t, rs.Update.UpgradingTo)
}

func TestRunConfirmsUpgradeOnSuccessfulValidation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/meta/validate-callback", []byte("#!/bin/sh\n"), 0o755))
	upgrading := activeinactive.B
	rs := newRuntime(t, fs, &upgrading)
	exec := &fakeExecutor{stdout: map[string]string{"updatehub-active-get": "1"}} // active == B

	err := Run(context.Background(), rs, activeinactive.New(exec), callbacks.NewRunner(fs, "/meta", exec), exec)
	require.NoError(t, err)
	assert.Nil(t, rs.Update.UpgradingTo)
	assert.Contains(t, exec.calls, "updatehub-active-validated")
}

func TestRunRollsBackOnFailedValidation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/meta/validate-callback", []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, afero.WriteFile(fs, "/meta/rollback-callback", []byte("#!/bin/sh\n"), 0o755))
	upgrading := activeinactive.B
	rs := newRuntime(t, fs, &upgrading)
	exec := &fakeExecutor{
		stdout: map[string]string{"updatehub-active-get": "1"}, // active == B
		err:    map[string]error{"/meta/validate-callback": errors.New("boom")},
	}

	err := Run(context.Background(), rs, activeinactive.New(exec), callbacks.NewRunner(fs, "/meta", exec), exec)
	assert.ErrorIs(t, err, ErrRolledBack)
	assert.Nil(t, rs.Update.UpgradingTo)
	assert.Contains(t, exec.calls, "/meta/rollback-callback")
	assert.Contains(t, exec.calls, "updatehub-active-set")
	assert.Contains(t, exec.calls, "reboot")
}
