// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package activeinactive

import (
	"context"
	"testing"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	stdout map[string]string
	err    map[string]error
	calls  [][]string
}

func (f *fakeExecutor) Run(ctx context.Context, name string, args ...string) (executor.Result, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if err, ok := f.err[name]; ok {
		return executor.Result{}, err
	}
	return executor.Result{Stdout: f.stdout[name]}, nil
}

func TestActiveParsesScriptOutput(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string]string{"updatehub-active-get": "0"}}
	set, err := New(exec).Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, A, set)

	exec.stdout["updatehub-active-get"] = "1"
	set, err = New(exec).Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, B, set)
}

func TestActiveRejectsUnexpectedOutput(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string]string{"updatehub-active-get": "garbage"}}
	_, err := New(exec).Active(context.Background())
	assert.Error(t, err)
}

func TestInactiveIsComplementOfActive(t *testing.T) {
	exec := &fakeExecutor{stdout: map[string]string{"updatehub-active-get": "0"}}
	set, err := New(exec).Inactive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, B, set)
}

func TestSetActivePassesNumericID(t *testing.T) {
	exec := &fakeExecutor{}
	require.NoError(t, New(exec).SetActive(context.Background(), B))
	assert.Equal(t, []string{"updatehub-active-set", "1"}, exec.calls[0])
}
