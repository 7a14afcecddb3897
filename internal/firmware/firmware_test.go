// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package firmware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHooks struct {
	single map[string]string
	multi  map[string]AttributeSet
	err    error
}

func (f *fakeHooks) RunSingle(ctx context.Context, hookName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.single[hookName], nil
}

func (f *fakeHooks) RunMulti(ctx context.Context, category string) (AttributeSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.multi[category], nil
}

func validHooks() *fakeHooks {
	return &fakeHooks{
		single: map[string]string{
			"product-uid": "229ffd7e1957fd0d2da6202c0d6419311322788825c1f6fd8437a96c6d7a3381",
			"version":     "1.1",
			"hardware":    "board",
		},
		multi: map[string]AttributeSet{
			"device-identity":   {"id": {"abc123"}},
			"device-attributes": {},
		},
	}
}

func TestReadBuildsMetadataFromHooks(t *testing.T) {
	hooks := validHooks()
	meta, err := NewReader(hooks, "/etc/updatehub/key.pub").Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.1", meta.Version)
	assert.Equal(t, "board", meta.Hardware)
	assert.Equal(t, []string{"abc123"}, meta.DeviceIdentity["id"])
	assert.Equal(t, "/etc/updatehub/key.pub", meta.PublicKeyPath)
}

func TestReadRejectsShortProductUID(t *testing.T) {
	hooks := validHooks()
	hooks.single["product-uid"] = "tooshort"
	_, err := NewReader(hooks, "").Read(context.Background())
	assert.ErrorIs(t, err, ErrInvalidProductUID)
}

func TestReadRejectsEmptyDeviceIdentity(t *testing.T) {
	hooks := validHooks()
	hooks.multi["device-identity"] = AttributeSet{}
	_, err := NewReader(hooks, "").Read(context.Background())
	assert.ErrorIs(t, err, ErrEmptyDeviceIdentity)
}
