// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
)

// Test is a variant used only under test: its Install is a true no-op,
// letting end-to-end scenarios exercise the full Probe→Install→Reboot
// pipeline without touching any real media.
type Test struct {
	Common
	NoopLifecycle
}

func (t *Test) Mode() string { return "test" }

func (t *Test) Install(ctx context.Context, downloadDir string) error { return nil }

func init() {
	Register("test", func(raw json.RawMessage) (Object, error) {
		var t Test
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return &t, nil
	})
}
