// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrDeltaNotSupported is returned by Delta.Install. Delta-mode objects
// parse and download like any other, but the content-defined-chunking
// clone is not implemented: which partition seeds the clone (the running
// slot or the previously installed one) is still unsettled, and guessing
// wrong writes a corrupt image.
var ErrDeltaNotSupported = errors.New("delta-mode objects are accepted but not installable by this core")

// Delta is the opaque delta/binary-diff object variant.
type Delta struct {
	Common
	NoopLifecycle
}

func (d *Delta) Mode() string { return "delta" }

func (d *Delta) Install(ctx context.Context, downloadDir string) error {
	return ErrDeltaNotSupported
}

func init() {
	Register("delta", func(raw json.RawMessage) (Object, error) {
		var d Delta
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	})
}
