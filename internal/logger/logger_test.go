// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewSetsComponentAndVersionFields(t *testing.T) {
	entry := New("updatehub", "2.0.0")
	assert.Equal(t, "updatehub", entry.Data["component"])
	assert.Equal(t, "2.0.0", entry.Data["version"])
}

func TestRingOnlyCapturesWhileActive(t *testing.T) {
	ring := NewRing(10)
	l := log.New()
	l.AddHook(ring)

	l.Info("before capture")
	assert.Empty(t, ring.Drain())

	ring.StartCapture()
	l.Info("during capture")
	entries := ring.Drain()
	assert.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "during capture")

	ring.StopCapture()
	l.Info("after capture")
	assert.Len(t, ring.Drain(), 1)
}

func TestRingCapacityBoundsEntries(t *testing.T) {
	ring := NewRing(2)
	l := log.New()
	l.AddHook(ring)
	ring.StartCapture()

	l.Info("one")
	l.Info("two")
	l.Info("three")

	entries := ring.Drain()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries[0].Message, "two")
	assert.Contains(t, entries[1].Message, "three")
}

func TestRingClear(t *testing.T) {
	ring := NewRing(10)
	l := log.New()
	l.AddHook(ring)
	ring.StartCapture()
	l.Info("entry")
	assert.NotEmpty(t, ring.Drain())

	ring.Clear()
	assert.Empty(t, ring.Drain())
}
