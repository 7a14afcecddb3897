// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the process-wide logrus entry used throughout the
// agent, plus the in-memory capture ring backing the control plane's /log
// endpoint.
package logger

import (
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// New creates a new log entry with the specified component and version.
func New(component, version string) *log.Entry {
	return log.WithFields(log.Fields{
		"component": component,
		"version":   version,
	})
}

// Entry is a single captured log line, as returned by GET /log.
type Entry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Ring is a bounded, mutex-protected capture of recent log entries. It is
// installed as a logrus.Hook so every log call observes it implicitly, while
// the control plane only ever talks to it through Drain/Clear.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	active   bool
}

// NewRing returns a Ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{capacity: capacity}
}

// Levels implements logrus.Hook.
func (r *Ring) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements logrus.Hook.
func (r *Ring) Fire(entry *log.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}

	line, err := entry.String()
	if err != nil {
		line = entry.Message
	}

	r.entries = append(r.entries, Entry{Level: entry.Level.String(), Message: line})
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	return nil
}

// StartCapture begins recording entries fired through this hook.
func (r *Ring) StartCapture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
}

// StopCapture stops recording entries; previously captured entries are kept.
func (r *Ring) StopCapture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// Drain returns a copy of every captured entry, oldest first.
func (r *Ring) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear discards every captured entry.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
