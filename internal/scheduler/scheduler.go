// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package scheduler drives the Poll state's wait: it schedules a single
// gocron job to fire after a computed delay and signals a channel when it
// does. SingletonModeAll plus SetMaxConcurrentJobs(1, ...) guarantees at
// most one pending probe.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
)

const pollTag = "updatehub-poll"

// Scheduler wraps a gocron scheduler configured to run at most one job at a
// time.
type Scheduler struct {
	cron *gocron.Scheduler
}

// New starts a Scheduler's background goroutine.
func New() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.SetMaxConcurrentJobs(1, gocron.WaitMode)
	s.StartAsync()
	return &Scheduler{cron: s}
}

// WaitOnce schedules a one-shot wake after delay and returns a channel that
// receives exactly once when it fires. Any previously scheduled, not-yet-fired
// wait is cancelled first.
func (s *Scheduler) WaitOnce(delay time.Duration) <-chan struct{} {
	_ = s.cron.RemoveByTag(pollTag)

	fire := make(chan struct{}, 1)
	if delay <= 0 {
		fire <- struct{}{}
		return fire
	}

	_, err := s.cron.Every(1).Day().StartAt(time.Now().Add(delay)).
		LimitRunsTo(1).Tag(pollTag).Do(func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
	if err != nil {
		// Scheduling failure degrades to an immediate fire rather than
		// wedging the state machine in Poll forever.
		close(fire)
	}
	return fire
}

// Stop halts the underlying gocron scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
