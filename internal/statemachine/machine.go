// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package statemachine is the core orchestrator: it sequences
// Probe, Validation, Download, Install, and Reboot, accepts external
// RPC-driven preemption from the control plane through a command channel,
// and recovers into the Error state on any fatal failure.
//
// The machine runs as a single cooperative loop over a chain of state
// functions, the same state-function-returns-next-state-function shape
// Go's standard library uses for lexical scanners.
package statemachine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/callbacks"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/cloudclient"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/config"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/firmware"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/runtimesettings"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/scheduler"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/updatepackage"
)

var log = logger.New("updatehub", "")

// StateID names a state-machine state.
type StateID string

const (
	StateEntryPoint          StateID = "entry-point"
	StatePark                StateID = "park"
	StatePoll                StateID = "poll"
	StateProbe               StateID = "probe"
	StateValidation          StateID = "validation"
	StatePrepareDownload     StateID = "prepare-download"
	StateDownload            StateID = "download"
	StateInstall             StateID = "install"
	StateReboot              StateID = "reboot"
	StateError               StateID = "error"
	StateDirectDownload      StateID = "direct-download"
	StatePrepareLocalInstall StateID = "prepare-local-install"
)

// Error kinds surfaced through the Error state.
var (
	ErrInvalidStatusResponse = errors.New("invalid status response from server")
	ErrIncompatibleHardware  = errors.New("incompatible hardware")
	ErrInstallerCheck        = errors.New("installer check_requirements failed")
)

// InfoSnapshot is the read-only view GET /info serves. It is
// published by the machine's owning goroutine at every state transition and
// read lock-free via atomic.Value, so the control plane never needs to
// round-trip a request through the command channel just to read state that
// doesn't change as a side effect of being read.
type InfoSnapshot struct {
	State     StateID
	Firmware  *firmware.Metadata
	Polling   runtimesettings.Polling
	Update    runtimesettings.Update
	LastError string
}

// stateFn is one step of the cooperative state machine: it does its work
// and returns the function implementing the next state.
type stateFn func(ctx context.Context, m *Machine) stateFn

// Machine is the state-machine orchestrator. It owns every piece of
// mutable context the states need; nothing outside the command channel
// and the published InfoSnapshot is shared with other goroutines.
type Machine struct {
	cfg            *config.Config
	runtime        *runtimesettings.Settings
	firmware       *firmware.Metadata
	activeInactive *activeinactive.Controller
	client         *cloudclient.Client
	fs             afero.Fs
	callbacks      *callbacks.Runner
	exec           executor.Executor
	scheduler      *scheduler.Scheduler

	commands chan Command
	snapshot atomic.Value // *InfoSnapshot
	logRing  *logger.Ring // optional; feeds current-log into error reports

	// Per-lifecycle working state, valid only while an update is in flight.
	pkg          *updatepackage.Package
	sig          updatepackage.Signature
	inactiveSlot activeinactive.Set
	directURL    string
	localPath    string
	lastErr      error
}

// New constructs a Machine. The command channel's buffer bounds how many
// in-flight RPC commands may queue while the machine is busy in a
// non-preemptive state; 8 is ample headroom for a control plane with at
// most one client.
func New(
	cfg *config.Config,
	runtime *runtimesettings.Settings,
	fw *firmware.Metadata,
	ai *activeinactive.Controller,
	client *cloudclient.Client,
	fs afero.Fs,
	cb *callbacks.Runner,
	exec executor.Executor,
	sched *scheduler.Scheduler,
) *Machine {
	m := &Machine{
		cfg:            cfg,
		runtime:        runtime,
		firmware:       fw,
		activeInactive: ai,
		client:         client,
		fs:             fs,
		callbacks:      cb,
		exec:           exec,
		scheduler:      sched,
		commands:       make(chan Command, 8),
	}
	m.publish(StateEntryPoint)
	return m
}

// stateImpl is the dispatch table goTo uses once the state-change callback
// has been consulted.
var stateImpl map[StateID]stateFn

func init() {
	stateImpl = map[StateID]stateFn{
		StateEntryPoint:          stateEntryPoint,
		StatePark:                statePark,
		StatePoll:                statePoll,
		StateProbe:               stateProbe,
		StateValidation:          stateValidation,
		StatePrepareDownload:     statePrepareDownload,
		StateDownload:            stateDownload,
		StateInstall:             stateInstall,
		StateReboot:              stateReboot,
		StateError:               stateError,
		StateDirectDownload:      stateDirectDownload,
		StatePrepareLocalInstall: statePrepareLocalInstall,
	}
}

// goTo returns the stateFn that performs a transition to dest: publishing
// the new state, running the state-change callback, and, absent
// a cancel/error, dispatching to dest's implementation. Retries-in-place
// (e.g. Probe's transport-error retry) must NOT go through goTo; they
// return their own stateFn directly, since a retry is not a transition.
func (m *Machine) goTo(dest StateID) stateFn {
	return func(ctx context.Context, mm *Machine) stateFn {
		mm.publish(dest)

		if mm.callbacks != nil {
			if err := mm.callbacks.StateChange(ctx, string(dest)); err != nil {
				if errors.Is(err, callbacks.ErrCancelled) {
					log.Infof("transition to %s cancelled by state-change-callback", dest)
					return mm.goTo(StateEntryPoint)
				}
				log.Errorf("state-change-callback error entering %s: %v", dest, err)
				mm.lastErr = err
				return mm.goTo(StateError)
			}
		}

		fn, ok := stateImpl[dest]
		if !ok {
			panic("statemachine: no implementation registered for state " + string(dest))
		}
		return fn(ctx, mm)
	}
}

// Run executes the state machine until ctx is cancelled. startAt lets
// callers (notably main, after startup recovery) choose the first state;
// ordinary operation starts at EntryPoint.
func (m *Machine) Run(ctx context.Context, startAt StateID) {
	current := m.goTo(startAt)
	for current != nil {
		if ctx.Err() != nil {
			return
		}
		current = current(ctx, m)
	}
}

// SubmitCommand sends cmd to the machine and waits for its reply, bounded
// by ctx. This is the only way the control plane touches machine state.
func (m *Machine) SubmitCommand(ctx context.Context, cmd Command) (Result, error) {
	reply := make(chan Result, 1)
	cmd.Reply = reply

	select {
	case m.commands <- cmd:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// SetLogRing attaches the in-memory log ring so error reports can carry the
// recent agent log. Must be called before Run.
func (m *Machine) SetLogRing(ring *logger.Ring) {
	m.logRing = ring
}

// reportProgress sends best-effort telemetry for the progress-reporting
// states. The client swallows transport failures; a device that cannot
// reach the server still updates.
func (m *Machine) reportProgress(ctx context.Context, status, previousState, errorMessage string) {
	if m.client == nil || m.pkg == nil {
		return
	}

	req := cloudclient.ReportRequest{
		Status:        status,
		ProductUID:    m.firmware.ProductUID,
		Version:       m.firmware.Version,
		Hardware:      m.firmware.Hardware,
		PackageUID:    m.pkg.PackageUID(),
		PreviousState: previousState,
		ErrorMessage:  errorMessage,
	}
	if errorMessage != "" && m.logRing != nil {
		var lines []string
		for _, entry := range m.logRing.Drain() {
			lines = append(lines, entry.Message)
		}
		req.CurrentLog = strings.Join(lines, "")
	}
	m.client.Report(ctx, req)
}

// Snapshot returns the most recently published InfoSnapshot, safe to call
// from any goroutine.
func (m *Machine) Snapshot() *InfoSnapshot {
	v, _ := m.snapshot.Load().(*InfoSnapshot)
	return v
}

func (m *Machine) publish(state StateID) {
	snap := &InfoSnapshot{
		State:    state,
		Firmware: m.firmware,
		Polling:  m.runtime.Polling,
		Update:   m.runtime.Update,
	}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
	}
	m.snapshot.Store(snap)
}

func (m *Machine) serveInfo(cmd Command) {
	cmd.Reply <- Result{Accepted: true, Info: m.Snapshot()}
}

// acceptPreemptive processes a command received while in a preemptive
// state (EntryPoint, Poll, Park). It always
// replies on cmd.Reply. handled=true means the command caused a
// transition, in which case next is the stateFn the caller should return;
// handled=false means the caller should keep waiting in the same state.
func (m *Machine) acceptPreemptive(cmd Command, prior StateID) (next stateFn, handled bool) {
	if cmd.CorrelationID != "" && (cmd.Kind == CmdProbe || cmd.Kind == CmdLocalInstall || cmd.Kind == CmdRemoteInstall) {
		log.WithField("correlation-id", cmd.CorrelationID).Infof("%s command accepted from %s", cmd.Kind, prior)
	}

	switch cmd.Kind {
	case CmdInfo:
		m.serveInfo(cmd)
		return nil, false

	case CmdProbe:
		if cmd.CustomServer != "" {
			m.runtime.Polling.CustomServerAddress = cmd.CustomServer
			_ = m.runtime.Save()
		}
		cmd.Reply <- Result{Accepted: true, PriorState: prior}
		return m.goTo(StateProbe), true

	case CmdLocalInstall:
		m.localPath = cmd.Path
		cmd.Reply <- Result{Accepted: true, PriorState: prior}
		return m.goTo(StatePrepareLocalInstall), true

	case CmdRemoteInstall:
		m.directURL = cmd.URL
		cmd.Reply <- Result{Accepted: true, PriorState: prior}
		return m.goTo(StateDirectDownload), true

	default:
		cmd.Reply <- Result{Accepted: false, PriorState: prior, Err: &ErrInvalidState{Current: prior}}
		return nil, false
	}
}

// pollDelay computes how long Poll should wait before the next Probe:
// jittered uniformly within [0, interval) on the very first run,
// otherwise the remaining time until last_poll + interval (extra_interval,
// if set by a prior ExtraPoll response, overrides the configured interval).
func (m *Machine) pollDelay() time.Duration {
	interval := m.cfg.PollingInterval
	if m.runtime.Polling.ExtraInterval != nil {
		interval = *m.runtime.Polling.ExtraInterval
	}
	if interval < 0 {
		interval = 0
	}

	if m.runtime.Polling.LastPoll == nil {
		if interval <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(interval)))
	}

	delay := time.Until(m.runtime.Polling.LastPoll.Add(interval))
	if delay < 0 {
		delay = 0
	}
	return delay
}

// sleepOrDone sleeps for d, returning false early (without having slept) if
// ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
