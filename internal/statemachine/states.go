// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/cloudclient"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/downloader"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/object"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/uhupkg"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/updatepackage"
)

// stateEntryPoint is the hub every lifecycle returns to. It doesn't
// block: a force-poll flag sends it straight to Probe, polling being
// disabled sends it to Park, and otherwise it proceeds to Poll. A command
// already queued is drained (non-blocking) before any of that, since
// EntryPoint is a preemptive state.
func stateEntryPoint(ctx context.Context, m *Machine) stateFn {
	for {
		select {
		case cmd := <-m.commands:
			if next, handled := m.acceptPreemptive(cmd, StateEntryPoint); handled {
				return next
			}
			continue
		default:
		}

		if m.runtime.Polling.ProbeASAP {
			m.runtime.Polling.ProbeASAP = false
			_ = m.runtime.Save()
			return m.goTo(StateProbe)
		}
		if m.cfg.DisablePolling {
			return m.goTo(StatePark)
		}
		return m.goTo(StatePoll)
	}
}

// statePark waits forever for an external command; only the control plane
// can move the machine out of Park.
func statePark(ctx context.Context, m *Machine) stateFn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-m.commands:
			if next, handled := m.acceptPreemptive(cmd, StatePark); handled {
				return next
			}
		}
	}
}

// statePoll sleeps until the next probe deadline (jittered on first run),
// racing a wake from the scheduler against the command channel so RPC
// commands still preempt the wait.
func statePoll(ctx context.Context, m *Machine) stateFn {
	wake := m.scheduler.WaitOnce(m.pollDelay())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			return m.goTo(StateProbe)
		case cmd := <-m.commands:
			if next, handled := m.acceptPreemptive(cmd, StatePoll); handled {
				return next
			}
		}
	}
}

// stateProbe issues the probe request and dispatches on its outcome.
// Transport errors retry in place with a 1-second sleep and
// an incremented retry counter, rather than transitioning through goTo:
// a retry is not a state transition and must not re-run the
// state-change-callback.
func stateProbe(ctx context.Context, m *Machine) stateFn {
	serverAddr := m.cfg.ServerAddress
	if m.runtime.Polling.CustomServerAddress != "" {
		serverAddr = m.runtime.Polling.CustomServerAddress
	}
	client := m.client
	if client == nil || serverAddr != client.BaseURL {
		client = cloudclient.New(serverAddr)
		// Downloads for whatever this probe returns must hit the same
		// server that was probed, so the override sticks on the machine.
		m.client = client
	}

	req := cloudclient.ProbeRequest{
		ProductUID:       m.firmware.ProductUID,
		Version:          m.firmware.Version,
		Hardware:         m.firmware.Hardware,
		DeviceIdentity:   cloudclient.ScalarizeAttributes(m.firmware.DeviceIdentity),
		DeviceAttributes: cloudclient.ScalarizeAttributes(m.firmware.DeviceAttributes),
	}

	outcome, err := client.Probe(ctx, req, m.runtime.Polling.Retries)
	if err != nil {
		if errors.Is(err, cloudclient.ErrTransport) {
			log.Warnf("probe transport error: %v", err)
			m.runtime.Polling.Retries++
			_ = m.runtime.Save()
			if !sleepOrDone(ctx, 1*time.Second) {
				return nil
			}
			return stateProbe
		}
		if outcome.InvalidStatusCode != 0 {
			m.lastErr = fmt.Errorf("%w: %d", ErrInvalidStatusResponse, outcome.InvalidStatusCode)
		} else {
			m.lastErr = err
		}
		return m.goTo(StateError)
	}

	// Only a successful probe outcome clears the transport-retry counter;
	// nothing else (not even a completed install) resets it.
	m.runtime.Polling.Retries = 0

	now := time.Now()

	if outcome.NoUpdate {
		log.Infof("no update is current available for this device")
		m.runtime.Polling.LastPoll = &now
		_ = m.runtime.Save()
		return m.goTo(StateEntryPoint)
	}

	if outcome.ExtraPollSeconds > 0 {
		d := time.Duration(outcome.ExtraPollSeconds) * time.Second
		m.runtime.Polling.ExtraInterval = &d
		m.runtime.Polling.LastPoll = &now
		_ = m.runtime.Save()
		return m.goTo(StateEntryPoint)
	}

	pkg, err := updatepackage.Parse(outcome.PackageRaw)
	if err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}
	sig, err := updatepackage.ParseSignature(outcome.SignatureHeader)
	if err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}

	m.runtime.Polling.LastPoll = &now
	_ = m.runtime.Save()

	m.pkg = pkg
	m.sig = sig
	return m.goTo(StateValidation)
}

// stateValidation runs every validation gate in order: signature,
// hardware compatibility, install-mode allow-list, per-object
// check_requirements, and finally the already-applied shortcut.
func stateValidation(ctx context.Context, m *Machine) stateFn {
	pkg := m.pkg

	if m.firmware.PublicKeyPath != "" {
		if err := m.sig.Validate(m.firmware.PublicKeyPath, pkg); err != nil {
			m.lastErr = err
			return m.goTo(StateError)
		}
	} else {
		log.Infof("no public key configured; skipping package signature verification")
	}

	if !pkg.SupportedHardware.Compatible(m.firmware.Hardware) {
		m.lastErr = fmt.Errorf("%w: %s", ErrIncompatibleHardware, m.firmware.Hardware)
		return m.goTo(StateError)
	}

	inactive, err := m.activeInactive.Inactive(ctx)
	if err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}
	m.inactiveSlot = inactive

	if err := pkg.ValidateInstallModes(inactive, m.cfg.InstallModeSet()); err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}

	for _, obj := range pkg.ObjectsForSlot(inactive) {
		if err := obj.CheckRequirements(ctx); err != nil {
			m.lastErr = fmt.Errorf("%w: %v", ErrInstallerCheck, err)
			return m.goTo(StateError)
		}
	}

	if m.runtime.Update.AppliedPackageUID != "" && m.runtime.Update.AppliedPackageUID == pkg.PackageUID() {
		log.Infof("package %s already applied; skipping", pkg.PackageUID())
		return m.goTo(StateEntryPoint)
	}

	return m.goTo(StatePrepareDownload)
}

// statePrepareDownload carries no work of its own beyond what Download's
// clear/status pass already does; it is kept separate so the
// state-change-callback still observes a "prepare-download" transition
// distinct from "download" before fetching begins.
func statePrepareDownload(ctx context.Context, m *Machine) stateFn {
	return m.goTo(StateDownload)
}

// stateDownload drives the downloader for the inactive slot's objects. A background
// goroutine services the command channel for the duration of the fetch so
// AbortDownload can preempt mid-chunk and /info keeps answering
// through the published snapshot while a (possibly long) download runs.
func stateDownload(ctx context.Context, m *Machine) stateFn {
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	var aborted int32

	go func() {
		for {
			select {
			case <-done:
				return
			case cmd := <-m.commands:
				switch cmd.Kind {
				case CmdInfo:
					m.serveInfo(cmd)
				case CmdAbortDownload:
					atomic.StoreInt32(&aborted, 1)
					cancel()
					cmd.Reply <- Result{Accepted: true, PriorState: StateDownload}
				default:
					cmd.Reply <- Result{Accepted: false, PriorState: StateDownload, Err: &ErrInvalidState{Current: StateDownload}}
				}
			}
		}
	}()

	m.reportProgress(ctx, "downloading", "", "")

	objects := m.pkg.ObjectsForSlot(m.inactiveSlot)
	dl := downloader.New(m.client, m.fs, m.cfg.DownloadDir)
	dl.OnRetry = func() {
		m.runtime.Polling.Retries++
		_ = m.runtime.Save()
	}

	err := dl.Run(dlCtx, m.pkg, objects, nil)
	close(done)

	if err != nil {
		if atomic.LoadInt32(&aborted) == 1 || errors.Is(err, downloader.ErrAborted) {
			log.Infof("download aborted by request; returning to entry point")
			return m.goTo(StateEntryPoint)
		}
		m.reportProgress(ctx, "error", "downloading", err.Error())
		m.lastErr = err
		return m.goTo(StateError)
	}
	m.reportProgress(ctx, "downloaded", "", "")
	return m.goTo(StateInstall)
}

// stateInstall runs every object's install pipeline in order, then commits
// the applied package UID and upgrading-to slot to durable storage *before*
// flipping the active slot: if the reboot lands before the flip, startup
// recovery can still classify the attempt from what is on disk.
func stateInstall(ctx context.Context, m *Machine) stateFn {
	m.reportProgress(ctx, "installing", "", "")

	for _, obj := range m.pkg.ObjectsForSlot(m.inactiveSlot) {
		if err := object.RunInstallPipeline(ctx, obj, m.cfg.DownloadDir); err != nil {
			m.lastErr = fmt.Errorf("installing object %s: %w", obj.SHA256Sum(), err)
			m.reportProgress(ctx, "error", "installing", m.lastErr.Error())
			return m.goTo(StateError)
		}
	}

	m.runtime.Update.AppliedPackageUID = m.pkg.PackageUID()
	upgradingTo := m.inactiveSlot
	m.runtime.Update.UpgradingTo = &upgradingTo
	if err := m.runtime.Save(); err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}

	if err := m.activeInactive.SetActive(ctx, m.inactiveSlot); err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}

	m.reportProgress(ctx, "installed", "", "")
	return m.goTo(StateReboot)
}

// stateReboot invokes the reboot command and logs its output. On
// real hardware this call does not return; it transitions back to
// EntryPoint purely so the machine has well-defined behavior under test
// doubles that don't actually halt the process.
func stateReboot(ctx context.Context, m *Machine) stateFn {
	m.reportProgress(ctx, "rebooting", "", "")

	result, err := m.exec.Run(ctx, "reboot")
	if result.Stdout != "" {
		log.Infof("reboot stdout: %s", result.Stdout)
	}
	if result.Stderr != "" {
		log.Errorf("reboot stderr: %s", result.Stderr)
	}
	if err != nil {
		log.Errorf("reboot command failed: %v", err)
	}
	return m.goTo(StateEntryPoint)
}

// stateError logs the failing error, runs error-callback, increments the
// retry counter, and returns to EntryPoint: no error locks the machine
// outside Park.
func stateError(ctx context.Context, m *Machine) stateFn {
	err := m.lastErr
	log.Errorf("state machine error: %v", err)

	m.runtime.Polling.Retries++
	_ = m.runtime.Save()

	if err != nil && m.callbacks != nil {
		if cbErr := m.callbacks.Error(ctx, err); cbErr != nil {
			log.Errorf("error-callback failed: %v", cbErr)
		}
	}

	m.lastErr = nil
	return m.goTo(StateEntryPoint)
}

// stateDirectDownload fetches a uhupkg archive from an operator-supplied
// URL into the download directory, then hands off to PrepareLocalInstall
// exactly as a locally-supplied archive would.
func stateDirectDownload(ctx context.Context, m *Machine) stateFn {
	path, err := uhupkg.Fetch(ctx, m.fs, m.directURL, m.cfg.DownloadDir)
	if err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}
	m.localPath = path
	return m.goTo(StatePrepareLocalInstall)
}

// statePrepareLocalInstall extracts metadata, an optional signature, and
// every declared object out of a uhupkg archive into the download
// directory, then proceeds to Validation exactly as a server-probed
// package would. Since every object member is already written, Download's
// status pass finds them Ready and issues no fetches.
func statePrepareLocalInstall(ctx context.Context, m *Machine) stateFn {
	extracted, err := uhupkg.Extract(m.fs, m.localPath, m.cfg.DownloadDir)
	if err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}

	pkg, err := updatepackage.Parse(extracted.Metadata)
	if err != nil {
		m.lastErr = err
		return m.goTo(StateError)
	}

	var sig updatepackage.Signature
	if len(extracted.Signature) > 0 {
		sig, err = updatepackage.ParseSignature(string(extracted.Signature))
		if err != nil {
			m.lastErr = err
			return m.goTo(StateError)
		}
	}

	m.pkg = pkg
	m.sig = sig
	return m.goTo(StateValidation)
}
