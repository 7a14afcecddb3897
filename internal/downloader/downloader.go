// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package downloader drives object retrieval: it walks a package
// slot's objects, resolves each one's status through the hash gate, and
// fetches whatever isn't already Ready, retrying transport failures and
// honoring aborts between chunks.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/cloudclient"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/object"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/updatepackage"
)

var log = logger.New("updatehub", "")

// ErrAborted is returned when a caller-supplied abort channel fires while a
// download is in flight. Aborts take effect at chunk boundaries.
var ErrAborted = errors.New("download aborted")

// ErrObjectNotReady is returned when an object is still not Ready after a
// successful fetch attempt, meaning the server sent a short or mismatched
// body.
var ErrObjectNotReady = errors.New("object failed final readiness check")

// Downloader fetches the not-yet-Ready objects of a package slot.
type Downloader struct {
	Client      *cloudclient.Client
	FS          afero.Fs
	DownloadDir string

	// OnRetry, if set, is invoked once per transport-failure retry attempt,
	// letting the caller bump its persisted retry counter.
	OnRetry func()
}

// New constructs a Downloader bound to client and downloadDir.
func New(client *cloudclient.Client, fs afero.Fs, downloadDir string) *Downloader {
	return &Downloader{Client: client, FS: fs, DownloadDir: downloadDir}
}

// Run performs the full download sequence for one package: clear unrelated files,
// compute each object's status, fetch the ones that are Missing or
// Incomplete, and assert every object is Ready on exit. abort, if
// non-nil, cancels the context every fetch runs under, which stops the
// streamed copy in progress and any fetch after it.
func (d *Downloader) Run(ctx context.Context, pkg *updatepackage.Package, objects []object.Object, abort <-chan struct{}) error {
	if err := updatepackage.ClearUnrelatedFiles(d.FS, d.DownloadDir, objects); err != nil {
		return fmt.Errorf("clearing unrelated files: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if abort != nil {
		go func() {
			select {
			case <-abort:
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	for _, obj := range objects {
		status, err := object.ComputeStatus(d.FS, d.DownloadDir, obj)
		if err != nil {
			return fmt.Errorf("computing status for %s: %w", obj.SHA256Sum(), err)
		}
		if status == object.Ready {
			log.Debugf("object %s is already ready; skipping fetch", obj.SHA256Sum())
			continue
		}

		if err := d.fetchWithRetry(runCtx, pkg, obj); err != nil {
			if runCtx.Err() != nil {
				return ErrAborted
			}
			return err
		}

		status, err = object.ComputeStatus(d.FS, d.DownloadDir, obj)
		if err != nil {
			return fmt.Errorf("re-checking status for %s: %w", obj.SHA256Sum(), err)
		}
		if status != object.Ready {
			return fmt.Errorf("%w: %s is %s after download", ErrObjectNotReady, obj.SHA256Sum(), status)
		}
	}

	return nil
}

// fetchWithRetry fetches a single object, retrying transport failures with
// a 1-second fixed backoff. Retries are unbounded at this layer; ctx
// cancellation is the termination path.
func (d *Downloader) fetchWithRetry(ctx context.Context, pkg *updatepackage.Package, obj object.Object) error {
	policy := backoff.WithContext(backoff.NewConstantBackOff(1*time.Second), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := d.Client.DownloadObject(ctx, d.FS, pkg.ProductUID, pkg.PackageUID(), d.DownloadDir, obj.SHA256Sum(), obj.Size(), func(percent int) {
			log.Debugf("downloading %s: %d%%", obj.SHA256Sum(), percent)
		})
		if err != nil {
			if !errors.Is(err, cloudclient.ErrTransport) {
				return backoff.Permanent(err)
			}
			log.Warnf("download attempt %d for %s failed: %v", attempt, obj.SHA256Sum(), err)
			if d.OnRetry != nil {
				d.OnRetry()
			}
			return err
		}
		return nil
	}, policy)
}
