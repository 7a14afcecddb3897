// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package cloudclient implements the wire-level HTTP client to the
// UpdateHub server: probe, object download with Range resume, and
// best-effort telemetry reporting.
package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
)

const (
	userAgent        = "updatehub/2.0 Linux"
	apiContentType   = "application/vnd.updatehub-v1+json"
	connectTimeout   = 10 * time.Second
	progressTickSize = 20 // percentage points between progress DEBUG logs

	osTruncCreate = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	osResumeWrite = os.O_WRONLY | os.O_CREATE
)

var log = logger.New("updatehub", "")

// Client is bound to a single base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client with a 10-second connect timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Content-Type", apiContentType)
}

// ProbeRequest is the JSON body for POST /upgrades.
type ProbeRequest struct {
	ProductUID       string                 `json:"product-uid"`
	Version          string                 `json:"version"`
	Hardware         string                 `json:"hardware"`
	DeviceIdentity   map[string]interface{} `json:"device-identity"`
	DeviceAttributes map[string]interface{} `json:"device-attributes"`
}

// ScalarizeAttributes serializes single-element identity lists as scalars
// and multi-element lists as arrays, the shape the server expects.
func ScalarizeAttributes(attrs map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, values := range attrs {
		if len(values) == 1 {
			out[k] = values[0]
		} else {
			out[k] = values
		}
	}
	return out
}

// ProbeOutcome is the tagged result of a probe.
type ProbeOutcome struct {
	NoUpdate          bool
	ExtraPollSeconds  int
	PackageRaw        []byte
	SignatureHeader   string
	InvalidStatusCode int
}

// ErrTransport wraps a network-level failure (not an HTTP error status).
var ErrTransport = errors.New("transport error")

// Probe issues POST <base>/upgrades.
func (c *Client) Probe(ctx context.Context, body ProbeRequest, retries int) (ProbeOutcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return ProbeOutcome{}, fmt.Errorf("marshaling probe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upgrades", bytes.NewReader(payload))
	if err != nil {
		return ProbeOutcome{}, fmt.Errorf("building probe request: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Api-Retries", strconv.Itoa(retries))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ProbeOutcome{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ProbeOutcome{NoUpdate: true}, nil

	case resp.StatusCode == http.StatusOK && resp.Header.Get("Add-Extra-Poll") != "":
		secs, err := strconv.Atoi(resp.Header.Get("Add-Extra-Poll"))
		if err != nil {
			return ProbeOutcome{}, fmt.Errorf("parsing Add-Extra-Poll header: %w", err)
		}
		return ProbeOutcome{ExtraPollSeconds: secs}, nil

	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return ProbeOutcome{}, fmt.Errorf("reading probe response body: %w", err)
		}
		return ProbeOutcome{PackageRaw: raw, SignatureHeader: resp.Header.Get("UH-Signature")}, nil

	default:
		return ProbeOutcome{InvalidStatusCode: resp.StatusCode}, fmt.Errorf("invalid status response: %d", resp.StatusCode)
	}
}

// DownloadObject streams GET <base>/products/<product>/packages/<pkg>/objects/<sha>
// to <downloadDir>/<sha>, resuming via Range if a partial file already
// exists. progress is called with each 10/30/50/70/90 percent tick.
func (c *Client) DownloadObject(ctx context.Context, fs afero.Fs, productUID, packageUID, downloadDir, sha256sum string, declaredSize uint64, progress func(percent int)) error {
	path := downloadDir + "/" + sha256sum

	var existingLength int64
	if info, err := fs.Stat(path); err == nil {
		existingLength = info.Size()
	}

	url := fmt.Sprintf("%s/products/%s/packages/%s/objects/%s", c.BaseURL, productUID, packageUID, sha256sum)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	c.setCommonHeaders(req)

	flags := osTruncCreate
	if existingLength > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingLength-1))
		flags = osResumeWrite
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download of %s failed with status %d", sha256sum, resp.StatusCode)
	}

	out, err := fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer out.Close()

	if existingLength > 0 {
		if _, err := out.Seek(existingLength-1, io.SeekStart); err != nil {
			return fmt.Errorf("seeking %s: %w", path, err)
		}
	}

	return copyWithProgress(out, resp.Body, declaredSize, progress)
}

func copyWithProgress(dst io.Writer, src io.Reader, declaredSize uint64, progress func(percent int)) error {
	var written uint64
	nextTick := 10 // ticks advance 10, 30, 50, 70, 90
	buf := make([]byte, 32*1024)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing object data: %w", err)
			}
			written += uint64(n)

			if declaredSize > 0 && progress != nil {
				percent := int(written * 100 / declaredSize)
				for nextTick <= 90 && percent >= nextTick {
					progress(nextTick)
					nextTick += progressTickSize
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrTransport, readErr)
		}
	}
}

// ReportRequest is the JSON body for POST /report.
type ReportRequest struct {
	Status         string `json:"status"`
	ProductUID     string `json:"product-uid"`
	Version        string `json:"version"`
	Hardware       string `json:"hardware"`
	PackageUID     string `json:"package-uid,omitempty"`
	PreviousState  string `json:"previous-state,omitempty"`
	ErrorMessage   string `json:"error-message,omitempty"`
	CurrentLog     string `json:"current-log,omitempty"`
}

// Report issues POST <base>/report. Transport errors are swallowed: this is
// best-effort telemetry.
func (c *Client) Report(ctx context.Context, body ReportRequest) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Warnf("marshaling report body: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/report", bytes.NewReader(payload))
	if err != nil {
		log.Warnf("building report request: %v", err)
		return
	}
	c.setCommonHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Debugf("report transport error (swallowed): %v", err)
		return
	}
	defer resp.Body.Close()
}
