// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package cloudclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReturnsNoUpdateOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upgrades", r.URL.Path)
		assert.Equal(t, "3", r.Header.Get("Api-Retries"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	outcome, err := c.Probe(context.Background(), ProbeRequest{ProductUID: "p"}, 3)
	require.NoError(t, err)
	assert.True(t, outcome.NoUpdate)
}

func TestProbeReturnsExtraPollOnHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Add-Extra-Poll", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	outcome, err := c.Probe(context.Background(), ProbeRequest{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, outcome.ExtraPollSeconds)
}

func TestProbeReturnsPackageBodyAndSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("UH-Signature", "c2ln")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"product":"p"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	outcome, err := c.Probe(context.Background(), ProbeRequest{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "c2ln", outcome.SignatureHeader)
	assert.JSONEq(t, `{"product":"p"}`, string(outcome.PackageRaw))
}

func TestProbeReturnsErrorOnUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Probe(context.Background(), ProbeRequest{}, 0)
	assert.Error(t, err)
}

func TestDownloadObjectWritesFullBody(t *testing.T) {
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/objects/sum")
		w.Write(body)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	var ticks []int
	c := New(srv.URL)
	err := c.DownloadObject(context.Background(), fs, "prod", "pkg", "/dl", "sum", uint64(len(body)), func(p int) {
		ticks = append(ticks, p)
	})
	require.NoError(t, err)

	got, err := afero.ReadFile(fs, "/dl/sum")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownloadObjectResumesWithRangeHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=4-", r.Header.Get("Range"))
		w.Write([]byte("4567"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/sum", []byte("01234"), 0o644))

	c := New(srv.URL)
	err := c.DownloadObject(context.Background(), fs, "prod", "pkg", "/dl", "sum", 8, nil)
	require.NoError(t, err)
}

func TestReportSwallowsTransportErrors(t *testing.T) {
	c := New("http://127.0.0.1:0")
	c.Report(context.Background(), ReportRequest{Status: "error"})
}

func TestScalarizeAttributesCollapsesSingleElementLists(t *testing.T) {
	out := ScalarizeAttributes(map[string][]string{
		"serial": {"abc"},
		"tags":   {"a", "b"},
	})
	assert.Equal(t, "abc", out["serial"])
	assert.Equal(t, []string{"a", "b"}, out["tags"])
}
