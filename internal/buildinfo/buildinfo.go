// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package buildinfo carries the version/commit/build-time banner the agent
// logs once at startup.
package buildinfo

import "fmt"

// Version is set via -ldflags at build time; it defaults to "dev" for
// local/test builds.
var Version = "dev"

// Commit is the VCS revision the binary was built from.
var Commit = "unknown"

// Date is the build timestamp, as an RFC3339 string.
var Date = "unknown"

// Banner renders the one-line startup banner.
func Banner() string {
	return fmt.Sprintf("updatehub-agent %s (commit %s, built %s)", Version, Commit, Date)
}
