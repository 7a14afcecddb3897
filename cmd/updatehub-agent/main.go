// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/buildinfo"
)

func main() {
	root := &cobra.Command{
		Use:     "updatehub-agent",
		Short:   "UpdateHub firmware-over-the-air agent",
		Version: buildinfo.Banner(),
	}

	root.AddCommand(newServerCommand())
	root.AddCommand(newClientCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
