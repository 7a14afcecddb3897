// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const clientTimeout = 10 * time.Second

func newClientCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running agent's local control plane",
	}
	cmd.PersistentFlags().StringVar(&address, "address", "localhost:8080", "agent control-plane address")

	cmd.AddCommand(newClientProbeCommand(&address))
	cmd.AddCommand(newClientLogCommand(&address))
	return cmd
}

func newClientProbeCommand(address *string) *cobra.Command {
	var customServer string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Trigger an immediate probe against the update server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]string{"custom_server": customServer})
			return doRequest(http.MethodPost, *address, "/probe", bytes.NewReader(body))
		},
	}
	cmd.Flags().StringVar(&customServer, "server", "", "probe a custom server URL instead of the configured one")
	return cmd
}

func newClientLogCommand(address *string) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Dump the agent's captured in-memory log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRequest(http.MethodGet, *address, "/log", nil)
		},
	}
}

func doRequest(method, address, path string, body io.Reader) error {
	client := &http.Client{Timeout: clientTimeout}

	req, err := http.NewRequest(method, "http://"+address+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting agent at %s: %w", address, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	return nil
}
