// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/buildinfo"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/callbacks"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/cloudclient"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/config"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/controlplane"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/firmware"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/runtimesettings"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/scheduler"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/startuprecovery"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/statemachine"
)

const serverShutdownTimeout = 5 * time.Second

var log = logger.New("updatehub", "")

func newServerCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the agent's main polling/update loop and control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/updatehub.conf", "path to the agent's YAML configuration file")
	return cmd
}

func runServer(configPath string) error {
	log.Info(buildinfo.Banner())

	fs := afero.NewOsFs()

	cfg, err := config.New(configPath, fs)
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	// UH_LISTENER_TEST overrides the control plane's listener address so
	// test harnesses can bind somewhere other than the production address.
	if listener := os.Getenv("UH_LISTENER_TEST"); listener != "" {
		cfg.ListenAddress = listener
	}

	ring := logger.NewRing(4096)
	ring.StartCapture()
	logrus.StandardLogger().AddHook(ring)

	exec := executor.New()
	ai := activeinactive.New(exec)
	cb := callbacks.NewRunner(fs, cfg.MetadataPath, exec)

	fwReader := firmware.NewReader(&firmware.DirHookRunner{Dir: cfg.MetadataPath, Run: exec}, cfg.PublicKeyPath)
	fwMeta, err := fwReader.Read(context.Background())
	if err != nil {
		return err
	}

	runtime, err := runtimesettings.Load(fs, cfg.RuntimeSettingsPath, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startuprecovery.Run(ctx, runtime, ai, cb, exec); err != nil {
		if errors.Is(err, startuprecovery.ErrRolledBack) {
			log.Warn("rolled back a failed upgrade at startup; exiting without starting the main loop")
			return nil
		}
		return err
	}

	client := cloudclient.New(cfg.ServerAddress)
	sched := scheduler.New()
	defer sched.Stop()

	machine := statemachine.New(cfg, runtime, fwMeta, ai, client, fs, cb, exec, sched)
	machine.SetLogRing(ring)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: controlplane.New(machine, ring),
	}

	go func() {
		log.Infof("control plane listening on %s", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("control plane stopped: %v", err)
		}
	}()

	go machine.Run(ctx, statemachine.StateEntryPoint)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("control plane shutdown: %v", err)
	}

	return nil
}

func setLogLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("unrecognized log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
