// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package config loads the agent's static configuration (server address,
// polling cadence, filesystem locations, allowed install modes), following
// the same shape every agent in this codebase uses for its own config.go:
// a YAML-tagged struct, a New constructor reading through afero.Fs, a
// setDefaults pass, and a validate pass.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
)

var log = logger.New("updatehub", "")

// Config is the agent's static configuration, read once at startup.
type Config struct {
	Version              string        `yaml:"version"`
	ServerAddress        string        `yaml:"serverAddress"`
	PollingInterval      time.Duration `yaml:"pollingInterval"`
	DownloadDir          string        `yaml:"downloadDir"`
	MetadataPath         string        `yaml:"metadataPath"`
	PublicKeyPath        string        `yaml:"publicKeyPath"`
	RuntimeSettingsPath  string        `yaml:"runtimeSettingsPath"`
	SupportedInstallModes []string     `yaml:"supportedInstallModes"`
	ListenAddress        string        `yaml:"listenAddress"`
	LogLevel             string        `yaml:"logLevel"`
	DisablePolling       bool          `yaml:"disablePolling"`
}

// New reads and validates the YAML configuration at path through fs.
func New(path string, fs afero.Fs) (*Config, error) {
	log.Infof("loading configuration from %s", path)

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config %s: %w", path, err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	log.Debugf("loaded configuration: %+v", cfg)
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = 1 * time.Hour
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "/var/cache/updatehub/downloads"
	}
	if cfg.MetadataPath == "" {
		cfg.MetadataPath = "/usr/share/updatehub"
	}
	if cfg.RuntimeSettingsPath == "" {
		cfg.RuntimeSettingsPath = "/var/lib/updatehub/runtime_settings.conf"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "localhost:8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.SupportedInstallModes) == 0 {
		cfg.SupportedInstallModes = []string{"test", "copy", "flash", "imxkobs", "raw", "tarball", "ubifs", "uboot_env"}
	}
}

func (cfg *Config) validate() error {
	if cfg.ServerAddress == "" {
		return fmt.Errorf("serverAddress is required")
	}
	if cfg.PollingInterval < 0 {
		return fmt.Errorf("pollingInterval cannot be negative")
	}
	return nil
}

// InstallModeSet returns SupportedInstallModes as a lookup set, the shape
// Package.ValidateInstallModes expects.
func (cfg *Config) InstallModeSet() map[string]bool {
	out := make(map[string]bool, len(cfg.SupportedInstallModes))
	for _, mode := range cfg.SupportedInstallModes {
		out[mode] = true
	}
	return out
}
