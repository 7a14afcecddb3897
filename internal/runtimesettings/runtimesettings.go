// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package runtimesettings persists the agent's durable, small, key-value-like
// record of polling and update progress.
//
// The on-disk format is a two-section PascalCase INI file. No INI/TOML
// library is used anywhere in this codebase's dependency surface, so the
// narrow fixed two-section schema here is hand-rolled rather than pulling in
// an unrelated one-off dependency (see DESIGN.md).
package runtimesettings

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/logger"
)

var log = logger.New("updatehub", "")

// Polling is the persisted polling-cycle state.
type Polling struct {
	LastPoll            *time.Time
	ExtraInterval       *time.Duration
	Retries             int
	ProbeASAP           bool
	CustomServerAddress string
}

// Update is the persisted update-lifecycle state.
type Update struct {
	UpgradingTo       *activeinactive.Set
	AppliedPackageUID string
}

// Settings is the in-memory, persisted runtime-settings record.
// Callers change the exported fields and then call Save, which serializes
// and writes the file when the record is persistent; when it is not (used
// in tests and for "dry" installs) Save is a no-op.
type Settings struct {
	Polling Polling
	Update  Update

	mu         sync.Mutex
	fs         afero.Fs
	path       string
	persistent bool
	v1Format   bool // loaded from the legacy schema; rewrite in that shape
}

// New returns an empty Settings record bound to path; Save writes it there
// only when persistent is true.
func New(fs afero.Fs, path string, persistent bool) *Settings {
	return &Settings{fs: fs, path: path, persistent: persistent}
}

// Load reads Settings from path, trying the current format first and
// falling back to the legacy v1 schema still found on devices that
// predate the current format. A missing file yields zero-value defaults,
// not an error.
func Load(fs afero.Fs, path string, persistent bool) (*Settings, error) {
	s := New(fs, path, persistent)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("checking runtime settings path: %w", err)
	}
	if !exists {
		log.Debugf("runtime settings file %s does not exist; using defaults", path)
		return s, nil
	}

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading runtime settings: %w", err)
	}

	if err := s.parseCurrent(content); err == nil {
		return s, nil
	}

	// A failed current-format parse may have left partial state behind.
	s.Polling = Polling{}
	s.Update = Update{}
	if err := s.parseV1(content); err != nil {
		return nil, fmt.Errorf("parsing runtime settings as current or v1 format: %w", err)
	}
	s.v1Format = true
	log.Infof("runtime settings at %s use the legacy v1 schema; will be rewritten in that shape", path)
	return s, nil
}

// currentKeys is the exact key set the current schema allows. Parsing is
// strict about it: an unknown key (such as v1's Polling.First) fails the
// parse so Load falls through to the v1 path instead of silently accepting
// a legacy file as current-format.
var currentKeys = map[string]map[string]bool{
	"Polling": {"LastPoll": true, "ExtraInterval": true, "Retries": true, "ProbeASAP": true, "CustomServerAddress": true},
	"Update":  {"UpgradeToInstallation": true, "AppliedPackageUID": true},
}

func (s *Settings) parseCurrent(content []byte) error {
	sections, err := parseINI(content)
	if err != nil {
		return err
	}

	polling := sections["Polling"]
	update := sections["Update"]
	if polling == nil && update == nil {
		return fmt.Errorf("no recognized sections")
	}
	for name, section := range sections {
		allowed := currentKeys[name]
		if allowed == nil {
			return fmt.Errorf("unrecognized section %q", name)
		}
		for k := range section {
			if !allowed[k] {
				return fmt.Errorf("unrecognized key %q in section %q", k, name)
			}
		}
	}

	if v, ok := polling["LastPoll"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("parsing LastPoll: %w", err)
		}
		s.Polling.LastPoll = &t
	}
	if v, ok := polling["ExtraInterval"]; ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing ExtraInterval: %w", err)
		}
		d := time.Duration(secs) * time.Second
		s.Polling.ExtraInterval = &d
	}
	if v, ok := polling["Retries"]; ok && v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing Retries: %w", err)
		}
		s.Polling.Retries = retries
	}
	s.Polling.ProbeASAP = parsePermissiveBool(polling["ProbeASAP"])
	s.Polling.CustomServerAddress = polling["CustomServerAddress"]

	if v, ok := update["UpgradeToInstallation"]; ok {
		switch v {
		case "0":
			set := activeinactive.A
			s.Update.UpgradingTo = &set
		case "1":
			set := activeinactive.B
			s.Update.UpgradingTo = &set
		}
	}
	s.Update.AppliedPackageUID = update["AppliedPackageUID"]

	return nil
}

// parseV1 parses the legacy schema: no CustomServerAddress, no
// AppliedPackageUID, and an additional First timestamp field that is
// accepted but not modeled (it has no observable effect on the agent).
func (s *Settings) parseV1(content []byte) error {
	sections, err := parseINI(content)
	if err != nil {
		return err
	}

	polling := sections["Polling"]
	update := sections["Update"]
	if polling == nil || update == nil {
		return fmt.Errorf("v1 schema requires both Polling and Update sections")
	}

	if v, ok := polling["LastPoll"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("parsing v1 LastPoll: %w", err)
		}
		s.Polling.LastPoll = &t
	}
	if v, ok := polling["ExtraInterval"]; ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing v1 ExtraInterval: %w", err)
		}
		d := time.Duration(secs) * time.Second
		s.Polling.ExtraInterval = &d
	}
	if v, ok := polling["Retries"]; ok && v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing v1 Retries: %w", err)
		}
		s.Polling.Retries = retries
	}
	s.Polling.ProbeASAP = parsePermissiveBool(polling["ProbeASAP"])

	if v, ok := update["UpgradeToInstallation"]; ok {
		switch v {
		case "0":
			set := activeinactive.A
			s.Update.UpgradingTo = &set
		case "1":
			set := activeinactive.B
			s.Update.UpgradingTo = &set
		}
	}

	return nil
}

// parsePermissiveBool accepts "true"/"false" case-insensitively; settings
// files edited by hand or written by older agents are not strict about
// casing.
func parsePermissiveBool(v string) bool {
	return strings.EqualFold(v, "true")
}

// Save serializes and atomically rewrites the settings file via a
// write-then-replace pattern, unless Persistent is
// false.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.persistent {
		return nil
	}

	var content string
	if s.v1Format {
		content = s.serializeV1()
	} else {
		content = s.serializeCurrent()
	}

	tmpPath := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp runtime settings file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing temp runtime settings file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp runtime settings file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing runtime settings file: %w", err)
	}
	return nil
}

func (s *Settings) serializeCurrent() string {
	var b strings.Builder
	b.WriteString("[Polling]\n")
	if s.Polling.LastPoll != nil {
		fmt.Fprintf(&b, "LastPoll=%s\n", s.Polling.LastPoll.UTC().Format(time.RFC3339))
	}
	if s.Polling.ExtraInterval != nil {
		fmt.Fprintf(&b, "ExtraInterval=%d\n", int(s.Polling.ExtraInterval.Seconds()))
	}
	fmt.Fprintf(&b, "Retries=%d\n", s.Polling.Retries)
	fmt.Fprintf(&b, "ProbeASAP=%t\n", s.Polling.ProbeASAP)
	if s.Polling.CustomServerAddress != "" {
		fmt.Fprintf(&b, "CustomServerAddress=%s\n", s.Polling.CustomServerAddress)
	}

	b.WriteString("\n[Update]\n")
	fmt.Fprintf(&b, "UpgradeToInstallation=%d\n", upgradingToInt(s.Update.UpgradingTo))
	if s.Update.AppliedPackageUID != "" {
		fmt.Fprintf(&b, "AppliedPackageUID=%s\n", s.Update.AppliedPackageUID)
	}
	return b.String()
}

func (s *Settings) serializeV1() string {
	var b strings.Builder
	b.WriteString("[Polling]\n")
	if s.Polling.LastPoll != nil {
		fmt.Fprintf(&b, "LastPoll=%s\n", s.Polling.LastPoll.UTC().Format(time.RFC3339))
	}
	if s.Polling.ExtraInterval != nil {
		fmt.Fprintf(&b, "ExtraInterval=%d\n", int(s.Polling.ExtraInterval.Seconds()))
	} else {
		b.WriteString("ExtraInterval=0\n")
	}
	fmt.Fprintf(&b, "Retries=%d\n", s.Polling.Retries)
	fmt.Fprintf(&b, "ProbeASAP=%t\n", s.Polling.ProbeASAP)

	b.WriteString("\n[Update]\n")
	fmt.Fprintf(&b, "UpgradeToInstallation=%d\n", upgradingToInt(s.Update.UpgradingTo))
	return b.String()
}

func upgradingToInt(set *activeinactive.Set) int {
	if set == nil {
		return -1
	}
	if *set == activeinactive.A {
		return 0
	}
	return 1
}

// parseINI parses the tiny two-section PascalCase subset this format needs:
// `[Section]` headers and `Key=Value` lines, nothing else.
func parseINI(content []byte) (map[string]map[string]string, error) {
	sections := map[string]map[string]string{}
	var current string

	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			sections[current] = map[string]string{}
			continue
		}
		if current == "" {
			return nil, fmt.Errorf("key=value line %q outside any section", line)
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		sections[current][k] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}
