// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peerlog.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /srv/peerlog\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DataDir != "/srv/peerlog" {
		t.Errorf("DataDir = %q, want /srv/peerlog", cfg.DataDir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want default info", cfg.Log.Level)
	}
	if cfg.Node.RequestTimeout != 30*time.Second {
		t.Errorf("Node.RequestTimeout = %v, want default 30s", cfg.Node.RequestTimeout)
	}
	if !cfg.Relay.DefaultCanConnect {
		t.Error("Relay.DefaultCanConnect = false, want default true")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/peerlog
log:
  level: debug
  format: json
node:
  request_timeout: 5s
  fetch_limit: 25
  peers:
    - authority_id: a1b2c3
      address: "tcp://relay.example.com:7420"
relay:
  root_authority_id: d4e5f6
  max_stored_bytes: 1048576
  connection_max_age: 10m
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if cfg.Node.FetchLimit != 25 {
		t.Errorf("Node.FetchLimit = %d, want 25", cfg.Node.FetchLimit)
	}
	if len(cfg.Node.Peers) != 1 || cfg.Node.Peers[0].Address != "tcp://relay.example.com:7420" {
		t.Errorf("Node.Peers = %+v, want one relay.example.com entry", cfg.Node.Peers)
	}
	if cfg.Relay.MaxStoredBytes != 1<<20 {
		t.Errorf("Relay.MaxStoredBytes = %d, want 1048576", cfg.Relay.MaxStoredBytes)
	}
	if cfg.Relay.ConnectionMaxAge != 10*time.Minute {
		t.Errorf("Relay.ConnectionMaxAge = %v, want 10m", cfg.Relay.ConnectionMaxAge)
	}
	// Unset relay fields keep their defaults.
	if cfg.Relay.MaxMessageSize != 4<<20 {
		t.Errorf("Relay.MaxMessageSize = %d, want default 4MiB", cfg.Relay.MaxMessageSize)
	}
}

func TestLoadFileValidation(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"bad log level", "log:\n  level: verbose\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"empty data dir", "data_dir: \"\"\n"},
		{"peer missing address", "node:\n  peers:\n    - authority_id: a1b2c3\n"},
		{"negative fetch limit", "node:\n  fetch_limit: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			if _, err := LoadFile(path); err == nil {
				t.Error("LoadFile succeeded, want validation error")
			}
		})
	}
}

func TestLoadWithoutEnv(t *testing.T) {
	t.Setenv(EnvVar, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.DataDir != want.DataDir || cfg.Log != want.Log || cfg.Relay != want.Relay {
		t.Errorf("Load without %s = %+v, want defaults", EnvVar, cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/env-peerlog\n")
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/env-peerlog" {
		t.Errorf("DataDir = %q, want /tmp/env-peerlog", cfg.DataDir)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile on a missing file succeeded, want error")
	}
}
