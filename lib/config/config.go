// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads YAML configuration for peerlog binaries.
//
// Configuration comes from a single file named by the PEERLOG_CONFIG
// environment variable or a --config flag. There is no automatic
// discovery and no hidden override chain: what the file says, plus
// the documented defaults, is the whole configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the config file.
const EnvVar = "PEERLOG_CONFIG"

// Config is the top-level configuration shared by the node and relay
// binaries. Each binary reads the sections it needs.
type Config struct {
	// DataDir is the base directory for databases, blobs, and keys.
	DataDir string `yaml:"data_dir"`

	Log   LogConfig   `yaml:"log"`
	Node  NodeConfig  `yaml:"node"`
	Relay RelayConfig `yaml:"relay"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is debug, info, warn, or error. Defaults to info.
	Level string `yaml:"level"`

	// Format is text or json. Defaults to text.
	Format string `yaml:"format"`
}

// NodeConfig configures the personal node.
type NodeConfig struct {
	// PoolSize is the SQLite connection pool size for the entity
	// store. Zero uses the pool default.
	PoolSize int `yaml:"pool_size"`

	// RequestTimeout bounds each peer round trip.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// FetchLimit is the transaction batch size per sync request.
	FetchLimit int `yaml:"fetch_limit"`

	// Peers lists the peers to sync with.
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig identifies one sync peer.
type PeerConfig struct {
	// AuthorityId is the peer's hex authority id.
	AuthorityId string `yaml:"authority_id"`

	// Address is where the peer (or its relay) listens.
	Address string `yaml:"address"`
}

// RelayConfig configures the relay server.
type RelayConfig struct {
	// RootAuthorityId is the hex authority id of the relay operator.
	// Required by the relay binary.
	RootAuthorityId string `yaml:"root_authority_id"`

	// MaxMessageSize is the default per-message byte limit. Zero
	// means unlimited.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// MaxStoredBytes is the default per-recipient storage quota.
	// Zero means unlimited.
	MaxStoredBytes int64 `yaml:"max_stored_bytes"`

	// DefaultCanConnect admits users with no assigned policy.
	DefaultCanConnect bool `yaml:"default_can_connect"`

	// ConnectionMaxAge prunes directory entries older than this.
	ConnectionMaxAge time.Duration `yaml:"connection_max_age"`

	// PruneInterval is how often stale directory entries are swept.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// Default returns the configuration used when a field (or the whole
// file) is absent.
func Default() Config {
	return Config{
		DataDir: "peerlog-data",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Node: NodeConfig{
			RequestTimeout: 30 * time.Second,
			FetchLimit:     100,
		},
		Relay: RelayConfig{
			MaxMessageSize:    4 << 20,
			MaxStoredBytes:    64 << 20,
			DefaultCanConnect: true,
			ConnectionMaxAge:  24 * time.Hour,
			PruneInterval:     time.Hour,
		},
	}
}

// Load reads the file named by PEERLOG_CONFIG, or returns defaults
// when the variable is unset.
func Load() (Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates one config file. Absent fields keep
// their defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that a typo would silently break.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not debug, info, warn, or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Node.RequestTimeout < 0 {
		return fmt.Errorf("node.request_timeout must not be negative")
	}
	if c.Node.FetchLimit < 0 {
		return fmt.Errorf("node.fetch_limit must not be negative")
	}
	for i, peer := range c.Node.Peers {
		if peer.AuthorityId == "" {
			return fmt.Errorf("node.peers[%d]: authority_id is required", i)
		}
		if peer.Address == "" {
			return fmt.Errorf("node.peers[%d]: address is required", i)
		}
		if _, err := url.Parse(peer.Address); err != nil {
			return fmt.Errorf("node.peers[%d]: address: %w", i, err)
		}
	}
	return nil
}
