// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Command peerlog-relay runs a relay server: a store-and-forward
// message queue for offline peers, a connection directory, and a
// policy store governing who may connect and how much they may
// store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/peerlog-foundation/peerlog/lib/blobstore"
	"github.com/peerlog-foundation/peerlog/lib/clock"
	"github.com/peerlog-foundation/peerlog/lib/config"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/process"
	"github.com/peerlog-foundation/peerlog/lib/version"
	"github.com/peerlog-foundation/peerlog/relay"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("peerlog-relay", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the YAML config file (overrides "+config.EnvVar+")")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return fmt.Errorf("peerlog-relay: %w", err)
	}
	if *showVersion {
		fmt.Println("peerlog-relay", version.Full())
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Relay.RootAuthorityId == "" {
		return fmt.Errorf("peerlog-relay: relay.root_authority_id is required")
	}
	rootId, err := id.Parse(cfg.Relay.RootAuthorityId)
	if err != nil {
		return fmt.Errorf("peerlog-relay: relay.root_authority_id: %w", err)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policies, err := relay.OpenPolicyStore(relay.PolicyStoreConfig{
		Path:   filepath.Join(cfg.DataDir, "policies.db"),
		RootId: rootId,
		Default: relay.Policy{
			Name:       "default",
			Connection: relay.ConnectionPolicy{CanConnect: cfg.Relay.DefaultCanConnect},
			Message:    relay.MessagePolicy{MaxMessageSize: cfg.Relay.MaxMessageSize},
			Storage:    relay.StoragePolicy{MaxStoredBytes: cfg.Relay.MaxStoredBytes},
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer policies.Close()

	blobs, err := blobstore.Open(blobstore.Config{
		Root:   filepath.Join(cfg.DataDir, "blobs"),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	messages, err := relay.OpenMessageStore(relay.MessageStoreConfig{
		Path:   filepath.Join(cfg.DataDir, "messages.db"),
		Blobs:  blobs,
		Quota:  policies,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer messages.Close()

	directory, err := relay.OpenDirectory(relay.DirectoryConfig{
		Path:   filepath.Join(cfg.DataDir, "directory.db"),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer directory.Close()

	logger.Info("peerlog relay running",
		"version", version.Full(),
		"data_dir", cfg.DataDir,
		"root_id", rootId)

	pruneDirectory(ctx, directory, cfg.Relay, logger)

	logger.Info("shutting down")
	return nil
}

// pruneDirectory sweeps stale connection entries until ctx is
// cancelled. It doubles as the process's wait loop.
func pruneDirectory(ctx context.Context, directory *relay.Directory, cfg config.RelayConfig, logger *slog.Logger) {
	if cfg.PruneInterval <= 0 || cfg.ConnectionMaxAge <= 0 {
		<-ctx.Done()
		return
	}

	ticker := clock.Real().NewTicker(cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := directory.PruneConnections(ctx, cfg.ConnectionMaxAge)
			if err != nil {
				logger.Error("pruning connection directory", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned stale connections", "count", pruned)
			}
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
