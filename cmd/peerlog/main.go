// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Command peerlog runs a personal data store node: a signed
// transaction log over a fact-based entity store, an address book,
// and a sync reactor that exchanges transactions with peers.
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

	"github.com/peerlog-foundation/peerlog/addressbook"
	"github.com/peerlog-foundation/peerlog/entitystore"
	"github.com/peerlog-foundation/peerlog/lib/blobstore"
	"github.com/peerlog-foundation/peerlog/lib/config"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/keyring"
	"github.com/peerlog-foundation/peerlog/lib/process"
	"github.com/peerlog-foundation/peerlog/lib/version"
	"github.com/peerlog-foundation/peerlog/network"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("peerlog", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the YAML config file (overrides "+config.EnvVar+")")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return fmt.Errorf("peerlog: %w", err)
	}
	if *showVersion {
		fmt.Println("peerlog", version.Full())
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap in dependency order; each defer tears down in
	// reverse on the way out.
	keys, err := keyring.LoadOrCreate(filepath.Join(cfg.DataDir, "keys.yaml"))
	if err != nil {
		return err
	}

	blobs, err := blobstore.Open(blobstore.Config{
		Root:   filepath.Join(cfg.DataDir, "blobs"),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	store, err := entitystore.Open(entitystore.Config{
		Path:     filepath.Join(cfg.DataDir, "entities.db"),
		PoolSize: cfg.Node.PoolSize,
		Signer:   keys,
		Keys:     keys,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	book, err := addressbook.Open(ctx, addressbook.Config{
		Store:  store,
		Keys:   keys,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if active, ok, err := book.ActivePersona(ctx); err != nil {
		return err
	} else if ok {
		logger.Info("active persona", "persona_id", active.EntityId)
	}

	node, err := network.New(network.Config{
		Store:          store,
		Blobs:          blobs,
		RequestTimeout: cfg.Node.RequestTimeout,
		FetchLimit:     cfg.Node.FetchLimit,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	defer node.Close()

	for _, peer := range cfg.Node.Peers {
		peerId, err := id.Parse(peer.AuthorityId)
		if err != nil {
			return fmt.Errorf("peerlog: peer %q: %w", peer.AuthorityId, err)
		}
		logger.Info("configured peer awaiting transport",
			"peer_id", peerId,
			"address", peer.Address)
	}

	logger.Info("peerlog node running",
		"version", version.Full(),
		"data_dir", cfg.DataDir,
		"personas", keys.Personas())

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the process logger from the log section.
// Validation already confirmed the level and format values.
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
