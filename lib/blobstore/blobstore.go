// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore is a content-addressed file store. Blobs are
// named by the id of their bytes, sharded into subdirectories by the
// leading hex byte, and written atomically via a temp file and
// rename. Writing the same content twice is a no-op that returns the
// same id.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/peerlog-foundation/peerlog/lib/id"
)

// ErrNotFound reports a read of a blob that is not stored.
var ErrNotFound = errors.New("blobstore: blob not found")

const tmpDir = "tmp"

// Config holds the parameters for opening a blob store.
type Config struct {
	// Root is the directory holding the store. Created if missing.
	Root string

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Store is a content-addressed blob store rooted at one directory.
// Safe for concurrent use: writes land under unique temp names and
// rename into place, and identical content always produces identical
// files.
type Store struct {
	root   string
	logger *slog.Logger
}

// Open opens or creates a blob store.
func Open(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("blobstore: Root is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, tmpDir), 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root: %w", err)
	}
	return &Store{root: cfg.Root, logger: cfg.Logger}, nil
}

// path returns the final location for a blob: root/ab/abcdef....
func (s *Store) path(dataId id.Id) string {
	name := dataId.String()
	return filepath.Join(s.root, name[:2], name)
}

// Write stores a blob and returns its content id. Storing content
// that already exists returns the existing id without rewriting.
func (s *Store) Write(data []byte) (id.Id, error) {
	dataId := id.OfData(data)
	finalPath := s.path(dataId)

	if _, err := os.Stat(finalPath); err == nil {
		return dataId, nil
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*.tmp")
	if err != nil {
		return id.Id{}, fmt.Errorf("blobstore: creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return id.Id{}, fmt.Errorf("blobstore: writing blob: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return id.Id{}, fmt.Errorf("blobstore: closing temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return id.Id{}, fmt.Errorf("blobstore: creating shard directory: %w", err)
	}

	// A concurrent writer may have landed the same content already;
	// the existing blob is identical by construction.
	if _, err := os.Stat(finalPath); err == nil {
		success = true
		return dataId, nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return id.Id{}, fmt.Errorf("blobstore: renaming blob to %s: %w", finalPath, err)
	}

	success = true
	return dataId, nil
}

// Read returns a blob's bytes. Content is verified against the id on
// the way out so disk corruption surfaces as an error, not bad data.
func (s *Store) Read(dataId id.Id) ([]byte, error) {
	data, err := os.ReadFile(s.path(dataId))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dataId)
		}
		return nil, fmt.Errorf("blobstore: reading %s: %w", dataId, err)
	}
	if id.OfData(data) != dataId {
		return nil, fmt.Errorf("blobstore: blob %s failed content verification", dataId)
	}
	return data, nil
}

// Exists reports whether a blob is stored.
func (s *Store) Exists(dataId id.Id) bool {
	_, err := os.Stat(s.path(dataId))
	return err == nil
}

// Delete removes a blob. Deleting an absent blob is a no-op.
func (s *Store) Delete(dataId id.Id) error {
	err := os.Remove(s.path(dataId))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blobstore: deleting %s: %w", dataId, err)
	}
	return nil
}

// GetDataIds lists the ids of every stored blob.
func (s *Store) GetDataIds() ([]id.Id, error) {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: listing shards: %w", err)
	}

	var dataIds []id.Id
	for _, shard := range shards {
		if !shard.IsDir() || shard.Name() == tmpDir {
			continue
		}
		blobs, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return nil, fmt.Errorf("blobstore: listing shard %s: %w", shard.Name(), err)
		}
		for _, blob := range blobs {
			dataId, err := id.Parse(blob.Name())
			if err != nil {
				s.logger.Warn("ignoring foreign file in blob store", "name", blob.Name())
				continue
			}
			dataIds = append(dataIds, dataId)
		}
	}
	return dataIds, nil
}
