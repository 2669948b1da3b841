// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/lib/clock"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/sqlitepool"
)

// Connection records which relay instance holds a recipient's live
// socket. In a multi-instance deployment, an inbound message for a
// recipient connected elsewhere is forwarded to the recorded address.
type Connection struct {
	RecipientId id.Id
	Address     string
	LastSeen    time.Time
}

// DirectoryConfig holds the parameters for opening a connection
// directory.
type DirectoryConfig struct {
	Path     string
	PoolSize int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Directory maps recipient ids to the relay instance currently
// holding their connection. Entries are advisory: when a recorded
// address proves unreachable, or the instance there denies holding
// the connection, the caller deletes the entry so stale records
// self-correct instead of black-holing messages.
//
// Safe for concurrent use across relay processes; correctness under
// concurrent upserts relies on SQLite's transaction isolation.
type Directory struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const directorySchema = `
	CREATE TABLE IF NOT EXISTS connections (
		recipient_id BLOB PRIMARY KEY,
		address      TEXT NOT NULL,
		last_seen    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_connections_last_seen
		ON connections(last_seen);
`

// OpenDirectory opens or creates the connection directory.
func OpenDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, directorySchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: opening connection directory: %w", err)
	}

	return &Directory{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the directory pool.
func (d *Directory) Close() error {
	return d.pool.Close()
}

// UpsertConnection records that the given relay address currently
// holds the recipient's connection, refreshing last-seen.
func (d *Directory) UpsertConnection(ctx context.Context, recipientId id.Id, address string) error {
	if address == "" {
		return fmt.Errorf("relay: connection for %s needs a non-empty address", recipientId)
	}

	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relay: upsert connection: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO connections (recipient_id, address, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT (recipient_id) DO UPDATE SET
			address   = excluded.address,
			last_seen = excluded.last_seen`, &sqlitex.ExecOptions{
		Args: []any{recipientId[:], address, d.clock.Now().Unix()},
	})
	if err != nil {
		return fmt.Errorf("relay: upsert connection: %w", err)
	}
	return nil
}

// GetConnection looks up the recipient's recorded connection. The
// second return is false when no entry exists.
func (d *Directory) GetConnection(ctx context.Context, recipientId id.Id) (Connection, bool, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return Connection{}, false, fmt.Errorf("relay: get connection: %w", err)
	}
	defer d.pool.Put(conn)

	var found bool
	var connection Connection
	err = sqlitex.Execute(conn,
		"SELECT address, last_seen FROM connections WHERE recipient_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{recipientId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				connection = Connection{
					RecipientId: recipientId,
					Address:     stmt.ColumnText(0),
					LastSeen:    time.Unix(stmt.ColumnInt64(1), 0),
				}
				return nil
			},
		})
	if err != nil {
		return Connection{}, false, fmt.Errorf("relay: get connection: %w", err)
	}
	return connection, found, nil
}

// DeleteConnection removes a recipient's entry. Called when the
// recorded address proves unreachable or denies holding the
// connection. Deleting an absent entry is a no-op.
func (d *Directory) DeleteConnection(ctx context.Context, recipientId id.Id) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relay: delete connection: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM connections WHERE recipient_id = ?",
		&sqlitex.ExecOptions{Args: []any{recipientId[:]}})
	if err != nil {
		return fmt.Errorf("relay: delete connection: %w", err)
	}
	return nil
}

// PruneConnections deletes entries not seen within maxAge and returns
// how many were removed. Run periodically so entries for instances
// that died without cleanup eventually age out.
func (d *Directory) PruneConnections(ctx context.Context, maxAge time.Duration) (int, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("relay: prune connections: %w", err)
	}
	defer d.pool.Put(conn)

	cutoff := d.clock.Now().Add(-maxAge).Unix()
	err = sqlitex.Execute(conn,
		"DELETE FROM connections WHERE last_seen < ?",
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("relay: prune connections: %w", err)
	}

	pruned := conn.Changes()
	if pruned > 0 {
		d.logger.Info("pruned stale connection entries", "count", pruned)
	}
	return pruned, nil
}
