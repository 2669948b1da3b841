// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/lib/blobstore"
	"github.com/peerlog-foundation/peerlog/lib/clock"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/sqlitepool"
)

// ErrNoStorageKey reports an attempt to store a live-delivery-only
// message. Messages without a storage key are relayed over the live
// socket or dropped, never queued.
var ErrNoStorageKey = errors.New("relay: message without a storage key cannot be stored")

// StoredMessage is one queued relay message: the index row plus, when
// loaded through GetMessages, the sealed body bytes.
type StoredMessage struct {
	From       id.Id
	To         id.Id
	StorageKey StorageKey

	// EncryptedKey is the recipient's wrapped copy of the body key.
	EncryptedKey []byte

	// BodyId addresses the sealed body in the blob store.
	BodyId id.Id

	// Body is the sealed body. Populated by GetMessages, empty on
	// rows returned from the index alone.
	Body []byte

	BodySize    int64
	EpochSecond int64
}

// Usage is the stored-bytes accounting for one recipient.
type Usage struct {
	Recipient   id.Id
	BytesStored int64
}

// Quota resolves the per-recipient storage limit and the per-sender
// message size limit. A zero or negative limit means unlimited.
// PolicyStore implements this.
type Quota interface {
	MaxStoredBytes(ctx context.Context, recipient id.Id) int64
	MaxMessageSize(ctx context.Context, sender id.Id) int64
}

// MessageStoreConfig holds the parameters for opening a message
// store.
type MessageStoreConfig struct {
	// Path is the filesystem path to the SQLite index file.
	Path string

	// PoolSize is the number of connections in the pool.
	PoolSize int

	// Blobs stores sealed message bodies, deduplicated by content.
	// Required.
	Blobs *blobstore.Store

	// Quota limits stored bytes per recipient. Optional; nil means
	// unlimited.
	Quota Quota

	// Clock provides queue timestamps.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// MessageStore queues sealed messages per recipient. The index lives
// in SQLite; bodies live in the content-addressed blob store so one
// body broadcast to many recipients is stored once.
//
// Safe for concurrent use. Inserts and removals are serialized per
// recipient, not globally, so unrelated recipients never contend.
type MessageStore struct {
	pool   *sqlitepool.Pool
	blobs  *blobstore.Store
	quota  Quota
	clock  clock.Clock
	logger *slog.Logger

	recipientMu sync.Mutex
	recipients  map[id.Id]*sync.Mutex
}

const messageSchema = `
	CREATE TABLE IF NOT EXISTS messages (
		from_id       BLOB NOT NULL,
		to_id         BLOB NOT NULL,
		storage_key   BLOB NOT NULL,
		encrypted_key BLOB NOT NULL,
		body_id       BLOB NOT NULL,
		body_size     INTEGER NOT NULL,
		epoch_second  INTEGER NOT NULL,
		PRIMARY KEY (from_id, to_id, storage_key)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient
		ON messages(to_id, epoch_second);
	CREATE INDEX IF NOT EXISTS idx_messages_body
		ON messages(body_id);
`

// OpenMessageStore opens or creates the message store.
func OpenMessageStore(cfg MessageStoreConfig) (*MessageStore, error) {
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("relay: Blobs is required")
	}
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
			return sqlitex.ExecuteScript(conn, messageSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: opening message store: %w", err)
	}

	return &MessageStore{
		pool:       pool,
		blobs:      cfg.Blobs,
		quota:      cfg.Quota,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		recipients: make(map[id.Id]*sync.Mutex),
	}, nil
}

// Close closes the index pool. The blob store is shared and stays
// open.
func (s *MessageStore) Close() error {
	return s.pool.Close()
}

// lockRecipient returns the held mutex for one recipient's queue.
func (s *MessageStore) lockRecipient(recipient id.Id) *sync.Mutex {
	s.recipientMu.Lock()
	mu := s.recipients[recipient]
	if mu == nil {
		mu = &sync.Mutex{}
		s.recipients[recipient] = mu
	}
	s.recipientMu.Unlock()

	mu.Lock()
	return mu
}

// AddMessage queues a sealed body for one recipient. A message
// sharing (from, to, storageKey) with an existing row replaces it. A
// message that would push the recipient over its storage quota is
// dropped and logged, not errored: queueing is best effort and the
// sender cannot act on the failure anyway.
func (s *MessageStore) AddMessage(ctx context.Context, from, to id.Id, storageKey StorageKey, encryptedKey, sealedBody []byte) error {
	if storageKey.IsNone() {
		return ErrNoStorageKey
	}

	if s.quota != nil {
		if max := s.quota.MaxMessageSize(ctx, from); max > 0 && int64(len(sealedBody)) > max {
			s.logger.Warn("message dropped, sender over message size limit",
				"from", from,
				"to", to,
				"body_size", len(sealedBody),
				"max_message_size", max,
			)
			return nil
		}
	}

	mu := s.lockRecipient(to)
	defer mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relay: add message: %w", err)
	}
	defer s.pool.Put(conn)

	stored, err := bytesStored(conn, to)
	if err != nil {
		return err
	}
	replaced, err := existingMessage(conn, from, to, storageKey)
	if err != nil {
		return err
	}

	if s.quota != nil {
		max := s.quota.MaxStoredBytes(ctx, to)
		var replacedSize int64
		if replaced != nil {
			replacedSize = replaced.BodySize
		}
		if max > 0 && stored-replacedSize+int64(len(sealedBody)) > max {
			s.logger.Warn("message dropped, recipient over storage quota",
				"from", from,
				"to", to,
				"storage_key", storageKey,
				"body_size", len(sealedBody),
				"bytes_stored", stored,
				"max_stored_bytes", max,
			)
			return nil
		}
	}

	bodyId, err := s.blobs.Write(sealedBody)
	if err != nil {
		return fmt.Errorf("relay: storing message body: %w", err)
	}

	err = sqlitex.Execute(conn, `INSERT INTO messages
		(from_id, to_id, storage_key, encrypted_key, body_id, body_size, epoch_second)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (from_id, to_id, storage_key) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			body_id       = excluded.body_id,
			body_size     = excluded.body_size,
			epoch_second  = excluded.epoch_second`, &sqlitex.ExecOptions{
		Args: []any{
			from[:], to[:], []byte(storageKey),
			encryptedKey, bodyId[:], int64(len(sealedBody)),
			s.clock.Now().Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("relay: indexing message: %w", err)
	}

	// The replaced row's body may now be orphaned.
	if replaced != nil && replaced.BodyId != bodyId {
		if err := s.deleteOrphanedBody(conn, replaced.BodyId); err != nil {
			return err
		}
	}
	return nil
}

// GetMessages returns up to limit queued messages for a recipient,
// oldest first, with bodies loaded. A row whose body blob is missing
// is corrupt: it is removed from the index, logged, and skipped
// rather than failing the whole enumeration.
func (s *MessageStore) GetMessages(ctx context.Context, to id.Id, limit int) ([]StoredMessage, error) {
	mu := s.lockRecipient(to)
	defer mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: get messages: %w", err)
	}
	defer s.pool.Put(conn)

	rows, err := recipientMessages(conn, to, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]StoredMessage, 0, len(rows))
	for _, row := range rows {
		body, err := s.blobs.Read(row.BodyId)
		if errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Error("message body missing, removing corrupt index row",
				"from", row.From,
				"to", row.To,
				"storage_key", row.StorageKey,
				"body_id", row.BodyId,
			)
			if err := deleteMessageRow(conn, row); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("relay: reading message body: %w", err)
		}
		row.Body = body
		messages = append(messages, row)
	}
	return messages, nil
}

// RemoveMessage deletes a queued message. The backing body blob is
// deleted only when no other index row references it; references are
// counted by scan, not a stored refcount.
func (s *MessageStore) RemoveMessage(ctx context.Context, message StoredMessage) error {
	mu := s.lockRecipient(message.To)
	defer mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relay: remove message: %w", err)
	}
	defer s.pool.Put(conn)

	if err := deleteMessageRow(conn, message); err != nil {
		return err
	}
	return s.deleteOrphanedBody(conn, message.BodyId)
}

// GetUsage returns stored-bytes accounting per recipient, ordered by
// recipient id.
func (s *MessageStore) GetUsage(ctx context.Context) ([]Usage, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: get usage: %w", err)
	}
	defer s.pool.Put(conn)

	var usage []Usage
	err = sqlitex.Execute(conn, `SELECT to_id, SUM(body_size) FROM messages
		GROUP BY to_id ORDER BY to_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			recipient, err := columnId(stmt, 0)
			if err != nil {
				return err
			}
			usage = append(usage, Usage{
				Recipient:   recipient,
				BytesStored: stmt.ColumnInt64(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: get usage: %w", err)
	}
	return usage, nil
}

// deleteOrphanedBody removes a body blob when no index row references
// it anymore.
func (s *MessageStore) deleteOrphanedBody(conn *sqlite.Conn, bodyId id.Id) error {
	var references int64
	err := sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM messages WHERE body_id = ?", &sqlitex.ExecOptions{
			Args: []any{bodyId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				references = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("relay: counting body references: %w", err)
	}
	if references > 0 {
		return nil
	}
	if err := s.blobs.Delete(bodyId); err != nil {
		return fmt.Errorf("relay: deleting orphaned body: %w", err)
	}
	return nil
}

// bytesStored sums the body sizes queued for one recipient.
func bytesStored(conn *sqlite.Conn, to id.Id) (int64, error) {
	var total int64
	err := sqlitex.Execute(conn,
		"SELECT COALESCE(SUM(body_size), 0) FROM messages WHERE to_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{to[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("relay: summing stored bytes: %w", err)
	}
	return total, nil
}

// existingMessage looks up the row a new message would replace, or
// nil when (from, to, storageKey) is unused.
func existingMessage(conn *sqlite.Conn, from, to id.Id, storageKey StorageKey) (*StoredMessage, error) {
	var found *StoredMessage
	err := sqlitex.Execute(conn, `SELECT encrypted_key, body_id, body_size, epoch_second
		FROM messages WHERE from_id = ? AND to_id = ? AND storage_key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{from[:], to[:], []byte(storageKey)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				bodyId, err := columnId(stmt, 1)
				if err != nil {
					return err
				}
				found = &StoredMessage{
					From:         from,
					To:           to,
					StorageKey:   storageKey,
					EncryptedKey: columnBytes(stmt, 0),
					BodyId:       bodyId,
					BodySize:     stmt.ColumnInt64(2),
					EpochSecond:  stmt.ColumnInt64(3),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relay: looking up existing message: %w", err)
	}
	return found, nil
}

// recipientMessages loads index rows for one recipient, oldest first.
func recipientMessages(conn *sqlite.Conn, to id.Id, limit int) ([]StoredMessage, error) {
	var rows []StoredMessage
	err := sqlitex.Execute(conn, `SELECT from_id, storage_key, encrypted_key, body_id, body_size, epoch_second
		FROM messages WHERE to_id = ?
		ORDER BY epoch_second, from_id, storage_key
		LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{to[:], limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			from, err := columnId(stmt, 0)
			if err != nil {
				return err
			}
			bodyId, err := columnId(stmt, 3)
			if err != nil {
				return err
			}
			rows = append(rows, StoredMessage{
				From:         from,
				To:           to,
				StorageKey:   StorageKey(columnBytes(stmt, 1)),
				EncryptedKey: columnBytes(stmt, 2),
				BodyId:       bodyId,
				BodySize:     stmt.ColumnInt64(4),
				EpochSecond:  stmt.ColumnInt64(5),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: listing messages: %w", err)
	}
	return rows, nil
}

// deleteMessageRow removes one index row by its primary key.
func deleteMessageRow(conn *sqlite.Conn, message StoredMessage) error {
	err := sqlitex.Execute(conn,
		"DELETE FROM messages WHERE from_id = ? AND to_id = ? AND storage_key = ?",
		&sqlitex.ExecOptions{
			Args: []any{message.From[:], message.To[:], []byte(message.StorageKey)},
		})
	if err != nil {
		return fmt.Errorf("relay: deleting message row: %w", err)
	}
	return nil
}

// columnId reads a 32-byte id column.
func columnId(stmt *sqlite.Stmt, col int) (id.Id, error) {
	return id.FromBytes(columnBytes(stmt, col))
}

// columnBytes copies a BLOB column out of the statement's buffer.
func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	data := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, data)
	return data
}
