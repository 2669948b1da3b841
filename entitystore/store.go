// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package entitystore persists the signed transaction log and derived
// fact table in SQLite, and rebuilds typed entities from them.
//
// Two tables hold the state. The transactions table is the source of
// truth: one row per signed transaction, storing the full encoded
// envelope so replication re-serves the exact signed bytes. The facts
// table is a queryable expansion of every transaction, indexed by
// authority, entity, and attribute so entity loads and comment
// back-reference derivation do not decode transaction payloads.
package entitystore

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/entity"
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/clock"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/sqlitepool"
)

var (
	// ErrConflict reports that a commit raced a concurrent change to
	// the same attribute from the same baseline. The caller should
	// reload the entity and retry.
	ErrConflict = errors.New("entitystore: conflicting concurrent update")

	// ErrCrossAuthority reports a single update batch mixing
	// entities owned by different authorities.
	ErrCrossAuthority = errors.New("entitystore: entities in one update must share an authority")

	// ErrBadSignature reports an ingested transaction whose
	// signature does not verify against its authority's key.
	ErrBadSignature = errors.New("entitystore: transaction signature verification failed")

	// ErrUnknownAuthority reports an ingested transaction from an
	// authority whose public key cannot be resolved.
	ErrUnknownAuthority = errors.New("entitystore: no public key for authority")

	// ErrOutOfOrder reports an ingested transaction whose ordinal is
	// not the immediate successor of the authority's stored log.
	// Retryable: an in-order re-fetch of the log resolves it.
	ErrOutOfOrder = errors.New("entitystore: transaction ordinal out of order")
)

// Signer produces signed transactions for authorities whose private
// keys this node holds.
type Signer interface {
	SignTransaction(transaction fact.Transaction) (fact.SignedTransaction, error)
}

// KeyResolver maps an authority id to its Ed25519 public key, for
// verifying transactions ingested from peers.
type KeyResolver interface {
	PublicKey(authorityId id.Id) (ed25519.PublicKey, bool)
}

// SearchIndex receives entity change notifications so an external
// full-text index can stay current. Implementations must tolerate
// being called for entity kinds they do not index.
type SearchIndex interface {
	IndexEntity(entity entity.Entity)
	RemoveEntity(authorityId, entityId id.Id)
}

// Config holds the parameters for opening an entity store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Signer signs locally authored transactions. Required.
	Signer Signer

	// Keys resolves authority public keys for ingest verification.
	// Required.
	Keys KeyResolver

	// Search receives index notifications. Optional.
	Search SearchIndex

	// Clock provides commit timestamps.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Store is the entity store. Safe for concurrent use; writes are
// serialized per authority so ordinal assignment never races.
type Store struct {
	pool   *sqlitepool.Pool
	signer Signer
	keys   KeyResolver
	search SearchIndex
	clock  clock.Clock
	logger *slog.Logger

	// authorityMu hands out one mutex per authority. Commit and
	// ingest hold the authority's mutex across the
	// read-validate-write sequence.
	authorityMu sync.Mutex
	authorities map[id.Id]*sync.Mutex
}

const schema = `
	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id BLOB PRIMARY KEY,
		authority_id   BLOB NOT NULL,
		ordinal        INTEGER NOT NULL,
		epoch_second   INTEGER NOT NULL,
		envelope       BLOB NOT NULL,
		UNIQUE (authority_id, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_time
		ON transactions(epoch_second, transaction_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_authority
		ON transactions(authority_id, ordinal);

	CREATE TABLE IF NOT EXISTS facts (
		authority_id BLOB NOT NULL,
		entity_id    BLOB NOT NULL,
		attribute    INTEGER NOT NULL,
		value        BLOB NOT NULL,
		operation    INTEGER NOT NULL,
		epoch_second INTEGER NOT NULL,
		ordinal      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_facts_entity
		ON facts(entity_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_facts_authority
		ON facts(authority_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_facts_reference
		ON facts(attribute, value);
`

// Open opens or creates the entity store.
func Open(cfg Config) (*Store, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("entitystore: Signer is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("entitystore: Keys is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("entitystore: %w", err)
	}

	store := &Store{
		pool:        pool,
		signer:      cfg.Signer,
		keys:        cfg.Keys,
		search:      cfg.Search,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		authorities: make(map[id.Id]*sync.Mutex),
	}

	if err := store.initSchema(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("entitystore: initializing schema: %w", err)
	}

	return store, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) initSchema() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// ResetStore drops all stored transactions and facts. Destructive;
// intended for tests and recovery tooling.
func (s *Store) ResetStore(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("entitystore: reset: %w", err)
	}
	defer s.pool.Put(conn)

	for _, table := range []string{"facts", "transactions"} {
		if err := sqlitex.ExecuteTransient(conn, "DELETE FROM "+table, nil); err != nil {
			return fmt.Errorf("entitystore: reset %s: %w", table, err)
		}
	}
	s.logger.Warn("entity store reset")
	return nil
}

// lockAuthority returns the held mutex for one authority's write
// path. Callers unlock it when the commit or ingest completes.
func (s *Store) lockAuthority(authorityId id.Id) *sync.Mutex {
	s.authorityMu.Lock()
	mu := s.authorities[authorityId]
	if mu == nil {
		mu = &sync.Mutex{}
		s.authorities[authorityId] = mu
	}
	s.authorityMu.Unlock()

	mu.Lock()
	return mu
}

// insertFacts expands a transaction's facts into the facts table.
func insertFacts(conn *sqlite.Conn, facts []fact.Fact) error {
	for _, f := range facts {
		err := sqlitex.Execute(conn, `INSERT INTO facts
			(authority_id, entity_id, attribute, value, operation, epoch_second, ordinal)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				f.AuthorityId[:],
				f.EntityId[:],
				int(f.Attribute.Ordinal),
				f.Value.Encode(),
				int(f.Operation),
				f.EpochSecond,
				f.TransactionOrdinal,
			},
		})
		if err != nil {
			return fmt.Errorf("entitystore: inserting fact: %w", err)
		}
	}
	return nil
}

// insertTransaction stores a signed transaction's envelope and
// expands its facts. The caller holds the authority mutex and an open
// SQLite transaction.
func insertTransaction(conn *sqlite.Conn, signed fact.SignedTransaction) error {
	envelope, err := signed.Encode()
	if err != nil {
		return fmt.Errorf("entitystore: encoding transaction: %w", err)
	}

	transaction := signed.Transaction
	err = sqlitex.Execute(conn, `INSERT INTO transactions
		(transaction_id, authority_id, ordinal, epoch_second, envelope)
		VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			transaction.Id[:],
			transaction.AuthorityId[:],
			transaction.Ordinal,
			transaction.EpochSecond,
			envelope,
		},
	})
	if err != nil {
		return fmt.Errorf("entitystore: inserting transaction: %w", err)
	}

	return insertFacts(conn, transaction.ToFacts())
}

// lastOrdinal returns the highest stored transaction ordinal for an
// authority, or zero when the authority has no transactions.
func lastOrdinal(conn *sqlite.Conn, authorityId id.Id) (int64, error) {
	var ordinal int64
	err := sqlitex.Execute(conn,
		"SELECT COALESCE(MAX(ordinal), 0) FROM transactions WHERE authority_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{authorityId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ordinal = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("entitystore: last ordinal: %w", err)
	}
	return ordinal, nil
}

// notifyIndex rebuilds the touched entities and pushes them to the
// search index. Index failures are not possible by contract; a nil
// rebuilt entity (fully retracted) becomes a removal.
func (s *Store) notifyIndex(ctx context.Context, authorityId id.Id, entityIds []id.Id) {
	if s.search == nil {
		return
	}
	for _, entityId := range entityIds {
		rebuilt, err := s.GetEntity(ctx, authorityId, entityId)
		if err != nil {
			s.logger.Error("search index refresh failed",
				"authority", authorityId,
				"entity", entityId,
				"error", err,
			)
			continue
		}
		if rebuilt == nil {
			s.search.RemoveEntity(authorityId, entityId)
			continue
		}
		// Data entities are binary payload descriptors; they carry
		// nothing worth full-text indexing.
		if _, isData := rebuilt.(*entity.Data); isData {
			continue
		}
		s.search.IndexEntity(rebuilt)
	}
}
