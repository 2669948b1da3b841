// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entitystore

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Order selects the sort dimension for transaction pagination. Id
// orders iterate the full content-hash keyspace (stable, dense, used
// for full-log reconciliation); Time orders follow commit timestamps
// (used for "most recent" views).
type Order int

const (
	IdAscending Order = iota
	IdDescending
	TimeAscending
	TimeDescending
)

// AddSignedTransactions ingests transactions received from a peer.
// Each transaction's signature is verified against its authority's
// resolved public key, its ordinal must advance the authority's
// stored log, and already-stored transactions are skipped silently.
// Validation failure stops the batch at the failing transaction;
// transactions already ingested stay ingested.
func (s *Store) AddSignedTransactions(ctx context.Context, transactions []fact.SignedTransaction) error {
	for _, signed := range transactions {
		if err := s.addSignedTransaction(ctx, signed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) addSignedTransaction(ctx context.Context, signed fact.SignedTransaction) error {
	transaction := signed.Transaction
	authorityId := transaction.AuthorityId

	publicKey, ok := s.keys.PublicKey(authorityId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAuthority, authorityId)
	}
	if id.OfPublicKey(publicKey) != authorityId {
		return fmt.Errorf("%w: resolved key does not derive authority %s", ErrUnknownAuthority, authorityId)
	}
	if err := signed.Verify(publicKey); err != nil {
		return fmt.Errorf("%w: transaction %s: %v", ErrBadSignature, transaction.Id, err)
	}

	mu := s.lockAuthority(authorityId)
	defer mu.Unlock()

	ingested, entityIds, err := s.ingest(ctx, signed)
	if err != nil {
		return err
	}
	if ingested {
		s.notifyIndex(ctx, authorityId, entityIds)
	}
	return nil
}

func (s *Store) ingest(ctx context.Context, signed fact.SignedTransaction) (bool, []id.Id, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("entitystore: ingest: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, nil, fmt.Errorf("entitystore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	transaction := signed.Transaction

	var exists bool
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM transactions WHERE transaction_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{transaction.Id[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, nil, fmt.Errorf("entitystore: duplicate check: %w", err)
	}
	if exists {
		return false, nil, nil
	}

	// The ordinal must be the immediate successor of the stored log.
	// Accepting a gap would make the skipped transactions permanently
	// unacceptable, so a gapped delivery fails and the sender's next
	// in-order fetch retries.
	last, err := lastOrdinal(conn, transaction.AuthorityId)
	if err != nil {
		return false, nil, err
	}
	if transaction.Ordinal != last+1 {
		err = fmt.Errorf("%w: transaction %s ordinal %d, authority at %d",
			ErrOutOfOrder, transaction.Id, transaction.Ordinal, last)
		return false, nil, err
	}

	if err = insertTransaction(conn, signed); err != nil {
		return false, nil, err
	}

	s.logger.Info("transaction ingested",
		"authority", transaction.AuthorityId,
		"transaction", transaction.Id,
		"ordinal", transaction.Ordinal,
	)
	return true, transaction.EntityIds(), nil
}

// GetSignedTransactions pages through stored transactions. An empty
// authorityIds slice means all authorities. A non-zero
// startTransactionId positions the page immediately after (or, for
// descending orders, before) that transaction: exclusive. A limit
// of zero or less means no limit.
func (s *Store) GetSignedTransactions(ctx context.Context, authorityIds []id.Id, startTransactionId id.Id, order Order, limit int) ([]fact.SignedTransaction, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitystore: get transactions: %w", err)
	}
	defer s.pool.Put(conn)

	var conditions []string
	var args []any

	if len(authorityIds) > 0 {
		conditions = append(conditions, "authority_id IN ("+placeholders(len(authorityIds))+")")
		for _, authorityId := range authorityIds {
			args = append(args, authorityId[:])
		}
	}

	if !startTransactionId.IsZero() {
		startEpoch, found, err := transactionEpoch(conn, startTransactionId)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("entitystore: start transaction %s not found", startTransactionId)
		}
		switch order {
		case IdAscending:
			conditions = append(conditions, "transaction_id > ?")
			args = append(args, startTransactionId[:])
		case IdDescending:
			conditions = append(conditions, "transaction_id < ?")
			args = append(args, startTransactionId[:])
		case TimeAscending:
			conditions = append(conditions, "(epoch_second, transaction_id) > (?, ?)")
			args = append(args, startEpoch, startTransactionId[:])
		case TimeDescending:
			conditions = append(conditions, "(epoch_second, transaction_id) < (?, ?)")
			args = append(args, startEpoch, startTransactionId[:])
		}
	}

	query := "SELECT envelope FROM transactions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch order {
	case IdAscending:
		query += " ORDER BY transaction_id"
	case IdDescending:
		query += " ORDER BY transaction_id DESC"
	case TimeAscending:
		query += " ORDER BY epoch_second, transaction_id"
	case TimeDescending:
		query += " ORDER BY epoch_second DESC, transaction_id DESC"
	default:
		return nil, fmt.Errorf("entitystore: unknown order %d", order)
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var transactions []fact.SignedTransaction
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			envelope := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, envelope)
			signed, err := fact.DecodeSignedTransaction(envelope)
			if err != nil {
				return err
			}
			transactions = append(transactions, signed)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("entitystore: query transactions: %w", err)
	}
	return transactions, nil
}

func transactionEpoch(conn *sqlite.Conn, transactionId id.Id) (int64, bool, error) {
	var epoch int64
	var found bool
	err := sqlitex.Execute(conn,
		"SELECT epoch_second FROM transactions WHERE transaction_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{transactionId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				epoch = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, false, fmt.Errorf("entitystore: resolving start transaction: %w", err)
	}
	return epoch, found, nil
}

// GetTransactionsSince returns one authority's transactions after the
// given transaction id, in ordinal order: the order ingest requires.
// A zero afterTransactionId starts from the beginning of the log. An
// afterTransactionId this store does not hold also starts from the
// beginning: the requester may reference a transaction we never saw,
// and re-serving the full log is safe because ingest skips duplicates
// by transaction id.
func (s *Store) GetTransactionsSince(ctx context.Context, authorityId, afterTransactionId id.Id, limit int) ([]fact.SignedTransaction, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitystore: transactions since: %w", err)
	}
	defer s.pool.Put(conn)

	var afterOrdinal int64
	if !afterTransactionId.IsZero() {
		err := sqlitex.Execute(conn,
			"SELECT ordinal FROM transactions WHERE transaction_id = ? AND authority_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{afterTransactionId[:], authorityId[:]},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					afterOrdinal = stmt.ColumnInt64(0)
					return nil
				},
			})
		if err != nil {
			return nil, fmt.Errorf("entitystore: resolving sync position: %w", err)
		}
	}

	query := `SELECT envelope FROM transactions
		WHERE authority_id = ? AND ordinal > ? ORDER BY ordinal`
	args := []any{authorityId[:], afterOrdinal}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var transactions []fact.SignedTransaction
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			envelope := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, envelope)
			signed, err := fact.DecodeSignedTransaction(envelope)
			if err != nil {
				return err
			}
			transactions = append(transactions, signed)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("entitystore: transactions since: %w", err)
	}
	return transactions, nil
}

// GetLastTransactionId returns the id of an authority's most recent
// transaction by log order, or ok=false when the authority has none.
func (s *Store) GetLastTransactionId(ctx context.Context, authorityId id.Id) (id.Id, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return id.Id{}, false, fmt.Errorf("entitystore: last transaction: %w", err)
	}
	defer s.pool.Put(conn)

	var transactionId id.Id
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT transaction_id FROM transactions WHERE authority_id = ? ORDER BY ordinal DESC LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{authorityId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stmt.ColumnBytes(0, transactionId[:])
				found = true
				return nil
			},
		})
	if err != nil {
		return id.Id{}, false, fmt.Errorf("entitystore: last transaction: %w", err)
	}
	return transactionId, found, nil
}
