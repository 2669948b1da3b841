// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entitystore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/entity"
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// GetEntity rebuilds one entity from its stored facts, with comment
// back-references derived at load time. Returns nil (and no error)
// when the entity has no current facts.
func (s *Store) GetEntity(ctx context.Context, authorityId, entityId id.Id) (entity.Entity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitystore: get entity: %w", err)
	}
	defer s.pool.Put(conn)

	return loadEntity(conn, authorityId, entityId)
}

func loadEntity(conn *sqlite.Conn, authorityId, entityId id.Id) (entity.Entity, error) {
	facts, err := queryFacts(conn,
		"authority_id = ? AND entity_id = ?",
		[]any{authorityId[:], entityId[:]})
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}

	computed, err := loadComputedCommentFacts(conn, authorityId, entityId)
	if err != nil {
		return nil, err
	}
	return entity.FromFacts(facts, computed), nil
}

// GetEntities rebuilds every entity matching the filters. An empty
// authorityIds or entityIds slice means no filter on that dimension.
// Fully retracted entities are omitted.
func (s *Store) GetEntities(ctx context.Context, authorityIds, entityIds []id.Id) ([]entity.Entity, error) {
	facts, err := s.GetFacts(ctx, authorityIds, entityIds)
	if err != nil {
		return nil, err
	}

	type key struct {
		authorityId id.Id
		entityId    id.Id
	}
	grouped := make(map[key][]fact.Fact)
	var order []key
	for _, f := range facts {
		k := key{authorityId: f.AuthorityId, entityId: f.EntityId}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], f)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitystore: get entities: %w", err)
	}
	defer s.pool.Put(conn)

	var entities []entity.Entity
	for _, k := range order {
		computed, err := loadComputedCommentFacts(conn, k.authorityId, k.entityId)
		if err != nil {
			return nil, err
		}
		if rebuilt := entity.FromFacts(grouped[k], computed); rebuilt != nil {
			entities = append(entities, rebuilt)
		}
	}
	return entities, nil
}

// GetFacts returns raw stored facts matching the filters, ordered by
// transaction ordinal. An empty filter slice means no filter on that
// dimension. Intended for diagnostics and replication; no replay is
// applied.
func (s *Store) GetFacts(ctx context.Context, authorityIds, entityIds []id.Id) ([]fact.Fact, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitystore: get facts: %w", err)
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
	if len(entityIds) > 0 {
		conditions = append(conditions, "entity_id IN ("+placeholders(len(entityIds))+")")
		for _, entityId := range entityIds {
			args = append(args, entityId[:])
		}
	}

	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	return queryFacts(conn, where, args)
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// queryFacts runs a SELECT over the facts table with the given WHERE
// clause, ordered by transaction ordinal.
func queryFacts(conn *sqlite.Conn, where string, args []any) ([]fact.Fact, error) {
	query := "SELECT authority_id, entity_id, attribute, value, operation, epoch_second, ordinal " +
		"FROM facts WHERE " + where + " ORDER BY ordinal"

	var facts []fact.Fact
	err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanFact(stmt)
			if err != nil {
				return err
			}
			facts = append(facts, scanned)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("entitystore: query facts: %w", err)
	}
	return facts, nil
}

func scanFact(stmt *sqlite.Stmt) (fact.Fact, error) {
	var f fact.Fact

	// Columns: authority_id(0), entity_id(1), attribute(2), value(3),
	// operation(4), epoch_second(5), ordinal(6)

	stmt.ColumnBytes(0, f.AuthorityId[:])
	stmt.ColumnBytes(1, f.EntityId[:])

	attribute, err := fact.ByOrdinal(uint8(stmt.ColumnInt(2)))
	if err != nil {
		return f, fmt.Errorf("entitystore: stored fact: %w", err)
	}
	f.Attribute = attribute

	valueBytes := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, valueBytes)
	value, err := fact.DecodeValue(valueBytes)
	if err != nil {
		return f, fmt.Errorf("entitystore: stored fact value: %w", err)
	}
	f.Value = value

	f.Operation = fact.Operation(stmt.ColumnInt(4))
	f.EpochSecond = stmt.ColumnInt64(5)
	f.TransactionOrdinal = stmt.ColumnInt64(6)
	return f, nil
}

// loadComputedCommentFacts derives the CommentIds back-references for
// one entity. Candidate children are entities that ever carried a
// ParentId fact naming this entity, across all authorities; their
// ParentId history is replayed so reparented or retracted comments
// drop out.
func loadComputedCommentFacts(conn *sqlite.Conn, authorityId, parentId id.Id) ([]fact.Fact, error) {
	parentReference := fact.IdValue(parentId).Encode()

	childFacts := make(map[id.Id][]fact.Fact)
	err := sqlitex.ExecuteTransient(conn, `SELECT authority_id, entity_id, attribute, value, operation, epoch_second, ordinal
		FROM facts
		WHERE attribute = ? AND entity_id IN (
			SELECT DISTINCT entity_id FROM facts WHERE attribute = ? AND value = ?
		)
		ORDER BY ordinal`, &sqlitex.ExecOptions{
		Args: []any{
			int(fact.ParentId.Ordinal),
			int(fact.ParentId.Ordinal),
			parentReference,
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanFact(stmt)
			if err != nil {
				return err
			}
			childFacts[scanned.EntityId] = append(childFacts[scanned.EntityId], scanned)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("entitystore: loading comment references: %w", err)
	}
	if len(childFacts) == 0 {
		return nil, nil
	}
	return entity.ComputeCommentFacts(authorityId, parentId, childFacts), nil
}

// childCommentIds returns the entity ids of the current child
// comments of an entity, for cascade deletion. Only children authored
// by the given authority are returned: the store cannot retract
// facts it cannot sign for.
func childCommentIds(conn *sqlite.Conn, authorityId, parentId id.Id) ([]id.Id, error) {
	computed, err := loadComputedCommentFacts(conn, authorityId, parentId)
	if err != nil {
		return nil, err
	}

	var childIds []id.Id
	for _, f := range computed {
		childId, ok := f.Value.Id()
		if !ok {
			continue
		}
		owned, err := entityOwnedBy(conn, authorityId, childId)
		if err != nil {
			return nil, err
		}
		if owned {
			childIds = append(childIds, childId)
		}
	}
	sort.Slice(childIds, func(i, j int) bool {
		return childIds[i].Compare(childIds[j]) < 0
	})
	return childIds, nil
}

func entityOwnedBy(conn *sqlite.Conn, authorityId, entityId id.Id) (bool, error) {
	var owned bool
	err := sqlitex.Execute(conn,
		"SELECT 1 FROM facts WHERE authority_id = ? AND entity_id = ? LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{authorityId[:], entityId[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				owned = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("entitystore: ownership check: %w", err)
	}
	return owned, nil
}
