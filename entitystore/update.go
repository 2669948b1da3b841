// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entitystore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerlog-foundation/peerlog/entity"
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// UpdateEntities commits the pending facts of the given entities as
// one signed transaction. All entities must belong to the same
// authority. Returns the zero SignedTransaction and committed=false
// when no entity has pending facts (or every pending fact raced a
// concurrent commit to the identical value).
//
// Conflict rule: a pending fact on an attribute whose stored state
// changed after the entity was loaded fails with ErrConflict, unless
// the concurrent change already produced exactly the pending outcome,
// in which case the pending fact is dropped silently.
func (s *Store) UpdateEntities(ctx context.Context, entities ...entity.Entity) (fact.SignedTransaction, bool, error) {
	var pending []fact.Fact
	var baselines []int64
	var pendingCounts []int
	for _, e := range entities {
		facts := e.PendingFacts()
		pending = append(pending, facts...)
		baselines = append(baselines, e.LoadedOrdinal())
		pendingCounts = append(pendingCounts, len(facts))
	}
	if len(pending) == 0 {
		return fact.SignedTransaction{}, false, nil
	}

	authorityId := pending[0].AuthorityId
	for _, f := range pending {
		if f.AuthorityId != authorityId {
			return fact.SignedTransaction{}, false, ErrCrossAuthority
		}
	}

	mu := s.lockAuthority(authorityId)
	defer mu.Unlock()

	signed, entityIds, committed, err := s.commitPending(ctx, authorityId, entities, baselines, pendingCounts)
	if err != nil || !committed {
		return fact.SignedTransaction{}, false, err
	}

	epochSecond := signed.Transaction.EpochSecond
	ordinal := signed.Transaction.Ordinal
	for _, e := range entities {
		e.CommitFacts(epochSecond, ordinal)
	}

	s.notifyIndex(ctx, authorityId, entityIds)
	return signed, true, nil
}

func (s *Store) commitPending(ctx context.Context, authorityId id.Id, entities []entity.Entity, baselines []int64, pendingCounts []int) (fact.SignedTransaction, []id.Id, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fact.SignedTransaction{}, nil, false, fmt.Errorf("entitystore: update: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fact.SignedTransaction{}, nil, false, fmt.Errorf("entitystore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	// Validate each entity's pending facts against the stored state
	// it may have raced with, dropping pending facts whose outcome
	// already holds.
	var surviving []fact.Fact
	for index, e := range entities {
		if pendingCounts[index] == 0 {
			continue
		}
		var checked []fact.Fact
		checked, err = checkConflicts(conn, e, baselines[index])
		if err != nil {
			return fact.SignedTransaction{}, nil, false, err
		}
		surviving = append(surviving, checked...)
	}
	if len(surviving) == 0 {
		return fact.SignedTransaction{}, nil, false, nil
	}

	ordinal, err := lastOrdinal(conn, authorityId)
	if err != nil {
		return fact.SignedTransaction{}, nil, false, err
	}
	ordinal++
	epochSecond := s.clock.Now().Unix()

	for index := range surviving {
		surviving[index].EpochSecond = epochSecond
		surviving[index].TransactionOrdinal = ordinal
	}

	transaction, err := fact.NewTransaction(authorityId, epochSecond, ordinal, surviving)
	if err != nil {
		return fact.SignedTransaction{}, nil, false, fmt.Errorf("entitystore: %w", err)
	}

	signed, err := s.signer.SignTransaction(transaction)
	if err != nil {
		return fact.SignedTransaction{}, nil, false, fmt.Errorf("entitystore: signing transaction: %w", err)
	}

	if err = insertTransaction(conn, signed); err != nil {
		return fact.SignedTransaction{}, nil, false, err
	}

	s.logger.Info("transaction committed",
		"authority", authorityId,
		"ordinal", ordinal,
		"facts", len(surviving),
	)
	return signed, transaction.EntityIds(), true, nil
}

// checkConflicts validates one entity's pending facts against its
// stored fact history and returns the facts that should be written.
func checkConflicts(conn *sqlite.Conn, e entity.Entity, baseline int64) ([]fact.Fact, error) {
	authorityId := e.AuthorityId()
	entityId := e.EntityId()

	stored, err := queryFacts(conn,
		"authority_id = ? AND entity_id = ?",
		[]any{authorityId[:], entityId[:]})
	if err != nil {
		return nil, err
	}
	current := entity.CurrentFacts(stored)

	// Highest ordinal that touched each attribute slot. Single-value
	// attributes are one slot; multi-value attributes are one slot
	// per value.
	type slot struct {
		attribute uint8
		value     fact.Value
	}
	slotOf := func(f fact.Fact) slot {
		if f.Attribute.IsMultiValue() {
			return slot{attribute: f.Attribute.Ordinal, value: f.Value}
		}
		return slot{attribute: f.Attribute.Ordinal}
	}

	changed := make(map[slot]int64)
	for _, f := range stored {
		key := slotOf(f)
		if f.TransactionOrdinal > changed[key] {
			changed[key] = f.TransactionOrdinal
		}
	}

	currentBySlot := make(map[slot]fact.Fact)
	for _, f := range current {
		currentBySlot[slotOf(f)] = f
	}

	var surviving []fact.Fact
	for _, pending := range e.PendingFacts() {
		key := slotOf(pending)
		if changed[key] <= baseline {
			surviving = append(surviving, pending)
			continue
		}

		// The slot changed after this entity was loaded. Tolerate
		// the race only for an Add whose value the concurrent change
		// already produced; a retract racing any change, including
		// another retract, conflicts.
		storedCurrent, present := currentBySlot[key]
		if pending.Operation == fact.Add && present && storedCurrent.Value == pending.Value {
			continue
		}
		return nil, fmt.Errorf("%w: %s on entity %s changed at ordinal %d, loaded at %d",
			ErrConflict, pending.Attribute.Name, entityId, changed[key], baseline)
	}
	return surviving, nil
}

// DeleteEntities retracts every current fact of an entity, cascading
// to child comments authored by the same authority. Deleting an
// entity with no current facts is a no-op.
func (s *Store) DeleteEntities(ctx context.Context, authorityId, entityId id.Id) error {
	mu := s.lockAuthority(authorityId)
	defer mu.Unlock()

	removed, err := s.deleteEntity(ctx, authorityId, entityId)
	if err != nil {
		return err
	}

	if s.search != nil {
		for _, removedId := range removed {
			s.search.RemoveEntity(authorityId, removedId)
		}
	}
	// Parents of removed comments keep their authored facts but
	// lose a back-reference; refresh their index entries.
	s.refreshParents(ctx, authorityId, removed)
	return nil
}

func (s *Store) deleteEntity(ctx context.Context, authorityId, entityId id.Id) ([]id.Id, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitystore: delete: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("entitystore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	retracts, removed, err := collectRetracts(conn, authorityId, entityId, make(map[id.Id]bool))
	if err != nil {
		return nil, err
	}
	if len(retracts) == 0 {
		return nil, nil
	}

	ordinal, err := lastOrdinal(conn, authorityId)
	if err != nil {
		return nil, err
	}
	ordinal++
	epochSecond := s.clock.Now().Unix()

	for index := range retracts {
		retracts[index].EpochSecond = epochSecond
		retracts[index].TransactionOrdinal = ordinal
	}

	transaction, err := fact.NewTransaction(authorityId, epochSecond, ordinal, retracts)
	if err != nil {
		return nil, fmt.Errorf("entitystore: %w", err)
	}
	signed, err := s.signer.SignTransaction(transaction)
	if err != nil {
		return nil, fmt.Errorf("entitystore: signing transaction: %w", err)
	}
	if err = insertTransaction(conn, signed); err != nil {
		return nil, err
	}

	s.logger.Info("entities deleted",
		"authority", authorityId,
		"entity", entityId,
		"cascaded", len(removed)-1,
	)
	return removed, nil
}

// collectRetracts gathers retraction facts for an entity and,
// depth-first, for its same-authority child comments.
func collectRetracts(conn *sqlite.Conn, authorityId, entityId id.Id, visited map[id.Id]bool) ([]fact.Fact, []id.Id, error) {
	if visited[entityId] {
		return nil, nil, nil
	}
	visited[entityId] = true

	stored, err := queryFacts(conn,
		"authority_id = ? AND entity_id = ?",
		[]any{authorityId[:], entityId[:]})
	if err != nil {
		return nil, nil, err
	}
	current := entity.CurrentFacts(stored)
	if len(current) == 0 {
		return nil, nil, nil
	}

	var retracts []fact.Fact
	removed := []id.Id{entityId}

	childIds, err := childCommentIds(conn, authorityId, entityId)
	if err != nil {
		return nil, nil, err
	}
	for _, childId := range childIds {
		childRetracts, childRemoved, err := collectRetracts(conn, authorityId, childId, visited)
		if err != nil {
			return nil, nil, err
		}
		retracts = append(retracts, childRetracts...)
		removed = append(removed, childRemoved...)
	}

	for _, f := range current {
		retracts = append(retracts, fact.Fact{
			AuthorityId: authorityId,
			EntityId:    entityId,
			Attribute:   f.Attribute,
			Value:       f.Value,
			Operation:   fact.Retract,
		})
	}
	return retracts, removed, nil
}

// refreshParents re-indexes the surviving parents of removed
// comments so their derived comment lists shrink.
func (s *Store) refreshParents(ctx context.Context, authorityId id.Id, removed []id.Id) {
	if s.search == nil || len(removed) == 0 {
		return
	}

	removedSet := make(map[id.Id]bool, len(removed))
	for _, removedId := range removed {
		removedSet[removedId] = true
	}

	var parents []id.Id
	seen := make(map[id.Id]bool)
	for _, removedId := range removed {
		facts, err := s.GetFacts(ctx, nil, []id.Id{removedId})
		if err != nil {
			s.logger.Error("parent refresh failed", "entity", removedId, "error", err)
			continue
		}
		for _, f := range facts {
			if f.Attribute != fact.ParentId {
				continue
			}
			parentId, ok := f.Value.Id()
			if !ok || removedSet[parentId] || seen[parentId] {
				continue
			}
			seen[parentId] = true
			parents = append(parents, parentId)
		}
	}
	s.notifyIndex(ctx, authorityId, parents)
}
