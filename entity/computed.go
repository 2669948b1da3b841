// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"sort"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// ComputeCommentFacts derives the CommentIds facts for a parent
// entity from the facts of its candidate child comments. childFacts
// maps each child entity id to that child's full authored fact
// history; a child contributes a back-reference only if its replayed
// current state still names the parent. Results are ordered by the
// child's first ParentId commit so comment lists are stable across
// replays.
//
// Derived facts carry the parent's coordinates and the ordinal and
// timestamp of the contributing child fact; they are never signed or
// persisted.
func ComputeCommentFacts(authorityId, parentId id.Id, childFacts map[id.Id][]fact.Fact) []fact.Fact {
	type reference struct {
		childId id.Id
		ordinal int64
		epoch   int64
	}

	var references []reference
	for childId, facts := range childFacts {
		var parentFact *fact.Fact
		for _, f := range CurrentFacts(facts) {
			if f.Attribute == fact.ParentId {
				current := f
				parentFact = &current
				break
			}
		}
		if parentFact == nil {
			continue
		}
		if current, ok := parentFact.Value.Id(); !ok || current != parentId {
			continue
		}
		references = append(references, reference{
			childId: childId,
			ordinal: parentFact.TransactionOrdinal,
			epoch:   parentFact.EpochSecond,
		})
	}

	sort.Slice(references, func(i, j int) bool {
		if references[i].ordinal != references[j].ordinal {
			return references[i].ordinal < references[j].ordinal
		}
		return references[i].childId.Compare(references[j].childId) < 0
	})

	computed := make([]fact.Fact, 0, len(references))
	for _, ref := range references {
		computed = append(computed, fact.Fact{
			AuthorityId:        authorityId,
			EntityId:           parentId,
			Attribute:          fact.CommentIds,
			Value:              fact.IdValue(ref.childId),
			Operation:          fact.Add,
			EpochSecond:        ref.epoch,
			TransactionOrdinal: ref.ordinal,
		})
	}
	return computed
}
