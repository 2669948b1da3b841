// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package entity reconstructs typed entities from ordered fact
// sequences. An entity is a transient projection: it is rebuilt from
// facts on every load, mutated in memory by staging pending facts,
// and committed back as a new fact batch. Replay gives single-value
// attributes last-writer-wins semantics and multi-value attributes
// per-value add/retract set semantics.
package entity

import (
	"sort"

	"github.com/peerlog-foundation/peerlog/fact"
)

// CurrentFacts replays an entity's fact sequence and returns the
// facts that are currently in force, ordered by attribute ordinal and
// (for multi-value attributes) surviving-value insertion order.
//
// Single-value attributes: the latest Add wins; a later Retract
// clears the attribute entirely. Multi-value attributes: each
// distinct value is tracked independently, so Add(v) then Retract(v)
// removes v while a later Add(v) re-adds it.
//
// Input facts are ordered by transaction ordinal before replay; ties
// (facts within one transaction) keep input order.
func CurrentFacts(facts []fact.Fact) []fact.Fact {
	ordered := make([]fact.Fact, len(facts))
	copy(ordered, facts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TransactionOrdinal < ordered[j].TransactionOrdinal
	})

	// Per-attribute replay state. Single-value attributes keep one
	// winning fact; multi-value attributes keep an insertion-ordered
	// list of winning facts keyed by value.
	type multiState struct {
		order []fact.Value
		facts map[fact.Value]fact.Fact
	}
	singles := make(map[uint8]*fact.Fact)
	multis := make(map[uint8]*multiState)
	var attributeOrder []fact.Attribute
	seenAttribute := make(map[uint8]bool)

	for _, f := range ordered {
		if !seenAttribute[f.Attribute.Ordinal] {
			seenAttribute[f.Attribute.Ordinal] = true
			attributeOrder = append(attributeOrder, f.Attribute)
		}

		if !f.Attribute.IsMultiValue() {
			if f.Operation == fact.Add {
				current := f
				singles[f.Attribute.Ordinal] = &current
			} else {
				singles[f.Attribute.Ordinal] = nil
			}
			continue
		}

		state := multis[f.Attribute.Ordinal]
		if state == nil {
			state = &multiState{facts: make(map[fact.Value]fact.Fact)}
			multis[f.Attribute.Ordinal] = state
		}

		if f.Operation == fact.Add {
			if _, present := state.facts[f.Value]; !present {
				state.order = append(state.order, f.Value)
			}
			state.facts[f.Value] = f
			continue
		}

		// Retract of one value from the set.
		if _, present := state.facts[f.Value]; present {
			delete(state.facts, f.Value)
			for index, value := range state.order {
				if value == f.Value {
					state.order = append(state.order[:index], state.order[index+1:]...)
					break
				}
			}
		}
	}

	sort.SliceStable(attributeOrder, func(i, j int) bool {
		return attributeOrder[i].Ordinal < attributeOrder[j].Ordinal
	})

	var current []fact.Fact
	for _, attribute := range attributeOrder {
		if !attribute.IsMultiValue() {
			if winner := singles[attribute.Ordinal]; winner != nil {
				current = append(current, *winner)
			}
			continue
		}
		state := multis[attribute.Ordinal]
		if state == nil {
			continue
		}
		for _, value := range state.order {
			current = append(current, state.facts[value])
		}
	}
	return current
}
