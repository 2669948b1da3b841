// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Entity type discriminator values carried by the Type attribute.
const (
	TypeAuthority = "authority"
	TypeResource  = "resource"
	TypeComment   = "comment"
	TypeData      = "data"
)

// Entity is a typed projection over the current facts of one
// (authorityId, entityId) pair. Concrete variants are Authority,
// Resource, Comment, Data, and Raw; dispatch happens once in
// FromFacts, keyed on the Type attribute.
type Entity interface {
	// AuthorityId is the identity whose view of the entity this is.
	AuthorityId() id.Id

	// EntityId identifies the entity.
	EntityId() id.Id

	// CurrentFacts returns the authored facts currently in force,
	// excluding computed facts.
	CurrentFacts() []fact.Fact

	// ComputedFacts returns the derived facts (comment
	// back-references) attached at load time. Never committed.
	ComputedFacts() []fact.Fact

	// PendingFacts returns the staged, uncommitted facts.
	PendingFacts() []fact.Fact

	// CommitFacts stamps the pending facts with the given moment and
	// transaction ordinal, applies them to the current state, clears
	// the pending buffer, and returns them. Returns nil when nothing
	// is pending.
	CommitFacts(epochSecond, ordinal int64) []fact.Fact

	// LoadedOrdinal is the highest transaction ordinal among the
	// facts the entity was built from. The store compares it against
	// current storage state to detect conflicting stale commits.
	LoadedOrdinal() int64
}

// FromFacts rebuilds an entity from its authored facts, with derived
// facts supplied separately (they participate in reads but are never
// re-committed or re-signed). Returns nil when replay nets zero
// current facts: a fully retracted entity does not exist, and
// callers must treat nil as "not found", not as an error.
//
// All facts must belong to a single (authorityId, entityId) pair;
// grouping is the caller's job.
func FromFacts(authored []fact.Fact, computed []fact.Fact) Entity {
	current := CurrentFacts(authored)
	if len(current) == 0 {
		return nil
	}

	var loadedOrdinal int64
	for _, f := range authored {
		if f.TransactionOrdinal > loadedOrdinal {
			loadedOrdinal = f.TransactionOrdinal
		}
	}

	core := core{
		authorityId:   current[0].AuthorityId,
		entityId:      current[0].EntityId,
		current:       current,
		computed:      computed,
		loadedOrdinal: loadedOrdinal,
	}

	switch typeName, _ := core.single(fact.Type); typeName {
	case typeValue(TypeAuthority):
		return &Authority{core: core}
	case typeValue(TypeResource):
		return &Resource{core: core}
	case typeValue(TypeComment):
		return &Comment{core: core}
	case typeValue(TypeData):
		return &Data{core: core}
	default:
		return &Raw{core: core}
	}
}

func typeValue(name string) fact.Value {
	return fact.StringValue(name)
}

// core holds the shared replay and staging state embedded by every
// entity variant.
type core struct {
	authorityId   id.Id
	entityId      id.Id
	current       []fact.Fact
	computed      []fact.Fact
	pending       []fact.Fact
	loadedOrdinal int64
}

func (c *core) AuthorityId() id.Id { return c.authorityId }
func (c *core) EntityId() id.Id    { return c.entityId }

func (c *core) CurrentFacts() []fact.Fact {
	facts := make([]fact.Fact, len(c.current))
	copy(facts, c.current)
	return facts
}

func (c *core) ComputedFacts() []fact.Fact {
	facts := make([]fact.Fact, len(c.computed))
	copy(facts, c.computed)
	return facts
}

func (c *core) PendingFacts() []fact.Fact {
	facts := make([]fact.Fact, len(c.pending))
	copy(facts, c.pending)
	return facts
}

func (c *core) LoadedOrdinal() int64 { return c.loadedOrdinal }

func (c *core) CommitFacts(epochSecond, ordinal int64) []fact.Fact {
	if len(c.pending) == 0 {
		return nil
	}

	committed := make([]fact.Fact, len(c.pending))
	for index, f := range c.pending {
		f.EpochSecond = epochSecond
		f.TransactionOrdinal = ordinal
		committed[index] = f
	}
	c.pending = nil

	c.current = CurrentFacts(append(c.current, committed...))
	c.loadedOrdinal = ordinal
	return committed
}

// single returns the current value of a single-value attribute.
func (c *core) single(attribute fact.Attribute) (fact.Value, bool) {
	for _, f := range c.effectiveFacts() {
		if f.Attribute == attribute {
			return f.Value, true
		}
	}
	return fact.Value{}, false
}

// multi returns the current values of a multi-value attribute in
// insertion order.
func (c *core) multi(attribute fact.Attribute) []fact.Value {
	var values []fact.Value
	for _, f := range c.effectiveFacts() {
		if f.Attribute == attribute {
			values = append(values, f.Value)
		}
	}
	return values
}

// effectiveFacts is the read view: current authored facts overlaid
// with pending mutations, plus computed facts.
func (c *core) effectiveFacts() []fact.Fact {
	if len(c.pending) == 0 && len(c.computed) == 0 {
		return c.current
	}
	merged := make([]fact.Fact, 0, len(c.current)+len(c.pending)+len(c.computed))
	merged = append(merged, c.current...)
	// Pending facts have not been assigned an ordinal yet; replay
	// them after everything already loaded.
	for _, f := range c.pending {
		f.TransactionOrdinal = c.loadedOrdinal + 1
		merged = append(merged, f)
	}
	effective := CurrentFacts(merged)
	return append(effective, c.computed...)
}

// setSingle stages an Add for a single-value attribute. Setting the
// already-current value stages nothing.
func (c *core) setSingle(attribute fact.Attribute, value fact.Value) {
	if current, ok := c.single(attribute); ok && current == value {
		return
	}
	c.stage(fact.Fact{
		AuthorityId: c.authorityId,
		EntityId:    c.entityId,
		Attribute:   attribute,
		Value:       value,
		Operation:   fact.Add,
	})
}

// clearSingle stages a Retract for a single-value attribute. Clearing
// an absent attribute stages nothing.
func (c *core) clearSingle(attribute fact.Attribute) {
	current, ok := c.single(attribute)
	if !ok {
		return
	}
	c.stage(fact.Fact{
		AuthorityId: c.authorityId,
		EntityId:    c.entityId,
		Attribute:   attribute,
		Value:       current,
		Operation:   fact.Retract,
	})
}

// setMulti replaces the full value set of a multi-value attribute,
// staging only the minimal Add/Retract deltas. Duplicate values in
// the input collapse; surviving-value order follows the input for
// newly added values.
func (c *core) setMulti(attribute fact.Attribute, values []fact.Value) {
	desired := make(map[fact.Value]bool, len(values))
	var desiredOrder []fact.Value
	for _, value := range values {
		if !desired[value] {
			desired[value] = true
			desiredOrder = append(desiredOrder, value)
		}
	}

	existing := make(map[fact.Value]bool)
	for _, value := range c.multi(attribute) {
		existing[value] = true
		if !desired[value] {
			c.stage(fact.Fact{
				AuthorityId: c.authorityId,
				EntityId:    c.entityId,
				Attribute:   attribute,
				Value:       value,
				Operation:   fact.Retract,
			})
		}
	}

	for _, value := range desiredOrder {
		if !existing[value] {
			c.stage(fact.Fact{
				AuthorityId: c.authorityId,
				EntityId:    c.entityId,
				Attribute:   attribute,
				Value:       value,
				Operation:   fact.Add,
			})
		}
	}
}

// addMulti stages a single value addition; a no-op when present.
func (c *core) addMulti(attribute fact.Attribute, value fact.Value) {
	for _, existing := range c.multi(attribute) {
		if existing == value {
			return
		}
	}
	c.stage(fact.Fact{
		AuthorityId: c.authorityId,
		EntityId:    c.entityId,
		Attribute:   attribute,
		Value:       value,
		Operation:   fact.Add,
	})
}

func (c *core) stage(f fact.Fact) {
	// Replace an earlier pending fact for the same attribute/value
	// slot so repeated mutation before commit stays minimal.
	for index := range c.pending {
		if c.pending[index].Attribute == f.Attribute &&
			(!f.Attribute.IsMultiValue() || c.pending[index].Value == f.Value) {
			c.pending[index] = f
			return
		}
	}
	c.pending = append(c.pending, f)
}

// stageType records the discriminator on a freshly created entity.
func (c *core) stageType(name string) {
	c.setSingle(fact.Type, typeValue(name))
}
