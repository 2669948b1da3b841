// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Raw is the untyped fallback for entities whose Type attribute is
// absent or unknown to this node. It exposes the generic fact
// accessors so newer entity kinds survive storage and sync on older
// nodes without loss.
type Raw struct {
	core
}

// NewRaw creates an untyped entity.
func NewRaw(authorityId, entityId id.Id) *Raw {
	return &Raw{core: core{
		authorityId: authorityId,
		entityId:    entityId,
	}}
}

// Get returns the current value of a single-value attribute.
func (r *Raw) Get(attribute fact.Attribute) (fact.Value, bool) {
	return r.single(attribute)
}

// GetAll returns the current values of a multi-value attribute.
func (r *Raw) GetAll(attribute fact.Attribute) []fact.Value {
	return r.multi(attribute)
}

// Set stages an Add on a single-value attribute.
func (r *Raw) Set(attribute fact.Attribute, value fact.Value) {
	r.setSingle(attribute, value)
}

// Clear stages a Retract on a single-value attribute.
func (r *Raw) Clear(attribute fact.Attribute) {
	r.clearSingle(attribute)
}

// SetAll replaces the value set of a multi-value attribute.
func (r *Raw) SetAll(attribute fact.Attribute, values []fact.Value) {
	r.setMulti(attribute, values)
}
