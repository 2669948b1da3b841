// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import (
	"fmt"

	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Operation says whether a fact asserts or retracts its value.
type Operation uint8

const (
	// Add asserts the value.
	Add Operation = 0

	// Retract withdraws a previously added value.
	Retract Operation = 1
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case Add:
		return "add"
	case Retract:
		return "retract"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// Fact is the atomic unit of state: one authority asserting or
// retracting one attribute value for one entity at one moment. Facts
// are comparable and usable as map keys.
type Fact struct {
	// AuthorityId identifies the identity that authored the fact.
	AuthorityId id.Id

	// EntityId identifies the entity the fact describes.
	EntityId id.Id

	// Attribute is the described attribute.
	Attribute Attribute

	// Value is the attribute value. Empty only for Retract
	// bookkeeping: persisting an Add of Empty is a validation error.
	Value Value

	// Operation is Add or Retract.
	Operation Operation

	// EpochSecond is the commit time of the enclosing transaction.
	EpochSecond int64

	// TransactionOrdinal is the strictly increasing per-authority
	// sequence number of the enclosing transaction. Zero for pending
	// facts that have not been committed yet.
	TransactionOrdinal int64
}

// String renders the fact for logs and test failures.
func (f Fact) String() string {
	return fmt.Sprintf("fact{authority=%.8s entity=%.8s %s %s %s @%d ordinal=%d}",
		f.AuthorityId.String(), f.EntityId.String(), f.Operation,
		f.Attribute.Name, f.Value, f.EpochSecond, f.TransactionOrdinal)
}
