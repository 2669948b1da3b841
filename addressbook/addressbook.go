// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package addressbook tracks known peers and local personas. Entries
// are projections of authority entities in the entity store: the
// address book is a convenience view, not a second source of truth,
// so peer metadata replicates with the rest of the fact log.
package addressbook

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/url"

	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/keyring"
)

// ErrInvalidAddress reports an entry address without a URI scheme.
var ErrInvalidAddress = errors.New("addressbook: address must be an absolute URI")

// Entry is one persona's record of a peer (or of itself).
type Entry struct {
	// PersonaId is the local authority whose view this entry
	// belongs to.
	PersonaId id.Id

	// EntityId is the peer's authority entity id, derived from its
	// public key.
	EntityId id.Id

	Name      string
	PublicKey ed25519.PublicKey

	// Address is where the peer can be reached: a relay endpoint or
	// a direct address. Must be an absolute URI.
	Address string

	ImageUri string

	// IsActive marks the persona the node currently publishes as.
	// Meaningful only on self entries.
	IsActive bool
}

// Validate checks the entry's structural invariants.
func (e Entry) Validate() error {
	if e.PersonaId.IsZero() {
		return fmt.Errorf("addressbook: entry has no persona id")
	}
	if len(e.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("addressbook: entry public key is %d bytes, want %d",
			len(e.PublicKey), ed25519.PublicKeySize)
	}
	if e.EntityId != id.OfPublicKey(e.PublicKey) {
		return fmt.Errorf("addressbook: entity id does not match public key")
	}
	if e.Address != "" {
		parsed, err := url.Parse(e.Address)
		if err != nil || parsed.Scheme == "" {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, e.Address)
		}
	}
	return nil
}

// EqualsIgnoringPersona compares the identity-relevant fields of two
// entries while ignoring which persona holds them. One peer known to
// two local personas compares equal under this relation.
func (e Entry) EqualsIgnoringPersona(other Entry) bool {
	return e.EntityId == other.EntityId &&
		e.Name == other.Name &&
		e.PublicKey.Equal(other.PublicKey) &&
		e.Address == other.Address &&
		e.ImageUri == other.ImageUri
}

// PersonaEntry is an entry for an authority whose private key this
// node holds.
type PersonaEntry struct {
	Entry
	Keys *keyring.KeyPair
}

// UpdateHandler is notified after the address book changes, with the
// full entry set before and after the change so subscribers can diff.
type UpdateHandler func(previous, current []Entry) error
