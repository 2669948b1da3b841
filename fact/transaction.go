// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import (
	"crypto/ed25519"
	"fmt"

	"github.com/peerlog-foundation/peerlog/lib/codec"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// transactionVersion is the canonical encoding version. Bump only
// with a decoder that accepts all previous versions: signatures over
// old encodings must keep verifying.
const transactionVersion uint8 = 1

// TransactionFact is a compact fact inside a transaction. The
// authority and moment are implied by the enclosing transaction.
type TransactionFact struct {
	EntityId  id.Id
	Attribute Attribute
	Value     Value
	Operation Operation
}

// Transaction is an ordered batch of facts authored atomically by one
// authority. Id is the content hash of the canonical encoding (with
// the id field zeroed), so a transaction's id commits to its entire
// content.
type Transaction struct {
	AuthorityId id.Id
	Id          id.Id
	EpochSecond int64
	Ordinal     int64
	Facts       []TransactionFact
}

// wire forms. Field numbers are part of the signed canonical
// encoding; never renumber.

type wireTransactionFact struct {
	EntityId  id.Id `cbor:"1,keyasint"`
	Attribute uint8 `cbor:"2,keyasint"`
	Value     Value `cbor:"3,keyasint"`
	Operation uint8 `cbor:"4,keyasint"`
}

type wireTransaction struct {
	Version     uint8                 `cbor:"1,keyasint"`
	AuthorityId id.Id                 `cbor:"2,keyasint"`
	Id          id.Id                 `cbor:"3,keyasint"`
	EpochSecond int64                 `cbor:"4,keyasint"`
	Ordinal     int64                 `cbor:"5,keyasint"`
	Facts       []wireTransactionFact `cbor:"6,keyasint"`
}

// NewTransaction builds a transaction from committed facts. All facts
// must share authorityId; computed attributes and Add-of-Empty facts
// are rejected (computed facts are derived by readers, never signed).
// The transaction id is computed from the content.
func NewTransaction(authorityId id.Id, epochSecond, ordinal int64, facts []Fact) (Transaction, error) {
	if authorityId.IsZero() {
		return Transaction{}, fmt.Errorf("fact: transaction requires an authority id")
	}
	if len(facts) == 0 {
		return Transaction{}, fmt.Errorf("fact: transaction requires at least one fact")
	}

	transactionFacts := make([]TransactionFact, 0, len(facts))
	for _, f := range facts {
		if f.AuthorityId != authorityId {
			return Transaction{}, fmt.Errorf(
				"fact: fact authored by %s in transaction for %s", f.AuthorityId, authorityId)
		}
		if f.Attribute.Computed {
			return Transaction{}, fmt.Errorf(
				"fact: computed attribute %s cannot be authored", f.Attribute.Name)
		}
		if f.Operation == Add && f.Value.IsEmpty() {
			return Transaction{}, fmt.Errorf(
				"fact: adding the empty value for %s is not allowed", f.Attribute.Name)
		}
		transactionFacts = append(transactionFacts, TransactionFact{
			EntityId:  f.EntityId,
			Attribute: f.Attribute,
			Value:     f.Value,
			Operation: f.Operation,
		})
	}

	transaction := Transaction{
		AuthorityId: authorityId,
		EpochSecond: epochSecond,
		Ordinal:     ordinal,
		Facts:       transactionFacts,
	}

	contentId, err := transaction.contentId()
	if err != nil {
		return Transaction{}, err
	}
	transaction.Id = contentId
	return transaction, nil
}

// toWire converts to the canonical wire form. withId controls whether
// the id field carries its real value (signing, persistence) or zero
// (id computation).
func (t Transaction) toWire(withId bool) wireTransaction {
	wire := wireTransaction{
		Version:     transactionVersion,
		AuthorityId: t.AuthorityId,
		EpochSecond: t.EpochSecond,
		Ordinal:     t.Ordinal,
		Facts:       make([]wireTransactionFact, len(t.Facts)),
	}
	if withId {
		wire.Id = t.Id
	}
	for index, f := range t.Facts {
		wire.Facts[index] = wireTransactionFact{
			EntityId:  f.EntityId,
			Attribute: f.Attribute.Ordinal,
			Value:     f.Value,
			Operation: uint8(f.Operation),
		}
	}
	return wire
}

// contentId hashes the canonical encoding with a zero id field.
func (t Transaction) contentId() (id.Id, error) {
	encoded, err := codec.Marshal(t.toWire(false))
	if err != nil {
		return id.Id{}, fmt.Errorf("fact: encoding transaction for id: %w", err)
	}
	return id.OfData(encoded), nil
}

// CanonicalEncode returns the deterministic byte encoding of the
// transaction. Signatures are computed over exactly these bytes, and
// any conforming decoder reproduces the transaction from them.
func (t Transaction) CanonicalEncode() ([]byte, error) {
	encoded, err := codec.Marshal(t.toWire(true))
	if err != nil {
		return nil, fmt.Errorf("fact: encoding transaction: %w", err)
	}
	return encoded, nil
}

// DecodeTransaction parses a canonical transaction encoding and
// verifies that the embedded id matches the content.
func DecodeTransaction(data []byte) (Transaction, error) {
	var wire wireTransaction
	if err := codec.Unmarshal(data, &wire); err != nil {
		return Transaction{}, fmt.Errorf("fact: decoding transaction: %w", err)
	}
	if wire.Version != transactionVersion {
		return Transaction{}, fmt.Errorf("fact: unsupported transaction version %d", wire.Version)
	}

	transaction := Transaction{
		AuthorityId: wire.AuthorityId,
		Id:          wire.Id,
		EpochSecond: wire.EpochSecond,
		Ordinal:     wire.Ordinal,
		Facts:       make([]TransactionFact, len(wire.Facts)),
	}
	for index, wireFact := range wire.Facts {
		attribute, err := ByOrdinal(wireFact.Attribute)
		if err != nil {
			return Transaction{}, err
		}
		transaction.Facts[index] = TransactionFact{
			EntityId:  wireFact.EntityId,
			Attribute: attribute,
			Value:     wireFact.Value,
			Operation: Operation(wireFact.Operation),
		}
	}

	contentId, err := transaction.contentId()
	if err != nil {
		return Transaction{}, err
	}
	if contentId != transaction.Id {
		return Transaction{}, fmt.Errorf(
			"fact: transaction id %s does not match content hash %s", transaction.Id, contentId)
	}

	return transaction, nil
}

// ToFacts expands the transaction into full facts carrying the
// authority, moment, and ordinal.
func (t Transaction) ToFacts() []Fact {
	facts := make([]Fact, len(t.Facts))
	for index, f := range t.Facts {
		facts[index] = Fact{
			AuthorityId:        t.AuthorityId,
			EntityId:           f.EntityId,
			Attribute:          f.Attribute,
			Value:              f.Value,
			Operation:          f.Operation,
			EpochSecond:        t.EpochSecond,
			TransactionOrdinal: t.Ordinal,
		}
	}
	return facts
}

// EntityIds returns the distinct entity ids the transaction touches,
// in first-appearance order.
func (t Transaction) EntityIds() []id.Id {
	seen := make(map[id.Id]bool, len(t.Facts))
	var entityIds []id.Id
	for _, f := range t.Facts {
		if !seen[f.EntityId] {
			seen[f.EntityId] = true
			entityIds = append(entityIds, f.EntityId)
		}
	}
	return entityIds
}

// Sign returns the Ed25519 signature over the canonical encoding.
func (t Transaction) Sign(privateKey ed25519.PrivateKey) ([]byte, error) {
	encoded, err := t.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(privateKey, encoded), nil
}

// Verify checks an Ed25519 signature over the canonical encoding.
func (t Transaction) Verify(publicKey ed25519.PublicKey, signature []byte) error {
	encoded, err := t.CanonicalEncode()
	if err != nil {
		return err
	}
	if !ed25519.Verify(publicKey, encoded, signature) {
		return fmt.Errorf("fact: transaction %s: signature verification failed", t.Id)
	}
	return nil
}
