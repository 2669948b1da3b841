// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

func TestGenerateDerivesAuthorityId(t *testing.T) {
	pair, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pair.AuthorityId != id.OfPublicKey(pair.PublicKey) {
		t.Error("authority id not derived from signing key")
	}
	if pair.Identity == nil || pair.Recipient() == nil {
		t.Error("encryption identity missing")
	}
}

func TestSignTransaction(t *testing.T) {
	pair, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	store := NewMemoryKeyStore()
	store.AddPersona(pair)

	transaction, err := fact.NewTransaction(pair.AuthorityId, 1700000000, 1, []fact.Fact{{
		AuthorityId: pair.AuthorityId,
		EntityId:    id.OfURI("https://example.com/"),
		Attribute:   fact.Name,
		Value:       fact.StringValue("signed"),
		Operation:   fact.Add,
		EpochSecond: 1700000000,
	}})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	signed, err := store.SignTransaction(transaction)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if err := signed.Verify(pair.PublicKey); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestSignTransactionWithoutKey(t *testing.T) {
	store := NewMemoryKeyStore()

	publicKey, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	authorityId := store.AddPublicKey(publicKey)

	if _, ok := store.PublicKey(authorityId); !ok {
		t.Fatal("registered public key not resolvable")
	}
	if _, ok := store.Identity(authorityId); ok {
		t.Fatal("public-only authority should have no identity")
	}

	transaction, err := fact.NewTransaction(authorityId, 1700000000, 1, []fact.Fact{{
		AuthorityId: authorityId,
		EntityId:    id.OfURI("https://example.com/"),
		Attribute:   fact.Name,
		Value:       fact.StringValue("unsignable"),
		Operation:   fact.Add,
	}})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if _, err := store.SignTransaction(transaction); !errors.Is(err, ErrNoKey) {
		t.Fatalf("got %v, want ErrNoKey", err)
	}
}

func TestPersonas(t *testing.T) {
	store := NewMemoryKeyStore()
	if personas := store.Personas(); len(personas) != 0 {
		t.Fatalf("empty store lists personas: %v", personas)
	}

	pair, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	store.AddPersona(pair)

	personas := store.Personas()
	if len(personas) != 1 || personas[0] != pair.AuthorityId {
		t.Fatalf("got %v, want [%s]", personas, pair.AuthorityId)
	}
}
