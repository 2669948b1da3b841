// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyring holds the node's identity key material. Each
// persona carries two keys: an Ed25519 pair for signing transactions
// and messages, and an age X25519 pair for unwrapping message body
// keys addressed to it.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"filippo.io/age"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// ErrNoKey reports a signing or decryption request for an authority
// whose private key this node does not hold.
var ErrNoKey = errors.New("keyring: no private key for authority")

// KeyPair is the full key material for one persona.
type KeyPair struct {
	// AuthorityId is derived from the signing public key.
	AuthorityId id.Id

	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey

	// Identity unwraps message keys addressed to this persona.
	Identity *age.X25519Identity
}

// Recipient is the encryption-side counterpart of Identity, shared
// with peers so they can address messages to this persona.
func (p *KeyPair) Recipient() *age.X25519Recipient {
	return p.Identity.Recipient()
}

// Generate creates a fresh persona key pair.
func Generate() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyring: generating signing key: %w", err)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("keyring: generating encryption identity: %w", err)
	}
	return &KeyPair{
		AuthorityId: id.OfPublicKey(publicKey),
		PublicKey:   publicKey,
		PrivateKey:  privateKey,
		Identity:    identity,
	}, nil
}

// KeyStore resolves key material by authority id. Local personas
// carry private keys; remote authorities contribute public keys only
// (learned from their authority entities or the address book).
type KeyStore interface {
	// SignTransaction signs with the transaction authority's held
	// private key. Fails with ErrNoKey for authorities this node
	// does not control.
	SignTransaction(transaction fact.Transaction) (fact.SignedTransaction, error)

	// Sign signs an arbitrary payload with an authority's held
	// private key.
	Sign(authorityId id.Id, payload []byte) ([]byte, error)

	// PublicKey resolves any known authority's signing key.
	PublicKey(authorityId id.Id) (ed25519.PublicKey, bool)

	// Identity returns a held persona's decryption identity.
	Identity(authorityId id.Id) (*age.X25519Identity, bool)

	// Personas lists the authority ids this node holds private keys
	// for.
	Personas() []id.Id
}

// MemoryKeyStore is an in-memory KeyStore. Safe for concurrent use.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	pairs   map[id.Id]*KeyPair
	publics map[id.Id]ed25519.PublicKey
}

// NewMemoryKeyStore creates an empty key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		pairs:   make(map[id.Id]*KeyPair),
		publics: make(map[id.Id]ed25519.PublicKey),
	}
}

// AddPersona registers a locally controlled key pair.
func (s *MemoryKeyStore) AddPersona(pair *KeyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair.AuthorityId] = pair
	s.publics[pair.AuthorityId] = pair.PublicKey
}

// AddPublicKey registers a remote authority's signing key.
func (s *MemoryKeyStore) AddPublicKey(publicKey ed25519.PublicKey) id.Id {
	authorityId := id.OfPublicKey(publicKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publics[authorityId] = publicKey
	return authorityId
}

func (s *MemoryKeyStore) SignTransaction(transaction fact.Transaction) (fact.SignedTransaction, error) {
	s.mu.RLock()
	pair := s.pairs[transaction.AuthorityId]
	s.mu.RUnlock()
	if pair == nil {
		return fact.SignedTransaction{}, fmt.Errorf("%w: %s", ErrNoKey, transaction.AuthorityId)
	}
	return fact.SignTransaction(transaction, pair.PrivateKey)
}

func (s *MemoryKeyStore) Sign(authorityId id.Id, payload []byte) ([]byte, error) {
	s.mu.RLock()
	pair := s.pairs[authorityId]
	s.mu.RUnlock()
	if pair == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, authorityId)
	}
	return ed25519.Sign(pair.PrivateKey, payload), nil
}

func (s *MemoryKeyStore) PublicKey(authorityId id.Id) (ed25519.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	publicKey, ok := s.publics[authorityId]
	return publicKey, ok
}

func (s *MemoryKeyStore) Identity(authorityId id.Id) (*age.X25519Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair := s.pairs[authorityId]
	if pair == nil {
		return nil, false
	}
	return pair.Identity, true
}

func (s *MemoryKeyStore) Personas() []id.Id {
	s.mu.RLock()
	defer s.mu.RUnlock()
	personas := make([]id.Id, 0, len(s.pairs))
	for authorityId := range s.pairs {
		personas = append(personas, authorityId)
	}
	return personas
}
