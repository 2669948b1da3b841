// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/peerlog-foundation/peerlog/lib/id"
)

// keyFile is the on-disk YAML layout. Private key material lives in
// the clear, protected only by the 0600 file mode; the file belongs
// in the node's data directory, not in shared configuration.
type keyFile struct {
	Personas []keyFilePersona `yaml:"personas"`
}

type keyFilePersona struct {
	// SigningKey is the hex Ed25519 private key (seed plus public
	// key, as crypto/ed25519 lays it out).
	SigningKey string `yaml:"signing_key"`

	// Identity is the Bech32 age X25519 identity string.
	Identity string `yaml:"identity"`
}

// LoadOrCreate reads persona keys from path, generating a single
// fresh persona and writing the file when it does not exist yet.
func LoadOrCreate(path string) (*MemoryKeyStore, error) {
	store, err := LoadFile(path)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	pair, err := Generate()
	if err != nil {
		return nil, err
	}
	store = NewMemoryKeyStore()
	store.AddPersona(pair)
	if err := SaveFile(path, store); err != nil {
		return nil, err
	}
	return store, nil
}

// LoadFile reads persona keys from path.
func LoadFile(path string) (*MemoryKeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: reading %s: %w", path, err)
	}

	var file keyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("keyring: parsing %s: %w", path, err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("keyring: %s holds no personas", path)
	}

	store := NewMemoryKeyStore()
	for i, persona := range file.Personas {
		pair, err := parsePersona(persona)
		if err != nil {
			return nil, fmt.Errorf("keyring: %s: persona %d: %w", path, i, err)
		}
		store.AddPersona(pair)
	}
	return store, nil
}

func (s *MemoryKeyStore) personaFile() keyFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var file keyFile
	for _, pair := range s.pairs {
		file.Personas = append(file.Personas, keyFilePersona{
			SigningKey: hex.EncodeToString(pair.PrivateKey),
			Identity:   pair.Identity.String(),
		})
	}
	return file
}

// SaveFile writes the store's personas to path with mode 0600. Known
// remote public keys are not persisted; those come back from the
// address book.
func SaveFile(path string, store *MemoryKeyStore) error {
	data, err := yaml.Marshal(store.personaFile())
	if err != nil {
		return fmt.Errorf("keyring: encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keyring: creating key directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("keyring: writing %s: %w", path, err)
	}
	return nil
}

func parsePersona(persona keyFilePersona) (*KeyPair, error) {
	signingKey, err := hex.DecodeString(persona.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key is %d bytes, want %d", len(signingKey), ed25519.PrivateKeySize)
	}
	identity, err := age.ParseX25519Identity(persona.Identity)
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	privateKey := ed25519.PrivateKey(signingKey)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return &KeyPair{
		AuthorityId: id.OfPublicKey(publicKey),
		PublicKey:   publicKey,
		PrivateKey:  privateKey,
		Identity:    identity,
	}, nil
}
