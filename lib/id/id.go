// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package id provides the content-derived identifier type used as the
// primary key for authorities, entities, and data blobs. An Id is a
// 32-byte BLAKE3 keyed digest. The key provides domain separation:
// the same input bytes hashed in the data, URI, and public-key domains
// produce three unrelated ids, so a URI can never collide with the
// blob containing its body.
package id

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Length is the size of an Id in bytes.
const Length = 32

// Id is a 256-bit content-derived or key-derived identifier. Ids are
// totally ordered via Compare and have a stable hex text encoding.
type Id [Length]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation keys are fixed protocol constants: changing any of them
// desynchronizes every id already stored. The byte values are the
// ASCII domain name, zero-padded to 32 bytes, so they are inspectable
// in hex dumps without losing any cryptographic property.
type domainKey [Length]byte

var (
	dataDomainKey = domainKey{
		'p', 'e', 'e', 'r', 'l', 'o', 'g', '.', 'i', 'd', '.',
		'd', 'a', 't', 'a', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	uriDomainKey = domainKey{
		'p', 'e', 'e', 'r', 'l', 'o', 'g', '.', 'i', 'd', '.',
		'u', 'r', 'i', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	keyDomainKey = domainKey{
		'p', 'e', 'e', 'r', 'l', 'o', 'g', '.', 'i', 'd', '.',
		'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// OfData returns the data-domain id of the given bytes. This is the
// id of a content-addressed blob: writing the same bytes always yields
// the same id.
func OfData(data []byte) Id {
	return keyedHash(dataDomainKey, data)
}

// OfURI returns the URI-domain id of the given URI string. Used as
// the entity id of a resource so that two personas saving the same
// page address the same entity.
func OfURI(uri string) Id {
	return keyedHash(uriDomainKey, []byte(uri))
}

// OfPublicKey returns the key-domain id of an Ed25519 public key.
// This is the authority id of the identity holding the matching
// private key.
func OfPublicKey(key ed25519.PublicKey) Id {
	return keyedHash(keyDomainKey, key)
}

// New returns a random id. Used for entities that are not derived
// from content (comments, ad hoc records).
func New() Id {
	var result Id
	if _, err := rand.Read(result[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("id: reading random bytes: " + err.Error())
	}
	return result
}

// IsZero reports whether the id is the all-zero value. The zero id is
// never produced by any constructor and marks "absent" in storage
// rows and wire messages.
func (i Id) IsZero() bool {
	return i == Id{}
}

// Compare returns -1, 0, or 1 ordering ids lexicographically by byte
// value. This is the total order used for keyset pagination.
func (i Id) Compare(other Id) int {
	return bytes.Compare(i[:], other[:])
}

// String returns the canonical lowercase hex encoding.
func (i Id) String() string {
	return hex.EncodeToString(i[:])
}

// MarshalText implements encoding.TextMarshaler. Ids encode as hex
// text in CBOR, JSON, and YAML.
func (i Id) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Id) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Parse parses a 64-character hex string into an Id.
func Parse(hexString string) (Id, error) {
	var result Id
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return result, fmt.Errorf("parsing id: %w", err)
	}
	if len(decoded) != Length {
		return result, fmt.Errorf("id is %d bytes, want %d", len(decoded), Length)
	}
	copy(result[:], decoded)
	return result, nil
}

// FromBytes copies a 32-byte slice into an Id.
func FromBytes(data []byte) (Id, error) {
	var result Id
	if len(data) != Length {
		return result, fmt.Errorf("id is %d bytes, want %d", len(data), Length)
	}
	copy(result[:], data)
	return result, nil
}

// keyedHash computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedHash(key domainKey, data []byte) Id {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which domainKey
		// makes impossible.
		panic("id: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Id
	copy(result[:], hasher.Sum(nil))
	return result
}
