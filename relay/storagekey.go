// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// StorageKeyLength is the size of a non-empty storage key in bytes.
const StorageKeyLength = 8

// storageKeyInfo is the HKDF info parameter for derived storage keys.
// A protocol constant: changing it re-keys every derived message
// class and breaks supersession of already-queued messages.
var storageKeyInfo = []byte("peerlog.relay.storagekey.v1")

// StorageKey controls relay queue deduplication. Messages sharing
// (from, to, StorageKey) supersede each other in the store: the most
// recent wins. An empty key marks a message as live-delivery only and
// the store refuses it.
type StorageKey []byte

// NoStorageKey marks a message for live delivery only, never queued.
var NoStorageKey = StorageKey(nil)

// IsNone reports whether the key is empty, i.e. the message must not
// be persisted.
func (k StorageKey) IsNone() bool {
	return len(k) == 0
}

// String returns the hex encoding, or "none" for the empty key.
func (k StorageKey) String() string {
	if k.IsNone() {
		return "none"
	}
	return hex.EncodeToString(k)
}

// UniqueStorageKey returns a fresh random key. Every message sent
// under a unique key queues independently.
func UniqueStorageKey() StorageKey {
	key := make(StorageKey, StorageKeyLength)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("relay: reading random storage key: " + err.Error())
	}
	return key
}

// DerivedStorageKey derives a deterministic key from the given parts
// via HKDF-SHA256. Two messages derived from the same parts share a
// key and supersede each other, which is how "only the latest profile
// update survives in the queue" classes of message work. Parts are
// length-framed so ("ab","c") and ("a","bc") derive different keys.
func DerivedStorageKey(parts ...[]byte) StorageKey {
	var material []byte
	var frame [4]byte
	for _, part := range parts {
		binary.BigEndian.PutUint32(frame[:], uint32(len(part)))
		material = append(material, frame[:]...)
		material = append(material, part...)
	}

	key := make(StorageKey, StorageKeyLength)
	reader := hkdf.New(sha256.New, material, nil, storageKeyInfo)
	if _, err := io.ReadFull(reader, key); err != nil {
		panic(fmt.Sprintf("relay: deriving storage key: %v", err))
	}
	return key
}
