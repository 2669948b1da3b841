// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import (
	"crypto/ed25519"
	"fmt"

	"github.com/peerlog-foundation/peerlog/lib/codec"
)

// SignedTransaction pairs a transaction with its authority's Ed25519
// signature. The signature covers the canonical encoding of the
// transaction alone; the storage envelope (compression tag, payload)
// is not signed, so re-compressing a stored transaction never
// invalidates it.
type SignedTransaction struct {
	Transaction Transaction

	// Signature is the Ed25519 signature over
	// Transaction.CanonicalEncode().
	Signature []byte

	// Compression records the format of the persisted payload.
	Compression CompressionTag
}

// wireSignedTransaction is the persisted and wire envelope.
type wireSignedTransaction struct {
	Version          uint8          `cbor:"1,keyasint"`
	Compression      uint8          `cbor:"2,keyasint"`
	UncompressedSize int64          `cbor:"3,keyasint"`
	Payload          []byte         `cbor:"4,keyasint"`
	Signature        []byte         `cbor:"5,keyasint"`
}

// SignTransaction signs a transaction and wraps it. The payload is
// compressed opportunistically: highly redundant fact batches store
// compressed, incompressible ones store plain, and the tag records
// which happened.
func SignTransaction(transaction Transaction, privateKey ed25519.PrivateKey) (SignedTransaction, error) {
	signature, err := transaction.Sign(privateKey)
	if err != nil {
		return SignedTransaction{}, err
	}

	canonical, err := transaction.CanonicalEncode()
	if err != nil {
		return SignedTransaction{}, err
	}
	_, tag := compress(canonical)

	return SignedTransaction{
		Transaction: transaction,
		Signature:   signature,
		Compression: tag,
	}, nil
}

// Verify checks the signature against the given public key.
func (s SignedTransaction) Verify(publicKey ed25519.PublicKey) error {
	return s.Transaction.Verify(publicKey, s.Signature)
}

// Encode serializes the signed transaction for persistence or the
// wire. The canonical transaction bytes are compressed per the
// recorded tag (recomputed here: the tag chosen at signing time is
// advisory and re-derived from the actual bytes).
func (s SignedTransaction) Encode() ([]byte, error) {
	canonical, err := s.Transaction.CanonicalEncode()
	if err != nil {
		return nil, err
	}

	payload, tag := compress(canonical)

	encoded, err := codec.Marshal(wireSignedTransaction{
		Version:          transactionVersion,
		Compression:      uint8(tag),
		UncompressedSize: int64(len(canonical)),
		Payload:          payload,
		Signature:        s.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("fact: encoding signed transaction: %w", err)
	}
	return encoded, nil
}

// DecodeSignedTransaction parses a signed transaction envelope. The
// payload is decompressed per the recorded tag and the embedded
// transaction id is verified against the content. The signature is
// NOT verified here: callers verify against the authority's resolved
// public key.
func DecodeSignedTransaction(data []byte) (SignedTransaction, error) {
	var wire wireSignedTransaction
	if err := codec.Unmarshal(data, &wire); err != nil {
		return SignedTransaction{}, fmt.Errorf("fact: decoding signed transaction: %w", err)
	}
	if wire.Version != transactionVersion {
		return SignedTransaction{}, fmt.Errorf("fact: unsupported signed transaction version %d", wire.Version)
	}
	if len(wire.Signature) != ed25519.SignatureSize {
		return SignedTransaction{}, fmt.Errorf("fact: signature is %d bytes, want %d",
			len(wire.Signature), ed25519.SignatureSize)
	}

	canonical, err := decompress(wire.Payload, CompressionTag(wire.Compression), int(wire.UncompressedSize))
	if err != nil {
		return SignedTransaction{}, err
	}

	transaction, err := DecodeTransaction(canonical)
	if err != nil {
		return SignedTransaction{}, err
	}

	return SignedTransaction{
		Transaction: transaction,
		Signature:   wire.Signature,
		Compression: CompressionTag(wire.Compression),
	}, nil
}
