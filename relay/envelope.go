// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the store-and-forward message layer:
// sealed message envelopes, the per-recipient message store, the
// connection directory, and policy enforcement.
//
// A message body is sealed exactly once with a random
// XChaCha20-Poly1305 key, and that key is age-wrapped separately for
// each recipient. Broadcasting one attachment to fifty peers stores
// fifty small wrapped keys and a single sealed body, which the
// content-addressed blob store deduplicates.
package relay

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/peerlog-foundation/peerlog/lib/codec"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// messageVersion is the version byte of the signed message encoding
// and the sealed body format. Prepended to sealed bodies and fed to
// the AEAD as additional authenticated data, so tampering with it
// fails authentication.
const messageVersion uint8 = 0x01

// TransformSealed is the encryption transformation tag carried by
// envelopes whose body is sealed. An empty tag means the body is the
// plain signed-message encoding (relay control traffic addressed to
// the relay itself).
const TransformSealed = "xchacha20poly1305+age.v1"

// sealedBodyOverhead is the fixed byte overhead of a sealed body:
// version byte, XChaCha20-Poly1305 nonce, and Poly1305 tag.
const sealedBodyOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Header identifies and authenticates a message. The Id is random
// (not content-derived): resending the same body twice produces two
// distinct messages.
type Header struct {
	Id            id.Id
	FromPublicKey ed25519.PublicKey

	// Signature is the sender's Ed25519 signature over the canonical
	// encoding of (Id, FromPublicKey, Body).
	Signature []byte
}

// Message is an authenticated payload between two peers. The Body is
// opaque to the relay; peers put encoded sync requests, responses,
// and control commands in it.
type Message struct {
	Header Header
	Body   []byte
}

// wireMessage is the persisted and wire encoding of a signed message.
type wireMessage struct {
	Version   uint8  `cbor:"1,keyasint"`
	Id        id.Id  `cbor:"2,keyasint"`
	From      []byte `cbor:"3,keyasint"`
	Body      []byte `cbor:"4,keyasint"`
	Signature []byte `cbor:"5,keyasint"`
}

// signingMessage is the signed subset of wireMessage: everything but
// the signature itself.
type signingMessage struct {
	Version uint8  `cbor:"1,keyasint"`
	Id      id.Id  `cbor:"2,keyasint"`
	From    []byte `cbor:"3,keyasint"`
	Body    []byte `cbor:"4,keyasint"`
}

// NewMessage creates an unsigned message with a fresh random id.
func NewMessage(fromPublicKey ed25519.PublicKey, body []byte) Message {
	return Message{
		Header: Header{
			Id:            id.New(),
			FromPublicKey: fromPublicKey,
		},
		Body: body,
	}
}

// FromId returns the authority id of the sender, derived from the
// header public key.
func (m Message) FromId() id.Id {
	return id.OfPublicKey(m.Header.FromPublicKey)
}

func (m Message) signingBytes() ([]byte, error) {
	encoded, err := codec.Marshal(signingMessage{
		Version: messageVersion,
		Id:      m.Header.Id,
		From:    m.Header.FromPublicKey,
		Body:    m.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: encoding message for signing: %w", err)
	}
	return encoded, nil
}

// Sign signs the message with the sender's private key. The private
// key must match Header.FromPublicKey.
func (m *Message) Sign(privateKey ed25519.PrivateKey) error {
	payload, err := m.signingBytes()
	if err != nil {
		return err
	}
	m.Header.Signature = ed25519.Sign(privateKey, payload)
	return nil
}

// Verify checks the signature against the header's own public key.
// Callers must separately check that FromId matches the authority
// they expect the message from.
func (m Message) Verify() error {
	if len(m.Header.FromPublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("relay: sender public key is %d bytes, want %d",
			len(m.Header.FromPublicKey), ed25519.PublicKeySize)
	}
	payload, err := m.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(m.Header.FromPublicKey, payload, m.Header.Signature) {
		return fmt.Errorf("relay: message %s signature verification failed", m.Header.Id)
	}
	return nil
}

// Encode serializes the signed message.
func (m Message) Encode() ([]byte, error) {
	encoded, err := codec.Marshal(wireMessage{
		Version:   messageVersion,
		Id:        m.Header.Id,
		From:      m.Header.FromPublicKey,
		Body:      m.Body,
		Signature: m.Header.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: encoding message: %w", err)
	}
	return encoded, nil
}

// DecodeMessage parses a signed message and verifies its signature.
func DecodeMessage(data []byte) (Message, error) {
	var wire wireMessage
	if err := codec.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("relay: decoding message: %w", err)
	}
	if wire.Version != messageVersion {
		return Message{}, fmt.Errorf("relay: unsupported message version %d", wire.Version)
	}
	message := Message{
		Header: Header{
			Id:            wire.Id,
			FromPublicKey: wire.From,
			Signature:     wire.Signature,
		},
		Body: wire.Body,
	}
	if err := message.Verify(); err != nil {
		return Message{}, err
	}
	return message, nil
}

// SealedKey is one recipient's age-wrapped copy of the body key.
type SealedKey struct {
	RecipientId  id.Id
	EncryptedKey []byte
}

// Envelope is a sealed message addressed to one or more recipients.
// The Body is the sealed signed-message encoding; each recipient
// unwraps its own copy of the body key.
type Envelope struct {
	Recipients []SealedKey
	StorageKey StorageKey
	Body       []byte
}

// WireEnvelope is the per-recipient slice of an Envelope actually put
// on the wire: one recipient id, that recipient's wrapped key, and
// the shared body. An empty Transform means the body is plain.
type WireEnvelope struct {
	RecipientId  id.Id  `cbor:"1,keyasint"`
	Transform    string `cbor:"2,keyasint,omitempty"`
	EncryptedKey []byte `cbor:"3,keyasint,omitempty"`
	StorageKey   []byte `cbor:"4,keyasint,omitempty"`
	Body         []byte `cbor:"5,keyasint"`
}

// Recipient pairs a recipient's authority id with its age public key.
type Recipient struct {
	RecipientId id.Id
	Key         *age.X25519Recipient
}

// Seal encrypts a signed message for a set of recipients. The body is
// encrypted once under a random key; the key is wrapped per
// recipient.
func Seal(message Message, storageKey StorageKey, recipients []Recipient) (Envelope, error) {
	if len(recipients) == 0 {
		return Envelope{}, fmt.Errorf("relay: sealing message %s for zero recipients", message.Header.Id)
	}

	plaintext, err := message.Encode()
	if err != nil {
		return Envelope{}, err
	}

	bodyKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, bodyKey); err != nil {
		return Envelope{}, fmt.Errorf("relay: generating body key: %w", err)
	}

	sealed, err := sealBody(plaintext, bodyKey)
	if err != nil {
		return Envelope{}, err
	}

	envelope := Envelope{
		Recipients: make([]SealedKey, 0, len(recipients)),
		StorageKey: storageKey,
		Body:       sealed,
	}
	for _, recipient := range recipients {
		wrapped, err := wrapKey(bodyKey, recipient.Key)
		if err != nil {
			return Envelope{}, fmt.Errorf("relay: wrapping body key for %s: %w", recipient.RecipientId, err)
		}
		envelope.Recipients = append(envelope.Recipients, SealedKey{
			RecipientId:  recipient.RecipientId,
			EncryptedKey: wrapped,
		})
	}
	return envelope, nil
}

// For extracts the wire envelope for one recipient.
func (e Envelope) For(recipientId id.Id) (WireEnvelope, bool) {
	for _, sealedKey := range e.Recipients {
		if sealedKey.RecipientId == recipientId {
			return WireEnvelope{
				RecipientId:  recipientId,
				Transform:    TransformSealed,
				EncryptedKey: sealedKey.EncryptedKey,
				StorageKey:   e.StorageKey,
				Body:         e.Body,
			}, true
		}
	}
	return WireEnvelope{}, false
}

// Open decrypts a wire envelope with the recipient's identity and
// verifies the enclosed message signature. A wire envelope with no
// transform tag carries a plain signed message and needs no identity.
func Open(envelope WireEnvelope, identity *age.X25519Identity) (Message, error) {
	switch envelope.Transform {
	case "":
		return DecodeMessage(envelope.Body)
	case TransformSealed:
		return OpenBody(envelope.Body, envelope.EncryptedKey, identity)
	default:
		return Message{}, fmt.Errorf("relay: unknown envelope transform %q", envelope.Transform)
	}
}

// OpenBody decrypts a sealed body given the recipient's wrapped key
// copy, and verifies the enclosed message signature. This is the path
// for bodies retrieved from the message store, where the wrapped key
// lives in the index row and the body in the blob store.
func OpenBody(sealedBody, encryptedKey []byte, identity *age.X25519Identity) (Message, error) {
	if identity == nil {
		return Message{}, fmt.Errorf("relay: opening sealed body without an identity")
	}
	bodyKey, err := unwrapKey(encryptedKey, identity)
	if err != nil {
		return Message{}, err
	}
	plaintext, err := openBody(sealedBody, bodyKey)
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(plaintext)
}

// sealBody encrypts plaintext under the body key:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// The version byte is authenticated as AAD.
func sealBody(plaintext, bodyKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(bodyKey)
	if err != nil {
		return nil, fmt.Errorf("relay: creating body cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("relay: generating body nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, len(plaintext)+sealedBodyOverhead)
	output[0] = messageVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, []byte{messageVersion}), nil
}

// openBody reverses sealBody.
func openBody(sealedBody, bodyKey []byte) ([]byte, error) {
	if len(sealedBody) < sealedBodyOverhead {
		return nil, fmt.Errorf("relay: sealed body is %d bytes, minimum is %d", len(sealedBody), sealedBodyOverhead)
	}
	if sealedBody[0] != messageVersion {
		return nil, fmt.Errorf("relay: unsupported sealed body version %d", sealedBody[0])
	}

	aead, err := chacha20poly1305.NewX(bodyKey)
	if err != nil {
		return nil, fmt.Errorf("relay: creating body cipher: %w", err)
	}

	nonce := sealedBody[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealedBody[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{sealedBody[0]})
	if err != nil {
		return nil, fmt.Errorf("relay: opening sealed body: %w", err)
	}
	return plaintext, nil
}

// wrapKey age-encrypts the body key to one recipient.
func wrapKey(bodyKey []byte, recipient *age.X25519Recipient) ([]byte, error) {
	var wrapped bytes.Buffer
	writer, err := age.Encrypt(&wrapped, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(bodyKey); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return wrapped.Bytes(), nil
}

// unwrapKey reverses wrapKey with the recipient's identity.
func unwrapKey(encryptedKey []byte, identity *age.X25519Identity) ([]byte, error) {
	reader, err := age.Decrypt(bytes.NewReader(encryptedKey), identity)
	if err != nil {
		return nil, fmt.Errorf("relay: unwrapping body key: %w", err)
	}
	bodyKey, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("relay: reading unwrapped body key: %w", err)
	}
	if len(bodyKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("relay: unwrapped body key is %d bytes, want %d",
			len(bodyKey), chacha20poly1305.KeySize)
	}
	return bodyKey, nil
}
