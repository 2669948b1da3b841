// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import (
	"crypto/ed25519"
	"testing"

	"github.com/peerlog-foundation/peerlog/lib/id"
)

func testPublicKey() ed25519.PublicKey {
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	for index := range key {
		key[index] = byte(index * 3)
	}
	return key
}

func TestValueEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"empty", Empty},
		{"bool true", BoolValue(true)},
		{"bool false", BoolValue(false)},
		{"int", IntValue(-12345)},
		{"long", LongValue(1 << 40)},
		{"float", FloatValue(3.25)},
		{"double", DoubleValue(-2.5e17)},
		{"string", StringValue("héllo world")},
		{"string zero length", StringValue("")},
		{"bytes", BytesValue([]byte{0, 1, 2, 255})},
		{"bytes zero length", BytesValue(nil)},
		{"id", IdValue(id.OfData([]byte("payload")))},
		{"public key", PublicKeyValue(testPublicKey())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeValue(tt.value.Encode())
			if err != nil {
				t.Fatalf("DecodeValue failed: %v", err)
			}
			if decoded != tt.value {
				t.Errorf("round trip changed value: %s -> %s", tt.value, decoded)
			}
		})
	}
}

func TestEmptyDistinctFromZeroLengthString(t *testing.T) {
	if Empty == StringValue("") {
		t.Error("Empty must not equal the zero-length string value")
	}
	if Empty == BytesValue(nil) {
		t.Error("Empty must not equal the zero-length bytes value")
	}
	if !Empty.IsEmpty() {
		t.Error("Empty.IsEmpty() = false")
	}
	if StringValue("").IsEmpty() {
		t.Error("zero-length string reports IsEmpty")
	}

	// Empty must survive encode/decode as itself.
	decoded, err := DecodeValue(Empty.Encode())
	if err != nil {
		t.Fatalf("DecodeValue(Empty) failed: %v", err)
	}
	if !decoded.IsEmpty() {
		t.Error("Empty did not survive a round trip")
	}
}

func TestValueTypedAccessors(t *testing.T) {
	if got, ok := BoolValue(true).Bool(); !ok || !got {
		t.Error("Bool accessor failed")
	}
	if got, ok := IntValue(-7).Int(); !ok || got != -7 {
		t.Errorf("Int accessor = %d, %t", got, ok)
	}
	if got, ok := LongValue(1 << 40).Long(); !ok || got != 1<<40 {
		t.Errorf("Long accessor = %d, %t", got, ok)
	}
	if got, ok := FloatValue(1.5).Float(); !ok || got != 1.5 {
		t.Errorf("Float accessor = %g, %t", got, ok)
	}
	if got, ok := DoubleValue(-0.25).Double(); !ok || got != -0.25 {
		t.Errorf("Double accessor = %g, %t", got, ok)
	}
	if got, ok := StringValue("s").AsString(); !ok || got != "s" {
		t.Errorf("AsString accessor = %q, %t", got, ok)
	}

	wantId := id.OfURI("https://example.com")
	if got, ok := IdValue(wantId).Id(); !ok || got != wantId {
		t.Error("Id accessor failed")
	}

	// Wrong-type access reports failure, not a zero value success.
	if _, ok := BoolValue(true).Int(); ok {
		t.Error("Int accessor accepted a bool value")
	}
	if _, ok := StringValue("x").Id(); ok {
		t.Error("Id accessor accepted a string value")
	}
}

func TestDecodeValueRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty input", nil},
		{"unknown tag", []byte{0xEE, 1, 2}},
		{"bool wrong length", []byte{byte(TypeBool)}},
		{"int wrong length", []byte{byte(TypeInt), 1, 2}},
		{"id wrong length", []byte{byte(TypeId), 1, 2, 3}},
		{"empty with payload", []byte{byte(TypeEmpty), 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeValue(tt.input); err == nil {
				t.Errorf("DecodeValue(%v) should fail", tt.input)
			}
		})
	}
}

func TestValueCBORRoundTrip(t *testing.T) {
	original := IdValue(id.OfData([]byte("cbor")))

	encoded, err := original.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR failed: %v", err)
	}

	var decoded Value
	if err := decoded.UnmarshalCBOR(encoded); err != nil {
		t.Fatalf("UnmarshalCBOR failed: %v", err)
	}
	if decoded != original {
		t.Error("CBOR round trip changed value")
	}
}
