// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package id

import (
	"crypto/ed25519"
	"testing"
)

func TestDerivationVectors(t *testing.T) {
	// Pinned digests for each derivation domain. These are protocol
	// constants: ids are stored and exchanged between peers, so any
	// change to the domain keys or the hashing breaks every existing
	// store. The 2048-byte case spans multiple BLAKE3 chunks.
	longData := make([]byte, 2048)
	for index := range longData {
		longData[index] = byte(index % 251)
	}
	publicKey := ed25519.PublicKey(make([]byte, ed25519.PublicKeySize))
	for index := range publicKey {
		publicKey[index] = byte(index)
	}

	tests := []struct {
		name string
		got  Id
		want string
	}{
		{
			"data empty",
			OfData(nil),
			"b52ed02d8daa44bde34c1b1eb672814007b4ab29fbfa6c2e16a94c80e629c744",
		},
		{
			"data short",
			OfData([]byte("the quick brown fox")),
			"10651aa6cf912215c144096231980904cf924f47cd70d42ae4f68c4e5a54014a",
		},
		{
			"data multi-chunk",
			OfData(longData),
			"27a62114292fa07430fe566bb4bca774faf8a94cb235e677944c9098f4638c74",
		},
		{
			"uri",
			OfURI("https://example.com/page"),
			"16a08fda05a9932aecff7880c308b94d48ecfc4dc2e3764b0432b75d2050734f",
		},
		{
			"public key",
			OfPublicKey(publicKey),
			"36e92f745dba83b2977195cb25f72b3c93e7ad61e7de3ed9a9d00ca06949fd0c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got.String() != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestDerivationIsStable(t *testing.T) {
	// The derivation functions are pure: the same input must always
	// produce the same id, across calls and across processes. A
	// change here desynchronizes every stored id.
	data := []byte("the quick brown fox")
	uri := "https://example.com/page"
	key := ed25519.PublicKey(make([]byte, ed25519.PublicKeySize))
	for index := range key {
		key[index] = byte(index)
	}

	if OfData(data) != OfData(data) {
		t.Error("OfData is not deterministic")
	}
	if OfURI(uri) != OfURI(uri) {
		t.Error("OfURI is not deterministic")
	}
	if OfPublicKey(key) != OfPublicKey(key) {
		t.Error("OfPublicKey is not deterministic")
	}
}

func TestDomainSeparation(t *testing.T) {
	// The same bytes hashed in different domains must produce
	// unrelated ids: a URI id can never collide with the data id of
	// the bytes spelling that URI.
	input := []byte("https://example.com/page/0000001")

	dataId := OfData(input)
	uriId := OfURI(string(input))
	keyId := OfPublicKey(ed25519.PublicKey(input[:ed25519.PublicKeySize]))

	if dataId == uriId {
		t.Error("data and URI domains collide")
	}
	if dataId == keyId {
		t.Error("data and key domains collide")
	}
	if uriId == keyId {
		t.Error("URI and key domains collide")
	}
}

func TestDistinctInputsDistinctIds(t *testing.T) {
	if OfData([]byte("a")) == OfData([]byte("b")) {
		t.Error("distinct inputs produced the same id")
	}
	if OfURI("https://a.example") == OfURI("https://b.example") {
		t.Error("distinct URIs produced the same id")
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := OfData([]byte("round trip"))

	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != original {
		t.Errorf("Parse(String()) = %s, want %s", parsed, original)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"not hex", "zz" + OfData([]byte("x")).String()[2:]},
		{"too long", OfData([]byte("x")).String() + "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Errorf("Parse(%q) should fail", tt.input)
			}
		})
	}
}

func TestTextMarshalRoundTrip(t *testing.T) {
	original := OfURI("https://example.com")

	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var decoded Id
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if decoded != original {
		t.Error("text round trip changed the id")
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[Id]bool)
	for i := 0; i < 64; i++ {
		generated := New()
		if generated.IsZero() {
			t.Fatal("New returned the zero id")
		}
		if seen[generated] {
			t.Fatal("New returned a duplicate id")
		}
		seen[generated] = true
	}
}

func TestCompare(t *testing.T) {
	low := Id{}
	high := Id{}
	high[0] = 1

	if low.Compare(high) != -1 {
		t.Error("low should order before high")
	}
	if high.Compare(low) != 1 {
		t.Error("high should order after low")
	}
	if low.Compare(low) != 0 {
		t.Error("id should compare equal to itself")
	}
}

func TestIsZero(t *testing.T) {
	var zero Id
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if OfData(nil).IsZero() {
		t.Error("derived id should not be zero")
	}
}

func TestFromBytes(t *testing.T) {
	original := OfData([]byte("bytes"))

	copied, err := FromBytes(original[:])
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	if copied != original {
		t.Error("FromBytes changed the id")
	}

	if _, err := FromBytes(original[:16]); err == nil {
		t.Error("FromBytes should reject short input")
	}
}
