// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"reflect"
	"testing"
)

type sample struct {
	Name   string         `cbor:"1,keyasint"`
	Count  int64          `cbor:"2,keyasint"`
	Nested map[string]int `cbor:"3,keyasint,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	value := sample{
		Name:  "alpha",
		Count: 42,
		Nested: map[string]int{
			"z": 26, "a": 1, "m": 13, "q": 17,
		},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Maps iterate in random order in Go; deterministic encoding must
	// produce identical bytes regardless.
	for i := 0; i < 32; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("repeated Marshal produced different bytes")
		}
	}
}

func TestRoundTrip(t *testing.T) {
	original := sample{Name: "round", Count: -7}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, sample{Name: "round", Count: -7}) {
		t.Errorf("round trip changed value: %+v", decoded)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	// A newer peer may add fields; old decoders must skip them.
	extended := struct {
		Name  string `cbor:"1,keyasint"`
		Count int64  `cbor:"2,keyasint"`
		Extra string `cbor:"9,keyasint"`
	}{Name: "fwd", Count: 1, Extra: "future"}

	data, err := Marshal(extended)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field failed: %v", err)
	}
	if decoded.Name != "fwd" || decoded.Count != 1 {
		t.Errorf("known fields lost: %+v", decoded)
	}
}

func TestAnyTargetDecodesStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type is %T, want map[string]any", decoded)
	}
	if asMap["key"] != "value" {
		t.Errorf("decoded map = %v", asMap)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	values := []sample{{Name: "one", Count: 1}, {Name: "two", Count: 2}}
	for _, value := range values {
		if err := encoder.Encode(value); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range values {
		var got sample
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("stream round trip: got %+v, want %+v", got, want)
		}
	}
}
