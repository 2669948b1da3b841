// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package fact defines the atomic unit of state in a peerlog store:
// typed values, the closed attribute enumeration, facts, and the
// signed transactions that batch them. Everything in this package has
// a canonical byte encoding: the same logical value always encodes
// to identical bytes, which is what transaction signatures are
// computed over.
package fact

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/peerlog-foundation/peerlog/lib/id"
)

// ValueType tags the variant held by a Value. The numeric values are
// protocol constants: they appear as the leading byte of every
// encoded value and must never be renumbered.
type ValueType uint8

const (
	// TypeEmpty is the retraction sentinel. It marks "no value" in
	// retraction bookkeeping and is distinct from an empty string or
	// zero-length byte value.
	TypeEmpty ValueType = 0

	TypeBool      ValueType = 1
	TypeInt       ValueType = 2
	TypeLong      ValueType = 3
	TypeFloat     ValueType = 4
	TypeDouble    ValueType = 5
	TypeString    ValueType = 6
	TypeBytes     ValueType = 7
	TypeId        ValueType = 8
	TypePublicKey ValueType = 9
)

// String returns the human-readable name of a value type.
func (t ValueType) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeId:
		return "id"
	case TypePublicKey:
		return "publickey"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Value is a self-describing typed value. The payload is held as an
// immutable string so Value (and therefore Fact) is comparable and
// usable as a map key. Construct values with the typed constructors;
// the zero Value is Empty.
type Value struct {
	kind ValueType

	// payload is the canonical big-endian body for the kind. Empty
	// only for TypeEmpty: scalar payloads always have their full
	// width, so a Bool payload is exactly one byte.
	payload string
}

// Empty is the retraction sentinel value.
var Empty = Value{}

// BoolValue returns a boolean value.
func BoolValue(v bool) Value {
	if v {
		return Value{kind: TypeBool, payload: "\x01"}
	}
	return Value{kind: TypeBool, payload: "\x00"}
}

// IntValue returns a 32-bit integer value.
func IntValue(v int32) Value {
	var buffer [4]byte
	binary.BigEndian.PutUint32(buffer[:], uint32(v))
	return Value{kind: TypeInt, payload: string(buffer[:])}
}

// LongValue returns a 64-bit integer value.
func LongValue(v int64) Value {
	var buffer [8]byte
	binary.BigEndian.PutUint64(buffer[:], uint64(v))
	return Value{kind: TypeLong, payload: string(buffer[:])}
}

// FloatValue returns a 32-bit float value.
func FloatValue(v float32) Value {
	var buffer [4]byte
	binary.BigEndian.PutUint32(buffer[:], math.Float32bits(v))
	return Value{kind: TypeFloat, payload: string(buffer[:])}
}

// DoubleValue returns a 64-bit float value.
func DoubleValue(v float64) Value {
	var buffer [8]byte
	binary.BigEndian.PutUint64(buffer[:], math.Float64bits(v))
	return Value{kind: TypeDouble, payload: string(buffer[:])}
}

// StringValue returns a string value.
func StringValue(v string) Value {
	return Value{kind: TypeString, payload: v}
}

// BytesValue returns a byte-array value. The bytes are copied.
func BytesValue(v []byte) Value {
	return Value{kind: TypeBytes, payload: string(v)}
}

// IdValue returns an id value.
func IdValue(v id.Id) Value {
	return Value{kind: TypeId, payload: string(v[:])}
}

// PublicKeyValue returns an Ed25519 public key value.
func PublicKeyValue(v ed25519.PublicKey) Value {
	return Value{kind: TypePublicKey, payload: string(v)}
}

// Type returns the variant tag.
func (v Value) Type() ValueType { return v.kind }

// IsEmpty reports whether the value is the retraction sentinel.
func (v Value) IsEmpty() bool { return v.kind == TypeEmpty }

// Bool returns the boolean payload. Second return is false when the
// value holds a different type.
func (v Value) Bool() (bool, bool) {
	if v.kind != TypeBool || len(v.payload) != 1 {
		return false, false
	}
	return v.payload[0] != 0, true
}

// Int returns the 32-bit integer payload.
func (v Value) Int() (int32, bool) {
	if v.kind != TypeInt || len(v.payload) != 4 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32([]byte(v.payload))), true
}

// Long returns the 64-bit integer payload.
func (v Value) Long() (int64, bool) {
	if v.kind != TypeLong || len(v.payload) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64([]byte(v.payload))), true
}

// Float returns the 32-bit float payload.
func (v Value) Float() (float32, bool) {
	if v.kind != TypeFloat || len(v.payload) != 4 {
		return 0, false
	}
	return math.Float32frombits(binary.BigEndian.Uint32([]byte(v.payload))), true
}

// Double returns the 64-bit float payload.
func (v Value) Double() (float64, bool) {
	if v.kind != TypeDouble || len(v.payload) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64([]byte(v.payload))), true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.kind != TypeString {
		return "", false
	}
	return v.payload, true
}

// Bytes returns a copy of the byte payload.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != TypeBytes {
		return nil, false
	}
	return []byte(v.payload), true
}

// Id returns the id payload.
func (v Value) Id() (id.Id, bool) {
	if v.kind != TypeId || len(v.payload) != id.Length {
		return id.Id{}, false
	}
	parsed, err := id.FromBytes([]byte(v.payload))
	if err != nil {
		return id.Id{}, false
	}
	return parsed, true
}

// PublicKey returns the Ed25519 public key payload.
func (v Value) PublicKey() (ed25519.PublicKey, bool) {
	if v.kind != TypePublicKey || len(v.payload) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey([]byte(v.payload)), true
}

// String implements fmt.Stringer for logs and test failures. It never
// prints raw payload bytes for binary kinds.
func (v Value) String() string {
	switch v.kind {
	case TypeEmpty:
		return "empty"
	case TypeBool:
		b, _ := v.Bool()
		return fmt.Sprintf("bool(%t)", b)
	case TypeInt:
		n, _ := v.Int()
		return fmt.Sprintf("int(%d)", n)
	case TypeLong:
		n, _ := v.Long()
		return fmt.Sprintf("long(%d)", n)
	case TypeFloat:
		f, _ := v.Float()
		return fmt.Sprintf("float(%g)", f)
	case TypeDouble:
		f, _ := v.Double()
		return fmt.Sprintf("double(%g)", f)
	case TypeString:
		return fmt.Sprintf("string(%q)", v.payload)
	case TypeBytes:
		return fmt.Sprintf("bytes(%d)", len(v.payload))
	case TypeId:
		parsed, _ := v.Id()
		return fmt.Sprintf("id(%s)", parsed)
	case TypePublicKey:
		return fmt.Sprintf("publickey(%d)", len(v.payload))
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v.kind))
	}
}

// Encode returns the canonical byte encoding: one type tag byte
// followed by the big-endian payload. This is the representation
// stored in fact rows and embedded in signed transaction bodies.
func (v Value) Encode() []byte {
	encoded := make([]byte, 1+len(v.payload))
	encoded[0] = byte(v.kind)
	copy(encoded[1:], v.payload)
	return encoded
}

// DecodeValue parses a canonical value encoding.
func DecodeValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, fmt.Errorf("fact: decoding value: empty input")
	}

	kind := ValueType(data[0])
	payload := data[1:]

	var wantLength int
	switch kind {
	case TypeEmpty:
		wantLength = 0
	case TypeBool:
		wantLength = 1
	case TypeInt, TypeFloat:
		wantLength = 4
	case TypeLong, TypeDouble:
		wantLength = 8
	case TypeId:
		wantLength = id.Length
	case TypePublicKey:
		wantLength = ed25519.PublicKeySize
	case TypeString, TypeBytes:
		wantLength = -1 // variable
	default:
		return Value{}, fmt.Errorf("fact: decoding value: unknown type tag %d", data[0])
	}

	if wantLength >= 0 && len(payload) != wantLength {
		return Value{}, fmt.Errorf("fact: decoding %s value: payload is %d bytes, want %d",
			kind, len(payload), wantLength)
	}

	return Value{kind: kind, payload: string(payload)}, nil
}

// MarshalCBOR encodes the value as a CBOR byte string holding the
// canonical encoding, keeping the CBOR form exactly as deterministic
// as the byte form.
func (v Value) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(v.Encode())
}

// UnmarshalCBOR decodes a CBOR byte string produced by MarshalCBOR.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("fact: decoding value wrapper: %w", err)
	}
	decoded, err := DecodeValue(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
