// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import "fmt"

// Cardinality classifies how many current values an attribute holds.
type Cardinality uint8

const (
	// Single attributes hold at most one current value; a later Add
	// replaces the earlier one.
	Single Cardinality = 0

	// MultiValueSet attributes hold an unordered set of values.
	MultiValueSet Cardinality = 1

	// MultiValueList attributes hold an ordered list of values;
	// replay preserves insertion order of the surviving values.
	MultiValueList Cardinality = 2
)

// Attribute is one entry of the closed, versioned attribute
// enumeration. Attributes are identified on the wire by ordinal;
// ordinals are protocol constants and must never be renumbered
// (regression-tested). Equality is by ordinal.
type Attribute struct {
	// Ordinal is the stable wire identifier.
	Ordinal uint8

	// Name is the diagnostic name, stable but never on the wire.
	Name string

	// ValueType is the type every value of this attribute must carry.
	ValueType ValueType

	// Cardinality classifies single vs. multi-value semantics.
	Cardinality Cardinality

	// Computed marks attributes derived from other entities' facts
	// (comment and attachment back-references). Computed facts are
	// never signed or persisted as authored facts; they are
	// recomputed on every load.
	Computed bool
}

// The core attribute enumeration.
var (
	Type             = Attribute{Ordinal: 0, Name: "type", ValueType: TypeString}
	MimeType         = Attribute{Ordinal: 1, Name: "mimeType", ValueType: TypeString}
	Uri              = Attribute{Ordinal: 2, Name: "uri", ValueType: TypeString}
	DataIds          = Attribute{Ordinal: 3, Name: "dataIds", ValueType: TypeId, Cardinality: MultiValueList}
	PublicKey        = Attribute{Ordinal: 4, Name: "publicKey", ValueType: TypePublicKey}
	Name             = Attribute{Ordinal: 5, Name: "name", ValueType: TypeString}
	Description      = Attribute{Ordinal: 6, Name: "description", ValueType: TypeString}
	Text             = Attribute{Ordinal: 7, Name: "text", ValueType: TypeString}
	ImageUri         = Attribute{Ordinal: 8, Name: "imageUri", ValueType: TypeString}
	Tags             = Attribute{Ordinal: 9, Name: "tags", ValueType: TypeString, Cardinality: MultiValueSet}
	Trust            = Attribute{Ordinal: 10, Name: "trust", ValueType: TypeFloat}
	Like             = Attribute{Ordinal: 11, Name: "like", ValueType: TypeBool}
	Rating           = Attribute{Ordinal: 12, Name: "rating", ValueType: TypeFloat}
	ParentId         = Attribute{Ordinal: 13, Name: "parentId", ValueType: TypeId}
	CommentIds       = Attribute{Ordinal: 14, Name: "commentIds", ValueType: TypeId, Cardinality: MultiValueList, Computed: true}
	NetworkToken     = Attribute{Ordinal: 15, Name: "networkToken", ValueType: TypeBytes}
	AttachmentIds    = Attribute{Ordinal: 16, Name: "attachmentIds", ValueType: TypeId, Cardinality: MultiValueList}
	TopLevelParentId = Attribute{Ordinal: 17, Name: "topLevelParentId", ValueType: TypeId}
	OriginDistance   = Attribute{Ordinal: 18, Name: "originDistance", ValueType: TypeInt}
)

// attributes lists the enumeration in ordinal order. The index of
// each entry equals its ordinal (checked by tests).
var attributes = []Attribute{
	Type, MimeType, Uri, DataIds, PublicKey, Name, Description, Text,
	ImageUri, Tags, Trust, Like, Rating, ParentId, CommentIds,
	NetworkToken, AttachmentIds, TopLevelParentId, OriginDistance,
}

// attributesByName indexes the enumeration for ByName lookups.
var attributesByName = func() map[string]Attribute {
	byName := make(map[string]Attribute, len(attributes))
	for _, attribute := range attributes {
		byName[attribute.Name] = attribute
	}
	return byName
}()

// Attributes returns the full enumeration in ordinal order. The
// returned slice is shared; callers must not modify it.
func Attributes() []Attribute {
	return attributes
}

// ByOrdinal resolves an attribute from its wire ordinal.
func ByOrdinal(ordinal uint8) (Attribute, error) {
	if int(ordinal) >= len(attributes) {
		return Attribute{}, fmt.Errorf("fact: unknown attribute ordinal %d", ordinal)
	}
	return attributes[ordinal], nil
}

// ByName resolves an attribute from its diagnostic name.
func ByName(name string) (Attribute, error) {
	attribute, ok := attributesByName[name]
	if !ok {
		return Attribute{}, fmt.Errorf("fact: unknown attribute %q", name)
	}
	return attribute, nil
}

// String returns the attribute name.
func (a Attribute) String() string { return a.Name }

// IsMultiValue reports whether the attribute holds more than one
// current value.
func (a Attribute) IsMultiValue() bool {
	return a.Cardinality != Single
}
