// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import "testing"

// TestAttributeOrdinalsNeverChange pins every attribute to its wire
// ordinal. These are protocol constants: renumbering one silently
// corrupts every stored transaction, so this table is intentionally
// exhaustive and hard-coded.
func TestAttributeOrdinalsNeverChange(t *testing.T) {
	tests := []struct {
		attribute Attribute
		ordinal   uint8
	}{
		{Type, 0},
		{MimeType, 1},
		{Uri, 2},
		{DataIds, 3},
		{PublicKey, 4},
		{Name, 5},
		{Description, 6},
		{Text, 7},
		{ImageUri, 8},
		{Tags, 9},
		{Trust, 10},
		{Like, 11},
		{Rating, 12},
		{ParentId, 13},
		{CommentIds, 14},
		{NetworkToken, 15},
		{AttachmentIds, 16},
		{TopLevelParentId, 17},
		{OriginDistance, 18},
	}

	if len(tests) != len(Attributes()) {
		t.Fatalf("enumeration has %d attributes, test table has %d",
			len(Attributes()), len(tests))
	}

	for _, tt := range tests {
		t.Run(tt.attribute.Name, func(t *testing.T) {
			if tt.attribute.Ordinal != tt.ordinal {
				t.Errorf("%s ordinal = %d, want %d",
					tt.attribute.Name, tt.attribute.Ordinal, tt.ordinal)
			}
		})
	}
}

func TestAttributesIndexMatchesOrdinal(t *testing.T) {
	for index, attribute := range Attributes() {
		if int(attribute.Ordinal) != index {
			t.Errorf("attribute %s at index %d has ordinal %d",
				attribute.Name, index, attribute.Ordinal)
		}
	}
}

func TestByOrdinal(t *testing.T) {
	attribute, err := ByOrdinal(9)
	if err != nil {
		t.Fatalf("ByOrdinal(9) failed: %v", err)
	}
	if attribute != Tags {
		t.Errorf("ByOrdinal(9) = %s, want tags", attribute.Name)
	}

	if _, err := ByOrdinal(200); err == nil {
		t.Error("ByOrdinal(200) should fail")
	}
}

func TestByName(t *testing.T) {
	attribute, err := ByName("commentIds")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	if attribute != CommentIds {
		t.Errorf("ByName(commentIds) = %s", attribute.Name)
	}

	if _, err := ByName("noSuchAttribute"); err == nil {
		t.Error("ByName with unknown name should fail")
	}
}

func TestComputedAndCardinalityClasses(t *testing.T) {
	if !CommentIds.Computed {
		t.Error("commentIds must be computed")
	}
	for _, attribute := range Attributes() {
		if attribute.Computed && attribute != CommentIds {
			t.Errorf("unexpected computed attribute %s", attribute.Name)
		}
	}

	if Tags.Cardinality != MultiValueSet {
		t.Error("tags must be a multi-value set")
	}
	if DataIds.Cardinality != MultiValueList {
		t.Error("dataIds must be a multi-value list")
	}
	if Name.Cardinality != Single {
		t.Error("name must be single-value")
	}
	if !Tags.IsMultiValue() || Name.IsMultiValue() {
		t.Error("IsMultiValue misclassifies")
	}
}
