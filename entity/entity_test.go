// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

func testAuthority(t *testing.T) id.Id {
	t.Helper()
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return id.OfPublicKey(public)
}

func addFact(authorityId, entityId id.Id, attribute fact.Attribute, value fact.Value, ordinal int64) fact.Fact {
	return fact.Fact{
		AuthorityId:        authorityId,
		EntityId:           entityId,
		Attribute:          attribute,
		Value:              value,
		Operation:          fact.Add,
		EpochSecond:        1700000000 + ordinal,
		TransactionOrdinal: ordinal,
	}
}

func retractFact(authorityId, entityId id.Id, attribute fact.Attribute, value fact.Value, ordinal int64) fact.Fact {
	f := addFact(authorityId, entityId, attribute, value, ordinal)
	f.Operation = fact.Retract
	return f
}

func TestCurrentFactsReplay(t *testing.T) {
	authorityId := testAuthority(t)
	entityId := id.OfURI("https://example.com/article")

	history := []fact.Fact{
		addFact(authorityId, entityId, fact.Uri, fact.StringValue("https://example.com/article"), 0),
		addFact(authorityId, entityId, fact.Text, fact.StringValue("first draft"), 1),
		retractFact(authorityId, entityId, fact.Text, fact.StringValue("first draft"), 2),
		addFact(authorityId, entityId, fact.Like, fact.BoolValue(true), 3),
		addFact(authorityId, entityId, fact.Like, fact.BoolValue(false), 4),
		addFact(authorityId, entityId, fact.Name, fact.StringValue("Article"), 5),
		addFact(authorityId, entityId, fact.Description, fact.StringValue("about things"), 6),
		retractFact(authorityId, entityId, fact.Name, fact.StringValue("Article"), 7),
		addFact(authorityId, entityId, fact.Name, fact.StringValue("Article, revised"), 8),
	}

	current := CurrentFacts(history)
	if len(current) != 4 {
		t.Fatalf("got %d current facts, want 4: %v", len(current), current)
	}

	want := map[fact.Attribute]fact.Value{
		fact.Uri:         fact.StringValue("https://example.com/article"),
		fact.Name:        fact.StringValue("Article, revised"),
		fact.Description: fact.StringValue("about things"),
		fact.Like:        fact.BoolValue(false),
	}
	for _, f := range current {
		wantValue, ok := want[f.Attribute]
		if !ok {
			t.Errorf("unexpected current fact on %s", f.Attribute.Name)
			continue
		}
		if f.Value != wantValue {
			t.Errorf("%s: got %s, want %s", f.Attribute.Name, f.Value, wantValue)
		}
		delete(want, f.Attribute)
	}
	for attribute := range want {
		t.Errorf("missing current fact on %s", attribute.Name)
	}
}

func TestCurrentFactsMultiValueSet(t *testing.T) {
	authorityId := testAuthority(t)
	entityId := id.OfURI("https://example.com/tagged")

	history := []fact.Fact{
		addFact(authorityId, entityId, fact.Tags, fact.StringValue("v1"), 0),
		addFact(authorityId, entityId, fact.Tags, fact.StringValue("v2"), 1),
		addFact(authorityId, entityId, fact.Tags, fact.StringValue("v3"), 2),
		retractFact(authorityId, entityId, fact.Tags, fact.StringValue("v3"), 3),
	}

	current := CurrentFacts(history)
	if len(current) != 2 {
		t.Fatalf("got %d current facts, want 2: %v", len(current), current)
	}
	if got, _ := current[0].Value.AsString(); got != "v1" {
		t.Errorf("first tag: got %q, want v1", got)
	}
	if got, _ := current[1].Value.AsString(); got != "v2" {
		t.Errorf("second tag: got %q, want v2", got)
	}
}

func TestCurrentFactsMultiValueReAddMovesToEnd(t *testing.T) {
	authorityId := testAuthority(t)
	entityId := id.OfURI("https://example.com/reorder")

	history := []fact.Fact{
		addFact(authorityId, entityId, fact.Tags, fact.StringValue("a"), 0),
		addFact(authorityId, entityId, fact.Tags, fact.StringValue("b"), 1),
		retractFact(authorityId, entityId, fact.Tags, fact.StringValue("a"), 2),
		addFact(authorityId, entityId, fact.Tags, fact.StringValue("a"), 3),
	}

	current := CurrentFacts(history)
	if len(current) != 2 {
		t.Fatalf("got %d current facts, want 2", len(current))
	}
	if got, _ := current[0].Value.AsString(); got != "b" {
		t.Errorf("first tag: got %q, want b", got)
	}
	if got, _ := current[1].Value.AsString(); got != "a" {
		t.Errorf("second tag: got %q, want a", got)
	}
}

func TestFromFactsFullyRetracted(t *testing.T) {
	authorityId := testAuthority(t)
	entityId := id.OfURI("https://example.com/gone")

	history := []fact.Fact{
		addFact(authorityId, entityId, fact.Uri, fact.StringValue("https://example.com/gone"), 0),
		retractFact(authorityId, entityId, fact.Uri, fact.StringValue("https://example.com/gone"), 1),
	}
	if entity := FromFacts(history, nil); entity != nil {
		t.Fatalf("fully retracted entity should be nil, got %T", entity)
	}
}

func TestFromFactsTypedDispatch(t *testing.T) {
	authorityId := testAuthority(t)

	tests := []struct {
		name     string
		typeName string
		want     string
	}{
		{"authority", TypeAuthority, "*entity.Authority"},
		{"resource", TypeResource, "*entity.Resource"},
		{"comment", TypeComment, "*entity.Comment"},
		{"data", TypeData, "*entity.Data"},
		{"unknown", "widget", "*entity.Raw"},
		{"untyped", "", "*entity.Raw"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			entityId := id.New()
			history := []fact.Fact{
				addFact(authorityId, entityId, fact.Name, fact.StringValue("anything"), 0),
			}
			if test.typeName != "" {
				history = append(history,
					addFact(authorityId, entityId, fact.Type, fact.StringValue(test.typeName), 0))
			}
			entity := FromFacts(history, nil)
			if entity == nil {
				t.Fatal("got nil entity")
			}
			if got := typeNameOf(entity); got != test.want {
				t.Errorf("got %s, want %s", got, test.want)
			}
		})
	}
}

func typeNameOf(entity Entity) string {
	switch entity.(type) {
	case *Authority:
		return "*entity.Authority"
	case *Resource:
		return "*entity.Resource"
	case *Comment:
		return "*entity.Comment"
	case *Data:
		return "*entity.Data"
	case *Raw:
		return "*entity.Raw"
	default:
		return "unknown"
	}
}

func TestResourceCommitRoundTrip(t *testing.T) {
	authorityId := testAuthority(t)

	resource := NewResource(authorityId, "https://example.com/page")
	resource.SetName("Page")
	resource.SetLike(true)
	resource.SetTags([]string{"reading", "later"})

	committed := resource.CommitFacts(1700000000, 1)
	if len(committed) == 0 {
		t.Fatal("no committed facts")
	}
	for _, f := range committed {
		if f.TransactionOrdinal != 1 || f.EpochSecond != 1700000000 {
			t.Errorf("fact not stamped: %s", f)
		}
	}
	if pending := resource.PendingFacts(); len(pending) != 0 {
		t.Fatalf("pending facts survived commit: %v", pending)
	}

	rebuilt := FromFacts(committed, nil)
	restored, ok := rebuilt.(*Resource)
	if !ok {
		t.Fatalf("rebuilt entity is %T, want *Resource", rebuilt)
	}
	if uri, _ := restored.Uri(); uri != "https://example.com/page" {
		t.Errorf("uri: got %q", uri)
	}
	if name, _ := restored.Name(); name != "Page" {
		t.Errorf("name: got %q", name)
	}
	if like, ok := restored.Like(); !ok || !like {
		t.Errorf("like: got %v (present %v)", like, ok)
	}
	tags := restored.Tags()
	if len(tags) != 2 || tags[0] != "reading" || tags[1] != "later" {
		t.Errorf("tags: got %v", tags)
	}
	if restored.LoadedOrdinal() != 1 {
		t.Errorf("loaded ordinal: got %d, want 1", restored.LoadedOrdinal())
	}
}

func TestNoOpMutationStagesNothing(t *testing.T) {
	authorityId := testAuthority(t)

	resource := NewResource(authorityId, "https://example.com/stable")
	resource.SetName("Stable")
	committed := resource.CommitFacts(1700000000, 1)

	reloaded := FromFacts(committed, nil).(*Resource)
	reloaded.SetName("Stable")
	if pending := reloaded.PendingFacts(); len(pending) != 0 {
		t.Fatalf("re-setting current value staged facts: %v", pending)
	}
	reloaded.SetTags(nil)
	if pending := reloaded.PendingFacts(); len(pending) != 0 {
		t.Fatalf("clearing empty set staged facts: %v", pending)
	}
	if got := reloaded.CommitFacts(1700000001, 2); got != nil {
		t.Fatalf("commit with nothing pending returned %v", got)
	}
}

func TestSetMultiStagesMinimalDelta(t *testing.T) {
	authorityId := testAuthority(t)

	resource := NewResource(authorityId, "https://example.com/delta")
	resource.SetTags([]string{"a", "b", "c"})
	committed := resource.CommitFacts(1700000000, 1)

	reloaded := FromFacts(committed, nil).(*Resource)
	reloaded.SetTags([]string{"a", "c", "d"})

	pending := reloaded.PendingFacts()
	if len(pending) != 2 {
		t.Fatalf("got %d pending facts, want 2 (retract b, add d): %v", len(pending), pending)
	}
	var sawRetractB, sawAddD bool
	for _, f := range pending {
		tag, _ := f.Value.AsString()
		switch {
		case f.Operation == fact.Retract && tag == "b":
			sawRetractB = true
		case f.Operation == fact.Add && tag == "d":
			sawAddD = true
		default:
			t.Errorf("unexpected pending fact: %s", f)
		}
	}
	if !sawRetractB || !sawAddD {
		t.Errorf("deltas missing: retract-b=%v add-d=%v", sawRetractB, sawAddD)
	}
}

func TestRepeatedMutationBeforeCommitCollapses(t *testing.T) {
	authorityId := testAuthority(t)

	resource := NewResource(authorityId, "https://example.com/churn")
	resource.SetName("one")
	resource.SetName("two")
	resource.SetName("three")

	var nameFacts int
	for _, f := range resource.PendingFacts() {
		if f.Attribute == fact.Name {
			nameFacts++
			if got, _ := f.Value.AsString(); got != "three" {
				t.Errorf("pending name: got %q, want three", got)
			}
		}
	}
	if nameFacts != 1 {
		t.Errorf("got %d pending name facts, want 1", nameFacts)
	}
}

func TestAuthorityActivation(t *testing.T) {
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	authorityId := id.OfPublicKey(public)

	authority := NewAuthority(authorityId, public)
	if authority.EntityId() != authorityId {
		t.Fatal("self-describing authority must use key-derived entity id")
	}
	if authority.IsActive() {
		t.Fatal("fresh authority should be inactive")
	}
	authority.SetActive(true)
	if !authority.IsActive() {
		t.Fatal("activation not visible before commit")
	}

	rebuilt := FromFacts(authority.CommitFacts(1700000000, 1), nil).(*Authority)
	if !rebuilt.IsActive() {
		t.Fatal("activation lost across commit")
	}
	key, ok := rebuilt.PublicKey()
	if !ok || !key.Equal(public) {
		t.Fatal("public key lost across commit")
	}

	rebuilt.SetActive(false)
	again := FromFacts(append(rebuilt.CurrentFacts(), rebuilt.CommitFacts(1700000001, 2)...), nil)
	if again.(*Authority).IsActive() {
		t.Fatal("deactivation lost across commit")
	}
}

func TestComputeCommentFacts(t *testing.T) {
	authorityId := testAuthority(t)
	parentId := id.OfURI("https://example.com/thread")
	otherId := id.OfURI("https://example.com/other")

	childA := id.New()
	childB := id.New()
	childC := id.New()

	childFacts := map[id.Id][]fact.Fact{
		// Attached at ordinal 3.
		childA: {
			addFact(authorityId, childA, fact.Type, fact.StringValue(TypeComment), 3),
			addFact(authorityId, childA, fact.ParentId, fact.IdValue(parentId), 3),
			addFact(authorityId, childA, fact.Text, fact.StringValue("first"), 3),
		},
		// Attached earlier, at ordinal 2.
		childB: {
			addFact(authorityId, childB, fact.Type, fact.StringValue(TypeComment), 2),
			addFact(authorityId, childB, fact.ParentId, fact.IdValue(parentId), 2),
		},
		// Reparented away; must not contribute.
		childC: {
			addFact(authorityId, childC, fact.ParentId, fact.IdValue(parentId), 1),
			retractFact(authorityId, childC, fact.ParentId, fact.IdValue(parentId), 4),
			addFact(authorityId, childC, fact.ParentId, fact.IdValue(otherId), 4),
		},
	}

	computed := ComputeCommentFacts(authorityId, parentId, childFacts)
	if len(computed) != 2 {
		t.Fatalf("got %d computed facts, want 2: %v", len(computed), computed)
	}
	if got, _ := computed[0].Value.Id(); got != childB {
		t.Errorf("first back-reference should be the earliest attached child")
	}
	if got, _ := computed[1].Value.Id(); got != childA {
		t.Errorf("second back-reference should be the later attached child")
	}
	for _, f := range computed {
		if f.Attribute != fact.CommentIds || f.EntityId != parentId {
			t.Errorf("malformed computed fact: %s", f)
		}
	}
}

func TestComputedFactsVisibleButNotCommitted(t *testing.T) {
	authorityId := testAuthority(t)
	parentId := id.OfURI("https://example.com/visible")
	childId := id.New()

	authored := []fact.Fact{
		addFact(authorityId, parentId, fact.Type, fact.StringValue(TypeResource), 1),
		addFact(authorityId, parentId, fact.Uri, fact.StringValue("https://example.com/visible"), 1),
	}
	computed := ComputeCommentFacts(authorityId, parentId, map[id.Id][]fact.Fact{
		childId: {addFact(authorityId, childId, fact.ParentId, fact.IdValue(parentId), 2)},
	})

	resource := FromFacts(authored, computed).(*Resource)
	commentIds := resource.CommentIds()
	if len(commentIds) != 1 || commentIds[0] != childId {
		t.Fatalf("comment ids: got %v, want [%s]", commentIds, childId)
	}

	resource.SetName("touched")
	for _, f := range resource.CommitFacts(1700000000, 3) {
		if f.Attribute.Computed {
			t.Fatalf("computed fact leaked into commit: %s", f)
		}
	}
	for _, f := range resource.CurrentFacts() {
		if f.Attribute.Computed {
			t.Fatalf("computed fact leaked into current facts: %s", f)
		}
	}
}

func TestCommentParentage(t *testing.T) {
	authorityId := testAuthority(t)
	rootId := id.OfURI("https://example.com/root")

	comment := NewComment(authorityId, rootId, rootId, "hello")
	rebuilt := FromFacts(comment.CommitFacts(1700000000, 1), nil).(*Comment)

	if parent, _ := rebuilt.ParentId(); parent != rootId {
		t.Errorf("parent: got %s, want %s", parent, rootId)
	}
	if top, _ := rebuilt.TopLevelParentId(); top != rootId {
		t.Errorf("top-level parent: got %s, want %s", top, rootId)
	}
	if text, _ := rebuilt.Text(); text != "hello" {
		t.Errorf("text: got %q", text)
	}
}
