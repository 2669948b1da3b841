// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Comment is a text entity attached to a parent entity (a resource
// or another comment). Comments carry a denormalized pointer to the
// top-level ancestor so a whole thread can be fetched without
// walking the parent chain.
type Comment struct {
	core
}

// NewComment creates a comment under the given parent. The comment's
// own entity id is random; parentage is recorded as facts.
// topLevelParentId is the root of the thread: for a direct comment
// on a resource it equals parentId.
func NewComment(authorityId, parentId, topLevelParentId id.Id, text string) *Comment {
	comment := &Comment{core: core{
		authorityId: authorityId,
		entityId:    id.New(),
	}}
	comment.stageType(TypeComment)
	comment.setSingle(fact.ParentId, fact.IdValue(parentId))
	comment.setSingle(fact.TopLevelParentId, fact.IdValue(topLevelParentId))
	comment.setSingle(fact.Text, fact.StringValue(text))
	return comment
}

func (c *Comment) ParentId() (id.Id, bool) {
	value, ok := c.single(fact.ParentId)
	if !ok {
		return id.Id{}, false
	}
	return value.Id()
}

func (c *Comment) TopLevelParentId() (id.Id, bool) {
	value, ok := c.single(fact.TopLevelParentId)
	if !ok {
		return id.Id{}, false
	}
	return value.Id()
}

func (c *Comment) Text() (string, bool) {
	value, ok := c.single(fact.Text)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (c *Comment) SetText(text string) {
	c.setSingle(fact.Text, fact.StringValue(text))
}

func (c *Comment) Like() (bool, bool) {
	value, ok := c.single(fact.Like)
	if !ok {
		return false, false
	}
	return value.Bool()
}

func (c *Comment) SetLike(like bool) {
	c.setSingle(fact.Like, fact.BoolValue(like))
}

// AttachmentIds reference stored data blobs attached to the comment.
func (c *Comment) AttachmentIds() []id.Id {
	return idValues(c.multi(fact.AttachmentIds))
}

func (c *Comment) SetAttachmentIds(attachmentIds []id.Id) {
	c.setMulti(fact.AttachmentIds, idFactValues(attachmentIds))
}

// OriginDistance is the hop count from the authority that authored
// the thread root, used to bound propagation.
func (c *Comment) OriginDistance() (int32, bool) {
	value, ok := c.single(fact.OriginDistance)
	if !ok {
		return 0, false
	}
	return value.Int()
}

func (c *Comment) SetOriginDistance(distance int32) {
	c.setSingle(fact.OriginDistance, fact.IntValue(distance))
}

// CommentIds are derived back-references to replies. Read-only.
func (c *Comment) CommentIds() []id.Id {
	return idValues(c.multi(fact.CommentIds))
}
