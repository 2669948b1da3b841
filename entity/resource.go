// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Resource is a URI-addressed entity (a web page, a file, a post)
// annotated with content metadata and personal reactions. Its entity
// id is derived from the normalized URI so every authority's facts
// about the same resource converge on one entity.
type Resource struct {
	core
}

// NewResource creates a resource entity for the given URI under the
// given authority's view.
func NewResource(authorityId id.Id, uri string) *Resource {
	resource := &Resource{core: core{
		authorityId: authorityId,
		entityId:    id.OfURI(uri),
	}}
	resource.stageType(TypeResource)
	resource.setSingle(fact.Uri, fact.StringValue(uri))
	return resource
}

func (r *Resource) Uri() (string, bool) {
	value, ok := r.single(fact.Uri)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (r *Resource) MimeType() (string, bool) {
	value, ok := r.single(fact.MimeType)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (r *Resource) SetMimeType(mimeType string) {
	r.setSingle(fact.MimeType, fact.StringValue(mimeType))
}

func (r *Resource) Name() (string, bool) {
	value, ok := r.single(fact.Name)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (r *Resource) SetName(name string) {
	r.setSingle(fact.Name, fact.StringValue(name))
}

func (r *Resource) ClearName() {
	r.clearSingle(fact.Name)
}

func (r *Resource) Description() (string, bool) {
	value, ok := r.single(fact.Description)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (r *Resource) SetDescription(description string) {
	r.setSingle(fact.Description, fact.StringValue(description))
}

func (r *Resource) ImageUri() (string, bool) {
	value, ok := r.single(fact.ImageUri)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (r *Resource) SetImageUri(uri string) {
	r.setSingle(fact.ImageUri, fact.StringValue(uri))
}

// DataIds reference stored content snapshots of the resource, in the
// order they were captured.
func (r *Resource) DataIds() []id.Id {
	return idValues(r.multi(fact.DataIds))
}

func (r *Resource) SetDataIds(dataIds []id.Id) {
	r.setMulti(fact.DataIds, idFactValues(dataIds))
}

func (r *Resource) Like() (bool, bool) {
	value, ok := r.single(fact.Like)
	if !ok {
		return false, false
	}
	return value.Bool()
}

func (r *Resource) SetLike(like bool) {
	r.setSingle(fact.Like, fact.BoolValue(like))
}

func (r *Resource) ClearLike() {
	r.clearSingle(fact.Like)
}

func (r *Resource) Rating() (float32, bool) {
	value, ok := r.single(fact.Rating)
	if !ok {
		return 0, false
	}
	return value.Float()
}

func (r *Resource) SetRating(rating float32) {
	r.setSingle(fact.Rating, fact.FloatValue(rating))
}

func (r *Resource) Tags() []string {
	var tags []string
	for _, value := range r.multi(fact.Tags) {
		if tag, ok := value.AsString(); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (r *Resource) SetTags(tags []string) {
	values := make([]fact.Value, len(tags))
	for index, tag := range tags {
		values[index] = fact.StringValue(tag)
	}
	r.setMulti(fact.Tags, values)
}

// CommentIds are the derived back-references to comments whose
// ParentId points at this resource. Read-only.
func (r *Resource) CommentIds() []id.Id {
	return idValues(r.multi(fact.CommentIds))
}

func idValues(values []fact.Value) []id.Id {
	var ids []id.Id
	for _, value := range values {
		if entityId, ok := value.Id(); ok {
			ids = append(ids, entityId)
		}
	}
	return ids
}

func idFactValues(ids []id.Id) []fact.Value {
	values := make([]fact.Value, len(ids))
	for index, entityId := range ids {
		values[index] = fact.IdValue(entityId)
	}
	return values
}
