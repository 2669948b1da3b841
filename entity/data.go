// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Data describes a stored content blob. The entity id is the
// content hash of the blob itself, so the description and the bytes
// are bound together without a separate reference.
type Data struct {
	core
}

// NewData creates a data entity describing the blob with the given
// content id.
func NewData(authorityId, dataId id.Id, mimeType string) *Data {
	data := &Data{core: core{
		authorityId: authorityId,
		entityId:    dataId,
	}}
	data.stageType(TypeData)
	data.setSingle(fact.MimeType, fact.StringValue(mimeType))
	return data
}

func (d *Data) MimeType() (string, bool) {
	value, ok := d.single(fact.MimeType)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (d *Data) Name() (string, bool) {
	value, ok := d.single(fact.Name)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (d *Data) SetName(name string) {
	d.setSingle(fact.Name, fact.StringValue(name))
}

// Uri records where the blob originally came from, when known.
func (d *Data) Uri() (string, bool) {
	value, ok := d.single(fact.Uri)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (d *Data) SetUri(uri string) {
	d.setSingle(fact.Uri, fact.StringValue(uri))
}
