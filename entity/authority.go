// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"crypto/ed25519"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// activeTag marks the authority the local node currently publishes
// as. It lives in the Tags set so activation survives replay like any
// other fact.
const activeTag = "active"

// Authority represents an identity: a signing key plus profile
// metadata. The entity id of an authority is derived from its public
// key, so AuthorityId == EntityId for self-describing authorities.
type Authority struct {
	core
}

// NewAuthority creates an authority entity for the given signing key
// under the given authority's view. The public key is staged
// immediately; profile fields are staged through the setters.
func NewAuthority(authorityId id.Id, publicKey ed25519.PublicKey) *Authority {
	authority := &Authority{core: core{
		authorityId: authorityId,
		entityId:    id.OfPublicKey(publicKey),
	}}
	authority.stageType(TypeAuthority)
	authority.setSingle(fact.PublicKey, fact.PublicKeyValue(publicKey))
	return authority
}

func (a *Authority) PublicKey() (ed25519.PublicKey, bool) {
	value, ok := a.single(fact.PublicKey)
	if !ok {
		return nil, false
	}
	key, ok := value.PublicKey()
	return key, ok
}

func (a *Authority) Name() (string, bool) {
	value, ok := a.single(fact.Name)
	if !ok {
		return "", false
	}
	return value.AsString()
}

// SetName sets the display name; an empty name clears it.
func (a *Authority) SetName(name string) {
	if name == "" {
		a.clearSingle(fact.Name)
		return
	}
	a.setSingle(fact.Name, fact.StringValue(name))
}

func (a *Authority) Description() (string, bool) {
	value, ok := a.single(fact.Description)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (a *Authority) SetDescription(description string) {
	if description == "" {
		a.clearSingle(fact.Description)
		return
	}
	a.setSingle(fact.Description, fact.StringValue(description))
}

func (a *Authority) ImageUri() (string, bool) {
	value, ok := a.single(fact.ImageUri)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (a *Authority) SetImageUri(uri string) {
	if uri == "" {
		a.clearSingle(fact.ImageUri)
		return
	}
	a.setSingle(fact.ImageUri, fact.StringValue(uri))
}

// Address is the URI this authority is reachable at, either a relay
// endpoint or a direct peer address.
func (a *Authority) Address() (string, bool) {
	value, ok := a.single(fact.Uri)
	if !ok {
		return "", false
	}
	return value.AsString()
}

func (a *Authority) SetAddress(address string) {
	if address == "" {
		a.clearSingle(fact.Uri)
		return
	}
	a.setSingle(fact.Uri, fact.StringValue(address))
}

// Trust is the local trust weight assigned to this authority,
// defaulting to zero when unset.
func (a *Authority) Trust() float32 {
	value, ok := a.single(fact.Trust)
	if !ok {
		return 0
	}
	trust, _ := value.Float()
	return trust
}

func (a *Authority) SetTrust(trust float32) {
	a.setSingle(fact.Trust, fact.FloatValue(trust))
}

// NetworkToken is an opaque credential relays may require before
// accepting messages on behalf of this authority.
func (a *Authority) NetworkToken() ([]byte, bool) {
	value, ok := a.single(fact.NetworkToken)
	if !ok {
		return nil, false
	}
	return value.Bytes()
}

func (a *Authority) SetNetworkToken(token []byte) {
	a.setSingle(fact.NetworkToken, fact.BytesValue(token))
}

func (a *Authority) Tags() []string {
	var tags []string
	for _, value := range a.multi(fact.Tags) {
		if tag, ok := value.AsString(); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (a *Authority) SetTags(tags []string) {
	values := make([]fact.Value, len(tags))
	for index, tag := range tags {
		values[index] = fact.StringValue(tag)
	}
	a.setMulti(fact.Tags, values)
}

// IsActive reports whether this authority is the local publishing
// identity.
func (a *Authority) IsActive() bool {
	for _, value := range a.multi(fact.Tags) {
		if tag, ok := value.AsString(); ok && tag == activeTag {
			return true
		}
	}
	return false
}

func (a *Authority) SetActive(active bool) {
	if active {
		a.addMulti(fact.Tags, fact.StringValue(activeTag))
		return
	}
	if a.IsActive() {
		a.stage(fact.Fact{
			AuthorityId: a.authorityId,
			EntityId:    a.entityId,
			Attribute:   fact.Tags,
			Value:       fact.StringValue(activeTag),
			Operation:   fact.Retract,
		})
	}
}

// ActivationRecorded reports whether the fact history contains any
// activation decision (an Add or Retract of the active tag). An
// explicit deactivation counts: the decision was made, even though
// replay shows the authority inactive.
func ActivationRecorded(facts []fact.Fact) bool {
	for _, f := range facts {
		if f.Attribute == fact.Tags && f.Value == fact.StringValue(activeTag) {
			return true
		}
	}
	return false
}
