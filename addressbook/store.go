// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package addressbook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/peerlog-foundation/peerlog/entity"
	"github.com/peerlog-foundation/peerlog/entitystore"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/keyring"
)

// Book is the entity-store-backed address book. Entries are read
// from and written to authority entities; the keyring decides which
// entries are personas.
type Book struct {
	store  *entitystore.Store
	keys   keyring.KeyStore
	logger *slog.Logger

	mu       sync.Mutex
	handlers []UpdateHandler
}

// Config holds the parameters for opening an address book.
type Config struct {
	// Store is the entity store backing the book. Required.
	Store *entitystore.Store

	// Keys identifies local personas and signs their entries.
	// Required.
	Keys keyring.KeyStore

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Open creates the address book view and applies the single-persona
// activation rule: a node holding exactly one persona key with no
// active persona recorded activates that persona, so stores written
// before activation tracking migrate cleanly.
func Open(ctx context.Context, cfg Config) (*Book, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("addressbook: Store is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("addressbook: Keys is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	book := &Book{
		store:  cfg.Store,
		keys:   cfg.Keys,
		logger: cfg.Logger,
	}
	if err := book.activateSolePersona(ctx); err != nil {
		return nil, err
	}
	return book, nil
}

func (b *Book) activateSolePersona(ctx context.Context) error {
	personas := b.keys.Personas()
	if len(personas) != 1 {
		return nil
	}
	personaId := personas[0]

	loaded, err := b.store.GetEntity(ctx, personaId, personaId)
	if err != nil {
		return fmt.Errorf("addressbook: loading persona: %w", err)
	}

	var authority *entity.Authority
	if loaded == nil {
		publicKey, ok := b.keys.PublicKey(personaId)
		if !ok {
			return fmt.Errorf("addressbook: persona %s has no public key", personaId)
		}
		authority = entity.NewAuthority(personaId, publicKey)
	} else {
		var isAuthority bool
		authority, isAuthority = loaded.(*entity.Authority)
		if !isAuthority {
			return fmt.Errorf("addressbook: persona entity %s is not an authority", personaId)
		}
		// Auto-activation happens once. A recorded activation
		// decision, including an explicit deactivation, stands.
		history, err := b.store.GetFacts(ctx, []id.Id{personaId}, []id.Id{personaId})
		if err != nil {
			return fmt.Errorf("addressbook: loading persona history: %w", err)
		}
		if entity.ActivationRecorded(history) {
			return nil
		}
	}

	authority.SetActive(true)
	if _, _, err := b.store.UpdateEntities(ctx, authority); err != nil {
		return fmt.Errorf("addressbook: activating sole persona: %w", err)
	}
	b.logger.Info("sole persona activated", "persona", personaId)
	return nil
}

// OnUpdate registers a handler called after every address book
// change. Handler failures are logged and isolated: one failing
// handler never blocks the others or the triggering operation.
func (b *Book) OnUpdate(handler UpdateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// notify calls every handler with the entry set captured before the
// change and the set read now, after it.
func (b *Book) notify(ctx context.Context, previous []Entry) {
	current, err := b.GetEntries(ctx)
	if err != nil {
		b.logger.Error("address book notification skipped", "error", err)
		return
	}

	b.mu.Lock()
	handlers := append([]UpdateHandler(nil), b.handlers...)
	b.mu.Unlock()

	for index, handler := range handlers {
		if err := handler(previous, current); err != nil {
			b.logger.Error("address book update handler failed",
				"handler", index,
				"error", err,
			)
		}
	}
}

// GetEntries returns every address book entry across all personas.
func (b *Book) GetEntries(ctx context.Context) ([]Entry, error) {
	entities, err := b.store.GetEntities(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("addressbook: loading entries: %w", err)
	}

	var entries []Entry
	for _, loaded := range entities {
		authority, ok := loaded.(*entity.Authority)
		if !ok {
			continue
		}
		entries = append(entries, entryOf(authority))
	}
	return entries, nil
}

// GetEntry returns one persona's entry for a peer.
func (b *Book) GetEntry(ctx context.Context, personaId, entityId id.Id) (Entry, bool, error) {
	loaded, err := b.store.GetEntity(ctx, personaId, entityId)
	if err != nil {
		return Entry{}, false, fmt.Errorf("addressbook: loading entry: %w", err)
	}
	authority, ok := loaded.(*entity.Authority)
	if !ok {
		return Entry{}, false, nil
	}
	return entryOf(authority), true, nil
}

// GetPersonaEntries returns the entries for authorities whose
// private keys this node holds, with the key material attached.
func (b *Book) GetPersonaEntries(ctx context.Context) ([]PersonaEntry, error) {
	entries, err := b.GetEntries(ctx)
	if err != nil {
		return nil, err
	}

	var personas []PersonaEntry
	for _, entry := range entries {
		// A persona's self entry lives under its own authority id.
		if entry.PersonaId != entry.EntityId {
			continue
		}
		identity, held := b.keys.Identity(entry.EntityId)
		if !held {
			continue
		}
		personas = append(personas, PersonaEntry{
			Entry: entry,
			Keys: &keyring.KeyPair{
				AuthorityId: entry.EntityId,
				PublicKey:   entry.PublicKey,
				Identity:    identity,
			},
		})
	}
	return personas, nil
}

// ActivePersona returns the entry of the currently active persona.
func (b *Book) ActivePersona(ctx context.Context) (PersonaEntry, bool, error) {
	personas, err := b.GetPersonaEntries(ctx)
	if err != nil {
		return PersonaEntry{}, false, err
	}
	for _, persona := range personas {
		if persona.IsActive {
			return persona, true, nil
		}
	}
	return PersonaEntry{}, false, nil
}

// SetEntry writes an entry through to its authority entity and
// notifies update handlers. The entry replaces the stored record
// wholesale: an empty field clears the previously stored value.
func (b *Book) SetEntry(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	previous, err := b.GetEntries(ctx)
	if err != nil {
		return fmt.Errorf("addressbook: loading entries: %w", err)
	}

	loaded, err := b.store.GetEntity(ctx, entry.PersonaId, entry.EntityId)
	if err != nil {
		return fmt.Errorf("addressbook: loading entry: %w", err)
	}

	var authority *entity.Authority
	if existing, ok := loaded.(*entity.Authority); ok {
		authority = existing
	} else {
		authority = entity.NewAuthority(entry.PersonaId, entry.PublicKey)
	}

	authority.SetName(entry.Name)
	authority.SetAddress(entry.Address)
	authority.SetImageUri(entry.ImageUri)
	authority.SetActive(entry.IsActive)

	if _, _, err := b.store.UpdateEntities(ctx, authority); err != nil {
		return fmt.Errorf("addressbook: storing entry: %w", err)
	}

	b.notify(ctx, previous)
	return nil
}

// RemoveEntry deletes a persona's record of a peer and notifies
// update handlers.
func (b *Book) RemoveEntry(ctx context.Context, personaId, entityId id.Id) error {
	previous, err := b.GetEntries(ctx)
	if err != nil {
		return fmt.Errorf("addressbook: loading entries: %w", err)
	}

	if err := b.store.DeleteEntities(ctx, personaId, entityId); err != nil {
		return fmt.Errorf("addressbook: removing entry: %w", err)
	}
	b.notify(ctx, previous)
	return nil
}

func entryOf(authority *entity.Authority) Entry {
	entry := Entry{
		PersonaId: authority.AuthorityId(),
		EntityId:  authority.EntityId(),
		IsActive:  authority.IsActive(),
	}
	entry.Name, _ = authority.Name()
	entry.PublicKey, _ = authority.PublicKey()
	entry.Address, _ = authority.Address()
	entry.ImageUri, _ = authority.ImageUri()
	return entry
}
