// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadOrCreateGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "peerlog.yaml")

	first, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	personas := first.Personas()
	if len(personas) != 1 {
		t.Fatalf("fresh store holds %d personas, want 1", len(personas))
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat key file: %v", err)
		}
		if mode := info.Mode().Perm(); mode != 0o600 {
			t.Errorf("key file mode = %o, want 600", mode)
		}
	}

	second, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate reload: %v", err)
	}
	reloaded := second.Personas()
	if len(reloaded) != 1 || reloaded[0] != personas[0] {
		t.Errorf("reloaded personas = %v, want %v", reloaded, personas)
	}

	payload := []byte("same key either way")
	firstSig, err := first.Sign(personas[0], payload)
	if err != nil {
		t.Fatalf("signing with fresh store: %v", err)
	}
	secondSig, err := second.Sign(personas[0], payload)
	if err != nil {
		t.Fatalf("signing with reloaded store: %v", err)
	}
	if !bytes.Equal(firstSig, secondSig) {
		t.Error("reloaded persona signed differently")
	}
}

func TestSaveAndLoadMultiplePersonas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlog.yaml")

	store := NewMemoryKeyStore()
	for i := 0; i < 3; i++ {
		pair, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		store.AddPersona(pair)
	}
	if err := SaveFile(path, store); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got, want := len(loaded.Personas()), 3; got != want {
		t.Fatalf("loaded %d personas, want %d", got, want)
	}
	for _, authorityId := range store.Personas() {
		identity, ok := loaded.Identity(authorityId)
		if !ok {
			t.Fatalf("persona %s missing after reload", authorityId)
		}
		original, _ := store.Identity(authorityId)
		if identity.String() != original.String() {
			t.Errorf("persona %s identity changed across reload", authorityId)
		}
	}
}

func TestLoadFileRejectsCorruptKeys(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"empty file", ""},
		{"no personas", "personas: []\n"},
		{"bad hex", "personas:\n  - signing_key: zz\n    identity: AGE-SECRET-KEY-1XXXX\n"},
		{"short key", "personas:\n  - signing_key: abcd\n    identity: AGE-SECRET-KEY-1XXXX\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "peerlog.yaml")
			if err := os.WriteFile(path, []byte(tc.contents), 0o600); err != nil {
				t.Fatalf("writing key file: %v", err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Error("LoadFile succeeded, want error")
			}
		})
	}
}
