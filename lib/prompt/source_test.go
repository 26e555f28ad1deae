// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewListRejectsEmpty(t *testing.T) {
	if _, err := NewList(nil); err == nil {
		t.Error("empty list should fail")
	}
	if _, err := NewList([]string{"fine", "   "}); err == nil {
		t.Error("blank entry should fail")
	}
}

func TestNextNeverRepeatsImmediately(t *testing.T) {
	list, err := NewList([]string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("NewList failed: %v", err)
	}

	previous := list.Next()
	for i := 0; i < 100; i++ {
		current := list.Next()
		if current == "" {
			t.Fatal("Next returned empty prompt")
		}
		if current == previous {
			t.Fatalf("immediate repeat of %q", current)
		}
		previous = current
	}
}

func TestNextSingleEntry(t *testing.T) {
	list, err := NewList([]string{"only"})
	if err != nil {
		t.Fatalf("NewList failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := list.Next(); got != "only" {
			t.Fatalf("Next = %q", got)
		}
	}
}

func TestBuiltinNonEmpty(t *testing.T) {
	list := Builtin()
	if list.Len() == 0 {
		t.Fatal("builtin set is empty")
	}
	if list.Next() == "" {
		t.Fatal("builtin Next returned empty prompt")
	}
}

func TestLoadFileJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.jsonc")
	content := `{
		// operator-maintained race prompts
		"prompts": [
			"hello world",
			"practice makes perfect", // trailing comma tolerated
		],
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing prompt file: %v", err)
	}

	list, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if list.Len() != 2 {
		t.Fatalf("Len = %d, want 2", list.Len())
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.jsonc")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoadFileEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonc")
	if err := os.WriteFile(path, []byte(`{"prompts": []}`), 0o600); err != nil {
		t.Fatalf("writing prompt file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("empty prompt list should fail")
	}
}
