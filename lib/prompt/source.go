// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt supplies the text participants race to type.
//
// A Source returns one non-empty prompt per race. The built-in set
// covers short plain-ASCII sentences; operators can replace it with a
// JSONC file (JSON with comments, so prompt lists can be annotated)
// via the prompt_file config key.
package prompt

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
)

// Source yields prompts for new races.
type Source interface {
	// Next returns a non-empty prompt.
	Next() string
}

// List is a Source drawing uniformly from a fixed set, never returning
// the same prompt twice in a row when more than one is available.
// Safe for concurrent use.
type List struct {
	mu      sync.Mutex
	prompts []string
	last    int
}

// NewList builds a List from the given prompts. Entries are
// whitespace-trimmed; empty entries are rejected rather than skipped
// so a broken prompt file fails loudly.
func NewList(prompts []string) (*List, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("prompt: empty prompt list")
	}
	cleaned := make([]string, len(prompts))
	for i, p := range prompts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			return nil, fmt.Errorf("prompt: entry %d is empty", i)
		}
		cleaned[i] = trimmed
	}
	return &List{prompts: cleaned, last: -1}, nil
}

// Builtin returns the default prompt set.
func Builtin() *List {
	list, err := NewList(builtinPrompts)
	if err != nil {
		panic("prompt: builtin set invalid: " + err.Error())
	}
	return list
}

// LoadFile reads a JSONC prompt file of the form:
//
//	{
//	    // lines starting with // are comments
//	    "prompts": ["first prompt", "second prompt"]
//	}
func LoadFile(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: reading %s: %w", path, err)
	}

	var parsed struct {
		Prompts []string `json:"prompts"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return nil, fmt.Errorf("prompt: parsing %s: %w", path, err)
	}

	list, err := NewList(parsed.Prompts)
	if err != nil {
		return nil, fmt.Errorf("prompt: %s: %w", path, err)
	}
	return list, nil
}

// Next returns a random prompt, avoiding an immediate repeat.
func (l *List) Next() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.prompts) == 1 {
		l.last = 0
		return l.prompts[0]
	}

	index := rand.Intn(len(l.prompts))
	if index == l.last {
		index = (index + 1) % len(l.prompts)
	}
	l.last = index
	return l.prompts[index]
}

// Len returns the number of prompts in the list.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prompts)
}

var builtinPrompts = []string{
	"the quick brown fox jumps over the lazy dog",
	"pack my box with five dozen liquor jugs",
	"sphinx of black quartz judge my vow",
	"how vexingly quick daft zebras jump",
	"the five boxing wizards jump quickly",
	"jackdaws love my big sphinx of quartz",
	"a wizard's job is to vex chumps quickly in fog",
	"amazingly few discotheques provide jukeboxes",
	"crazy fredrick bought many very exquisite opal jewels",
	"we promptly judged antique ivory buckles for the next prize",
}
