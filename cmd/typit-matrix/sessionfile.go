// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/typit-matrix/typit/lib/ref"
	"github.com/typit-matrix/typit/lib/secret"
)

// sessionFile is the persisted Matrix session: credentials from login
// plus the sync token the cursor manager last committed. Restoring it
// on start avoids a fresh login and resumes the event stream where the
// previous run left off.
type sessionFile struct {
	HomeserverURL string     `json:"homeserver_url"`
	UserID        ref.UserID `json:"user_id"`
	DeviceID      string     `json:"device_id,omitempty"`
	AccessToken   string     `json:"access_token"`
	SyncToken     string     `json:"sync_token,omitempty"`
}

func sessionFilePath(stateDir string) string {
	return filepath.Join(stateDir, "session.json")
}

// loadSessionFile reads and parses session.json. Returns (nil, nil)
// when the file does not exist. The raw file bytes are zeroed after
// parsing; the access token still passes through the heap briefly
// until it lands in an mlock'd buffer.
func loadSessionFile(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer secret.Zero(data)

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file.AccessToken == "" {
		return nil, fmt.Errorf("%s has no access token", path)
	}
	return &file, nil
}

// save writes the session file atomically with owner-only permissions.
func (f *sessionFile) save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session file: %w", err)
	}
	defer secret.Zero(data)

	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", temp, err)
	}
	if err := os.Rename(temp, path); err != nil {
		return fmt.Errorf("renaming session file: %w", err)
	}
	return nil
}
