// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "typit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Game.Countdown != 5*time.Second {
		t.Errorf("default countdown = %v", cfg.Game.Countdown)
	}
	if cfg.Game.LeaderboardSize != 10 {
		t.Errorf("default leaderboard size = %d", cfg.Game.LeaderboardSize)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
homeserver: https://matrix.example.org
state_dir: /tmp/typit-test
game:
  countdown: 3s
  race_timeout: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Homeserver != "https://matrix.example.org" {
		t.Errorf("homeserver = %q", cfg.Homeserver)
	}
	if cfg.Game.Countdown != 3*time.Second {
		t.Errorf("countdown = %v", cfg.Game.Countdown)
	}
	if cfg.Game.RaceTimeout != 30*time.Second {
		t.Errorf("race_timeout = %v", cfg.Game.RaceTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Game.IdleTimeout != 30*time.Minute {
		t.Errorf("idle_timeout = %v", cfg.Game.IdleTimeout)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
homeserver: https://matrix.example.org
state_dir: /tmp/typit-test
homserver_url: oops
`)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown key should fail")
	}
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	path := writeConfig(t, `
homeserver: https://matrix.example.org
state_dir: /tmp/typit-test
game:
  race_timeout: -10s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("negative race_timeout should fail")
	}
	if !strings.Contains(err.Error(), "race_timeout") {
		t.Errorf("error should name the bad field: %v", err)
	}
}

func TestDatabaseDefaultsToStateDir(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/data/typit"
	if cfg.Database() != "/data/typit/scores.db" {
		t.Errorf("Database() = %q", cfg.Database())
	}
	cfg.DatabasePath = "/elsewhere/scores.db"
	if cfg.Database() != "/elsewhere/scores.db" {
		t.Errorf("Database() override = %q", cfg.Database())
	}
}
