// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the typit bot.
//
// Configuration is loaded from a single YAML file specified by the
// TYPIT_CONFIG environment variable or the --config flag. There is no
// automatic discovery: missing path means built-in defaults, so a bare
// `typit-matrix --homeserver ...` run works without a config file.
// Credentials (username, password) never live in the config file —
// they come from the environment.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bot configuration.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver.
	Homeserver string `yaml:"homeserver"`

	// StateDir holds session.json, the score database, and the
	// result spool.
	StateDir string `yaml:"state_dir"`

	// DatabasePath overrides the score database location. Empty
	// means StateDir/scores.db.
	DatabasePath string `yaml:"database_path"`

	// PromptFile is an optional JSONC file with a custom prompt
	// list. Empty means the built-in prompt set.
	PromptFile string `yaml:"prompt_file"`

	// Game holds the per-room race timings.
	Game GameConfig `yaml:"game"`
}

// GameConfig holds the typing-race policy knobs. All are durations
// with defaults applied on load; none are hardcoded in game logic.
type GameConfig struct {
	// Countdown is the delay between the start command and the race
	// going live.
	Countdown time.Duration `yaml:"countdown"`

	// RaceTimeout bounds a race: when it elapses the race is scored
	// with whatever submissions arrived, so one stalled participant
	// cannot wedge the room.
	RaceTimeout time.Duration `yaml:"race_timeout"`

	// IdleTimeout is how long a room session may sit in Idle with no
	// activity before it is evicted from the registry.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxEventAge is the stale-event guard: events older than this
	// on arrival are ignored for command handling, so a restart does
	// not replay old commands.
	MaxEventAge time.Duration `yaml:"max_event_age"`

	// LeaderboardSize is the number of entries shown by the top
	// command.
	LeaderboardSize int `yaml:"leaderboard_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Homeserver: "http://localhost:8008",
		StateDir:   "/var/lib/typit",
		Game: GameConfig{
			Countdown:       5 * time.Second,
			RaceTimeout:     2 * time.Minute,
			IdleTimeout:     30 * time.Minute,
			MaxEventAge:     time.Minute,
			LeaderboardSize: 10,
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults. An
// empty path returns the defaults unchanged. Unknown keys are an
// error so that typos fail loudly instead of silently using defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c Config) Validate() error {
	if c.Homeserver == "" {
		return fmt.Errorf("homeserver is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Game.Countdown <= 0 {
		return fmt.Errorf("game.countdown must be positive, got %v", c.Game.Countdown)
	}
	if c.Game.RaceTimeout <= 0 {
		return fmt.Errorf("game.race_timeout must be positive, got %v", c.Game.RaceTimeout)
	}
	if c.Game.IdleTimeout <= 0 {
		return fmt.Errorf("game.idle_timeout must be positive, got %v", c.Game.IdleTimeout)
	}
	if c.Game.MaxEventAge < 0 {
		return fmt.Errorf("game.max_event_age must not be negative, got %v", c.Game.MaxEventAge)
	}
	if c.Game.LeaderboardSize <= 0 {
		return fmt.Errorf("game.leaderboard_size must be positive, got %d", c.Game.LeaderboardSize)
	}
	return nil
}

// Database returns the effective score database path.
func (c Config) Database() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return c.StateDir + "/scores.db"
}
