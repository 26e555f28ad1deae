// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import "strings"

// Command is a recognized chat command.
type Command int

const (
	// CommandNone marks text that is not a command. During Racing it
	// is treated as a submission attempt.
	CommandNone Command = iota
	CommandStartRace
	CommandStopRace
	CommandStats
	CommandTop
)

// ParseCommand recognizes the bot's command surface in a message body.
// Commands are the first whitespace-delimited token, case-insensitive.
func ParseCommand(body string) Command {
	token := body
	if index := strings.IndexAny(token, " \t\n"); index >= 0 {
		token = token[:index]
	}
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "!race":
		return CommandStartRace
	case "!stop":
		return CommandStopRace
	case "!stats":
		return CommandStats
	case "!top":
		return CommandTop
	default:
		return CommandNone
	}
}
