// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Package game implements the per-room typing race state machine.
//
// A Session moves through Idle, CountingDown, Racing, and Scoring. All
// transitions are driven by explicit method calls carrying the current
// time, so the package has no time source of its own and tests run
// with fixed instants. Timer-driven transitions (countdown expiry,
// race timeout) are scheduled by the caller; a generation counter on
// the session makes a stale timer fire a no-op.
//
// Sessions are not safe for concurrent use. The caller serializes
// access per room.
package game
