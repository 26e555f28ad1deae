// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifiers.
//
// Room IDs, user IDs, and event IDs arrive as opaque strings from the
// homeserver. This package parses them into validated value types at
// the boundary so that the rest of the code never passes a raw string
// where a room ID is meant, and never confuses a user ID with a room
// ID. Once constructed, a ref is immutable; the zero value of every
// type is "unset" and reports true from IsZero.
//
// JSON marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler, which also makes the types usable as map
// keys in /sync response decoding.
package ref
