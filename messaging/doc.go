// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a minimal Matrix client-server API client.
//
// It covers exactly the surface the typing bot consumes: password
// login and token restore, long-poll /sync, sending room messages,
// joining and leaving rooms, and member/profile lookups. It is not a
// general Matrix SDK — no end-to-end encryption, no media, no state
// event authoring.
//
// Two types share the work:
//
//   - Client wraps the homeserver base URL and HTTP transport and
//     performs unauthenticated calls (login).
//   - Session wraps a Client with an access token for authenticated
//     calls. The token lives in an mlock'd secret buffer; call Close
//     when done.
//
// Server error responses decode into *MatrixError, which callers
// inspect with errors.As or IsMatrixError. Transport-level failures
// (connect, timeout) surface as wrapped net/http errors, letting the
// dispatcher distinguish retryable transport faults from protocol
// faults.
package messaging
