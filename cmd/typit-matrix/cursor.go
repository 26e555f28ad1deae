// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/typit-matrix/typit/lib/ref"
	"github.com/typit-matrix/typit/messaging"
)

// roomEvent is one unit of room activity from a sync batch: a chat
// message or a membership change, tagged with its room. Order within a
// room follows the server-assigned timeline order; order across rooms
// carries no meaning.
type roomEvent struct {
	roomID ref.RoomID
	event  messaging.Event
}

// syncBatch is the flattened form of one sync cycle, produced by
// syncCursor.advance.
type syncBatch struct {
	nextBatch string
	events    []roomEvent
	invites   []ref.RoomID
	leaves    []ref.RoomID
}

// syncCursor tracks consumption progress in the homeserver's event
// stream. advance stages the new token; only commit persists it, and
// the dispatcher commits only after the whole batch applied. A batch
// that fails is retried from the committed token, so no events are
// lost — the dispatcher's session updates tolerate the replay.
type syncCursor struct {
	file   *sessionFile
	path   string
	staged string
}

// newSyncCursor wraps the session file whose SyncToken is the
// committed cursor position.
func newSyncCursor(file *sessionFile, path string) *syncCursor {
	return &syncCursor{file: file, path: path, staged: file.SyncToken}
}

// token returns the committed position for the next sync call.
func (c *syncCursor) token() string {
	return c.file.SyncToken
}

// advance flattens one sync response into a batch and stages its
// next_batch token. Calling advance again with the same response
// produces the same batch; the cursor moves only on commit.
func (c *syncCursor) advance(response *messaging.SyncResponse) syncBatch {
	batch := syncBatch{nextBatch: response.NextBatch}

	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			batch.events = append(batch.events, roomEvent{roomID: roomID, event: event})
		}
	}
	for roomID := range response.Rooms.Invite {
		batch.invites = append(batch.invites, roomID)
	}
	for roomID := range response.Rooms.Leave {
		batch.leaves = append(batch.leaves, roomID)
	}

	c.staged = response.NextBatch
	return batch
}

// commit persists the staged token to the session file. Called by the
// dispatcher after the batch is fully applied.
func (c *syncCursor) commit() error {
	if c.staged == c.file.SyncToken {
		return nil
	}
	previous := c.file.SyncToken
	c.file.SyncToken = c.staged
	if err := c.file.save(c.path); err != nil {
		c.file.SyncToken = previous
		return fmt.Errorf("committing sync cursor: %w", err)
	}
	return nil
}
