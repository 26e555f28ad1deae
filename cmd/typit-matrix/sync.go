// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/typit-matrix/typit/lib/clock"
	"github.com/typit-matrix/typit/messaging"
)

const (
	// syncTimeoutMs is the /sync long-poll timeout. The homeserver
	// holds the request open this long when nothing is pending.
	syncTimeoutMs = 30000

	maxSyncBackoff = 30 * time.Second
)

// buildSyncFilter returns the inline JSON filter for /sync. The bot
// only needs room messages (commands and submissions) and membership
// changes; presence, ephemeral events, and account data are noise.
func buildSyncFilter() string {
	filter := map[string]any{
		"room": map[string]any{
			"timeline": map[string]any{
				"types": []string{"m.room.message", "m.room.member"},
				"limit": 64,
			},
			"state": map[string]any{
				"types": []string{"m.room.member"},
				"lazy_load_members": true,
			},
			"ephemeral": map[string]any{
				"types": []string{},
			},
			"account_data": map[string]any{
				"types": []string{},
			},
		},
		"presence": map[string]any{
			"types": []string{},
		},
		"account_data": map[string]any{
			"types": []string{},
		},
	}
	encoded, err := json.Marshal(filter)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal sync filter: %v", err))
	}
	return string(encoded)
}

// initialSync performs the first /sync. With a restored cursor the
// since token resumes from the committed position; without one the
// response is a snapshot whose history must not be replayed as
// commands, so the caller discards it after advancing the cursor past
// it.
func initialSync(ctx context.Context, session *messaging.Session, cursor *syncCursor, filter string) (*messaging.SyncResponse, error) {
	response, err := session.Sync(ctx, messaging.SyncOptions{
		Since:  cursor.token(),
		Filter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}
	return response, nil
}

// runSyncLoop runs the incremental /sync long-poll loop until ctx is
// cancelled. Each response is flattened through the cursor and handed
// to the dispatcher; the dispatcher commits the cursor after applying
// the batch, so the since token only moves past batches that were
// fully processed. Transient errors retry with exponential backoff.
func runSyncLoop(ctx context.Context, session *messaging.Session, cursor *syncCursor, dispatcher *Dispatcher, filter string, clk clock.Clock, logger *slog.Logger) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		response, err := session.Sync(ctx, messaging.SyncOptions{
			Since:      cursor.token(),
			Timeout:    syncTimeoutMs,
			SetTimeout: true,
			Filter:     filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-clk.After(backoff):
			}
			backoff *= 2
			if backoff > maxSyncBackoff {
				backoff = maxSyncBackoff
			}
			continue
		}

		backoff = time.Second
		dispatcher.handleBatch(ctx, cursor.advance(response))
	}
}
