// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/typit-matrix/typit/game"
	"github.com/typit-matrix/typit/lib/clock"
	"github.com/typit-matrix/typit/lib/config"
	"github.com/typit-matrix/typit/lib/prompt"
	"github.com/typit-matrix/typit/lib/ref"
	"github.com/typit-matrix/typit/messaging"
	"github.com/typit-matrix/typit/store"
)

// sendTimeout bounds outgoing messages triggered by timer fires, which
// have no sync-loop context of their own.
const sendTimeout = 10 * time.Second

// Dispatcher binds the pieces: it consumes sync batches, routes each
// event to its room's game session, schedules the countdown and race
// timeout timers, sends outgoing notices, persists results, and
// commits the sync cursor after each fully-applied batch.
//
// The mutex serializes all session access: batch application from the
// sync loop and timer fires from clock goroutines. Per-room events are
// applied in server order because the sync loop is single-threaded.
type Dispatcher struct {
	matrix  *messaging.Session
	store   *store.Store
	prompts prompt.Source
	clock   clock.Clock
	game    config.GameConfig
	cursor  *syncCursor
	logger  *slog.Logger
	selfID  ref.UserID

	// baseCtx is the daemon's run context, used by timer callbacks
	// for outgoing sends. Set once in Run before any timer exists.
	baseCtx context.Context

	mu    sync.Mutex
	rooms map[ref.RoomID]*game.Session

	// names caches display name lookups for summaries.
	names map[ref.UserID]string
}

// NewDispatcher creates a dispatcher. The cursor carries the restored
// sync position.
func NewDispatcher(matrix *messaging.Session, scoreStore *store.Store, prompts prompt.Source, clk clock.Clock, gameConfig config.GameConfig, cursor *syncCursor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		matrix:  matrix,
		store:   scoreStore,
		prompts: prompts,
		clock:   clk,
		game:    gameConfig,
		cursor:  cursor,
		logger:  logger,
		selfID:  matrix.UserID(),
		baseCtx: context.Background(),
		rooms:   make(map[ref.RoomID]*game.Session),
		names:   make(map[ref.UserID]string),
	}
}

// getOrCreate returns the room's session, materializing an idle one on
// first lookup. Caller holds d.mu.
func (d *Dispatcher) getOrCreate(roomID ref.RoomID) *game.Session {
	session, ok := d.rooms[roomID]
	if !ok {
		session = game.NewSession(roomID)
		session.Touch(d.clock.Now())
		d.rooms[roomID] = session
		d.logger.Info("room session created", "room_id", roomID)
	}
	return session
}

// remove drops a room's session. Caller holds d.mu.
func (d *Dispatcher) remove(roomID ref.RoomID) {
	if _, ok := d.rooms[roomID]; ok {
		delete(d.rooms, roomID)
		d.logger.Info("room session removed", "room_id", roomID)
	}
}

// handleBatch applies one sync batch: accept invites, drop left rooms,
// route events, evict idle sessions, then commit the cursor. The
// cursor is committed only when the whole batch applied, so a crash
// mid-batch replays it — session updates are idempotent under that
// replay because stale events are guarded and finished races reject
// late submissions.
func (d *Dispatcher) handleBatch(ctx context.Context, batch syncBatch) {
	d.acceptInvites(ctx, batch.invites)

	d.mu.Lock()
	for _, roomID := range batch.leaves {
		d.remove(roomID)
	}
	for _, entry := range batch.events {
		d.handleEvent(ctx, entry.roomID, entry.event)
	}
	d.evictIdle()
	d.mu.Unlock()

	if err := d.cursor.commit(); err != nil {
		d.logger.Error("cursor commit failed, batch will replay", "error", err)
	}
}

// acceptInvites joins every room the bot has been invited to. A failed
// join is retried on the next batch that still shows the invite.
func (d *Dispatcher) acceptInvites(ctx context.Context, invites []ref.RoomID) {
	for _, roomID := range invites {
		d.logger.Info("accepting room invite", "room_id", roomID)
		if _, err := d.matrix.JoinRoom(ctx, roomID); err != nil {
			d.logger.Error("failed to accept invite", "room_id", roomID, "error", err)
		}
	}
}

// handleEvent routes one room event. Caller holds d.mu.
func (d *Dispatcher) handleEvent(ctx context.Context, roomID ref.RoomID, event messaging.Event) {
	// The bot's own messages are never commands or submissions.
	if event.Sender == d.selfID {
		return
	}

	if membership, ok := event.Membership(); ok {
		d.handleMembership(roomID, event, membership)
		return
	}

	msgType, body, ok := event.MessageBody()
	if !ok || msgType != "m.text" {
		return
	}

	// Stale guard: a restart must not replay old commands.
	if d.game.MaxEventAge > 0 && event.Unsigned != nil {
		age := time.Duration(event.Unsigned.Age) * time.Millisecond
		if age > d.game.MaxEventAge {
			d.logger.Debug("stale event skipped",
				"room_id", roomID,
				"sender", event.Sender,
				"age", age,
			)
			return
		}
	}

	now := d.clock.Now()
	command := game.ParseCommand(body)
	if command != game.CommandNone {
		d.getOrCreate(roomID).Touch(now)
	}
	switch command {
	case game.CommandStartRace:
		d.startRace(ctx, roomID, now)
	case game.CommandStopRace:
		d.stopRace(ctx, roomID, now)
	case game.CommandStats:
		d.sendStats(ctx, roomID, event.Sender)
	case game.CommandTop:
		d.sendLeaderboard(ctx, roomID)
	case game.CommandNone:
		d.submit(ctx, roomID, event.Sender, body, now)
	}
}

// handleMembership reacts to joins and leaves. A leaver is withdrawn
// from any in-flight race; a room whose last racer leaves scores with
// whoever submitted. Caller holds d.mu.
func (d *Dispatcher) handleMembership(roomID ref.RoomID, event messaging.Event, membership string) {
	if membership != "leave" && membership != "ban" {
		return
	}
	session, ok := d.rooms[roomID]
	if !ok || event.StateKey == nil {
		return
	}
	leaver, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return
	}

	now := d.clock.Now()
	if done := session.RemoveParticipant(leaver, now); done {
		d.finishRace(roomID, session, session.Generation(), now)
	}
}

// startRace begins a race: pick a prompt, register the room's current
// members as racers, announce the countdown, and schedule its expiry.
// Caller holds d.mu.
func (d *Dispatcher) startRace(ctx context.Context, roomID ref.RoomID, now time.Time) {
	session := d.getOrCreate(roomID)

	racers, err := d.activeRacers(ctx, roomID)
	if err != nil {
		d.logger.Error("failed to list room members", "room_id", roomID, "error", err)
		d.sendNotice(ctx, roomID, "Could not start the race — try again.")
		return
	}
	if len(racers) == 0 {
		d.sendNotice(ctx, roomID, "Nobody here to race.")
		return
	}

	generation, err := session.StartRace(d.prompts.Next(), racers, now)
	if err != nil {
		d.reportViolation(ctx, roomID, err)
		return
	}

	d.logger.Info("race starting",
		"room_id", roomID,
		"racers", len(racers),
		"countdown", d.game.Countdown,
	)
	d.sendNotice(ctx, roomID, fmt.Sprintf("Race starting in %d seconds — get ready!",
		int(d.game.Countdown.Seconds())))

	d.clock.AfterFunc(d.game.Countdown, func() {
		d.onCountdownExpired(roomID, generation)
	})
}

// activeRacers returns the room's joined members, excluding the bot.
func (d *Dispatcher) activeRacers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	members, err := d.matrix.GetRoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	racers := make([]ref.UserID, 0, len(members))
	for _, member := range members {
		if member.Membership != "join" || member.UserID == d.selfID {
			continue
		}
		if member.DisplayName != "" {
			d.names[member.UserID] = member.DisplayName
		}
		racers = append(racers, member.UserID)
	}
	return racers, nil
}

// onCountdownExpired fires when the countdown timer elapses: the race
// goes live and the race timeout is scheduled. A stale generation (the
// race was stopped first) is a no-op.
func (d *Dispatcher) onCountdownExpired(roomID ref.RoomID, generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, ok := d.rooms[roomID]
	if !ok {
		return
	}
	raceGeneration, ok := session.BeginRacing(generation, d.clock.Now())
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(d.baseCtx, sendTimeout)
	defer cancel()
	d.sendNotice(ctx, roomID, "GO! Type this:\n"+session.Prompt())

	d.clock.AfterFunc(d.game.RaceTimeout, func() {
		d.onRaceTimeout(roomID, raceGeneration)
	})
}

// onRaceTimeout scores the race with whatever submissions arrived. A
// stale generation (the race already finished or was stopped) is a
// no-op.
func (d *Dispatcher) onRaceTimeout(roomID ref.RoomID, generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, ok := d.rooms[roomID]
	if !ok {
		return
	}
	d.finishRace(roomID, session, generation, d.clock.Now())
}

// submit treats non-command text during Racing as a submission. Text
// in any other state is ordinary chat and is ignored. Caller holds
// d.mu.
func (d *Dispatcher) submit(ctx context.Context, roomID ref.RoomID, sender ref.UserID, body string, now time.Time) {
	session, ok := d.rooms[roomID]
	if !ok || session.State() != game.StateRacing {
		return
	}

	done, err := session.Submit(sender, body, now)
	if err != nil {
		d.reportViolation(ctx, roomID, err)
		return
	}
	if done {
		d.finishRace(roomID, session, session.Generation(), now)
	}
}

// finishRace scores the race, announces the summary, then persists the
// results. The session is idle before persistence starts, and
// RecordOrSpool never fails the caller, so a storage outage cannot
// block the summary or the next race. Caller holds d.mu.
func (d *Dispatcher) finishRace(roomID ref.RoomID, session *game.Session, generation uint64, now time.Time) {
	results, ok := session.FinishRace(generation, now)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(d.baseCtx, sendTimeout)
	defer cancel()

	d.sendNotice(ctx, roomID, game.Summary(results, func(userID ref.UserID) string {
		return d.displayName(ctx, userID)
	}))

	for _, result := range results {
		d.store.RecordOrSpool(ctx, result)
	}
	d.logger.Info("race finished", "room_id", roomID, "results", len(results))
}

// stopRace aborts an in-flight race. Caller holds d.mu.
func (d *Dispatcher) stopRace(ctx context.Context, roomID ref.RoomID, now time.Time) {
	session, ok := d.rooms[roomID]
	if !ok || !session.StopRace(now) {
		d.sendNotice(ctx, roomID, "No race to stop.")
		return
	}
	d.logger.Info("race stopped", "room_id", roomID)
	d.sendNotice(ctx, roomID, "Race stopped.")
}

// sendStats answers the stats command with the sender's aggregates.
// Caller holds d.mu.
func (d *Dispatcher) sendStats(ctx context.Context, roomID ref.RoomID, userID ref.UserID) {
	stats, found, err := d.store.StatsFor(ctx, userID)
	if err != nil {
		d.logger.Error("stats lookup failed", "user_id", userID, "error", err)
		d.sendNotice(ctx, roomID, "Stats are unavailable right now.")
		return
	}
	if !found {
		d.sendNotice(ctx, roomID, fmt.Sprintf("%s has not finished a race yet.",
			d.displayName(ctx, userID)))
		return
	}
	d.sendNotice(ctx, roomID, fmt.Sprintf("%s: %d races, best %.1f WPM, %.0f%% average accuracy",
		d.displayName(ctx, userID),
		stats.RacesCompleted,
		stats.BestWPM,
		stats.AvgAccuracy*100,
	))
}

// sendLeaderboard answers the top command. Caller holds d.mu.
func (d *Dispatcher) sendLeaderboard(ctx context.Context, roomID ref.RoomID) {
	entries, err := d.store.Leaderboard(ctx, d.game.LeaderboardSize)
	if err != nil {
		d.logger.Error("leaderboard lookup failed", "error", err)
		d.sendNotice(ctx, roomID, "The leaderboard is unavailable right now.")
		return
	}
	if len(entries) == 0 {
		d.sendNotice(ctx, roomID, "No races recorded yet.")
		return
	}

	var builder strings.Builder
	builder.WriteString("🏆 Fastest typists:\n")
	for index, entry := range entries {
		fmt.Fprintf(&builder, "%d. %s — best %.1f WPM over %d races\n",
			index+1,
			d.displayName(ctx, entry.UserID),
			entry.BestWPM,
			entry.RacesCompleted,
		)
	}
	d.sendNotice(ctx, roomID, strings.TrimRight(builder.String(), "\n"))
}

// evictIdle removes sessions idle past the configured timeout. Only
// idle sessions are evicted — an in-flight race has live timers.
// Caller holds d.mu.
func (d *Dispatcher) evictIdle() {
	if d.game.IdleTimeout <= 0 {
		return
	}
	now := d.clock.Now()
	for roomID, session := range d.rooms {
		if session.State() != game.StateIdle {
			continue
		}
		if now.Sub(session.LastActivity()) > d.game.IdleTimeout {
			d.remove(roomID)
		}
	}
}

// reportViolation sends a rule violation back to the room as a notice.
// Unexpected errors are logged instead.
func (d *Dispatcher) reportViolation(ctx context.Context, roomID ref.RoomID, err error) {
	var violation *game.RuleViolation
	if !errors.As(err, &violation) {
		d.logger.Error("unexpected game error", "room_id", roomID, "error", err)
		return
	}
	d.sendNotice(ctx, roomID, violation.Reason)
}

// sendNotice sends an m.notice to a room. Failures are logged, never
// fatal — the message is simply lost.
func (d *Dispatcher) sendNotice(ctx context.Context, roomID ref.RoomID, text string) {
	if _, err := d.matrix.SendMessage(ctx, roomID, messaging.NewNotice(text)); err != nil {
		d.logger.Error("failed to send notice", "room_id", roomID, "error", err)
	}
}

// displayName resolves a user's display name, caching lookups. Falls
// back to the user ID's localpart.
func (d *Dispatcher) displayName(ctx context.Context, userID ref.UserID) string {
	if name, ok := d.names[userID]; ok {
		return name
	}
	name, err := d.matrix.GetDisplayName(ctx, userID)
	if err != nil || name == "" {
		name = userID.Localpart()
	}
	d.names[userID] = name
	return name
}
