// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists completed race results and per-user aggregate
// statistics in SQLite.
//
// Write path: the dispatcher calls RecordOrSpool once per result after
// a race has scored. Each result is written in a single IMMEDIATE
// transaction covering both the append-only race_results row and the
// user_stats upsert, so a reader never observes one without the other.
// A failed write lands in an on-disk spool and is retried by a
// background ticker; persistence failure never blocks game flow.
//
// Read path: StatsFor and Leaderboard serve the !stats and !top
// commands from user_stats.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/typit-matrix/typit/game"
	"github.com/typit-matrix/typit/lib/clock"
	"github.com/typit-matrix/typit/lib/ref"
	"github.com/typit-matrix/typit/lib/sqlitepool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS race_results (
		room_id      TEXT    NOT NULL,
		user_id      TEXT    NOT NULL,
		prompt_len   INTEGER NOT NULL,
		elapsed_ms   INTEGER NOT NULL,
		accuracy     REAL    NOT NULL,
		wpm          REAL    NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_race_results_user ON race_results(user_id);
	CREATE INDEX IF NOT EXISTS idx_race_results_time ON race_results(completed_at);

	CREATE TABLE IF NOT EXISTS user_stats (
		user_id         TEXT PRIMARY KEY,
		races_completed INTEGER NOT NULL,
		best_wpm        REAL    NOT NULL,
		avg_accuracy    REAL    NOT NULL
	);
`

// UserStats is a user's aggregate across all completed races. Kept
// consistent with the sum of that user's race_results rows; Reconcile
// checks and repairs the invariant.
type UserStats struct {
	UserID         ref.UserID
	RacesCompleted int64
	BestWPM        float64
	AvgAccuracy    float64
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file, created if absent. Use
	// ":memory:" with PoolSize 1 in tests.
	Path string

	// SpoolPath is the on-disk spool file for results that failed to
	// persist. Empty disables spooling (RecordOrSpool logs and drops).
	SpoolPath string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock provides the current time for spool retry scheduling.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Store is the durable score store.
type Store struct {
	pool   *sqlitepool.Pool
	spool  *Spool
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates the store, its schema, and (when configured) its spool.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var spool *Spool
	if cfg.SpoolPath != "" {
		spool = NewSpool(cfg.SpoolPath, logger)
	}

	return &Store{
		pool:   pool,
		spool:  spool,
		clock:  cfg.Clock,
		logger: logger,
	}, nil
}

// Close closes the connection pool. Blocks until borrowed connections
// are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// RecordResult writes one race result and its user_stats update in a
// single IMMEDIATE transaction.
func (s *Store) RecordResult(ctx context.Context, result game.Result) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: record result: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `INSERT INTO race_results
		(room_id, user_id, prompt_len, elapsed_ms, accuracy, wpm, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			result.RoomID.String(),
			result.UserID.String(),
			result.PromptLen,
			result.Elapsed.Milliseconds(),
			result.Accuracy,
			result.WPM,
			result.CompletedAt.UnixMilli(),
		},
	})
	if err != nil {
		return fmt.Errorf("store: insert result: %w", err)
	}

	// Assignments in DO UPDATE read the pre-update row, so the
	// running average uses the old races_completed.
	err = sqlitex.Execute(conn, `INSERT INTO user_stats
		(user_id, races_completed, best_wpm, avg_accuracy)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			races_completed = races_completed + 1,
			best_wpm        = MAX(best_wpm, excluded.best_wpm),
			avg_accuracy    = (avg_accuracy * races_completed + excluded.avg_accuracy)
			                  / (races_completed + 1)`, &sqlitex.ExecOptions{
		Args: []any{
			result.UserID.String(),
			result.WPM,
			result.Accuracy,
		},
	})
	if err != nil {
		return fmt.Errorf("store: upsert stats: %w", err)
	}

	return nil
}

// RecordOrSpool persists a result, spooling it for background retry
// when the write fails. Never returns an error to the caller: the
// session has already returned to idle and a storage failure must not
// block the next race. Spool exhaustion (append failure) is logged as
// the degraded-mode signal.
func (s *Store) RecordOrSpool(ctx context.Context, result game.Result) {
	err := s.RecordResult(ctx, result)
	if err == nil {
		return
	}
	s.logger.Warn("result write failed, spooling",
		"room_id", result.RoomID,
		"user_id", result.UserID,
		"error", err,
	)
	if s.spool == nil {
		s.logger.Error("no spool configured, result dropped",
			"room_id", result.RoomID,
			"user_id", result.UserID,
		)
		return
	}
	if spoolErr := s.spool.Append(result); spoolErr != nil {
		s.logger.Error("spool append failed, result dropped",
			"room_id", result.RoomID,
			"user_id", result.UserID,
			"error", spoolErr,
		)
	}
}

// StatsFor returns a user's aggregate stats. ok is false when the user
// has never completed a race.
func (s *Store) StatsFor(ctx context.Context, userID ref.UserID) (UserStats, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return UserStats{}, false, fmt.Errorf("store: stats for %s: %w", userID, err)
	}
	defer s.pool.Put(conn)

	stats := UserStats{UserID: userID}
	found := false
	err = sqlitex.Execute(conn, `SELECT races_completed, best_wpm, avg_accuracy
		FROM user_stats WHERE user_id = ?`, &sqlitex.ExecOptions{
		Args: []any{userID.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.RacesCompleted = stmt.ColumnInt64(0)
			stats.BestWPM = stmt.ColumnFloat(1)
			stats.AvgAccuracy = stmt.ColumnFloat(2)
			found = true
			return nil
		},
	})
	if err != nil {
		return UserStats{}, false, fmt.Errorf("store: stats for %s: %w", userID, err)
	}
	return stats, found, nil
}

// Leaderboard returns the top users by best WPM, ties broken by races
// completed.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]UserStats, error) {
	if limit <= 0 {
		limit = 10
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: leaderboard: %w", err)
	}
	defer s.pool.Put(conn)

	var entries []UserStats
	err = sqlitex.Execute(conn, `SELECT user_id, races_completed, best_wpm, avg_accuracy
		FROM user_stats
		ORDER BY best_wpm DESC, races_completed DESC
		LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			userID, parseErr := ref.ParseUserID(stmt.ColumnText(0))
			if parseErr != nil {
				return fmt.Errorf("parse stored user ID: %w", parseErr)
			}
			entries = append(entries, UserStats{
				UserID:         userID,
				RacesCompleted: stmt.ColumnInt64(1),
				BestWPM:        stmt.ColumnFloat(2),
				AvgAccuracy:    stmt.ColumnFloat(3),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: leaderboard: %w", err)
	}
	return entries, nil
}

// Reconcile recomputes every user's aggregates from race_results and
// repairs any user_stats row that disagrees. Returns the user IDs that
// needed repair.
func (s *Store) Reconcile(ctx context.Context) ([]ref.UserID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: reconcile: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("store: reconcile: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	type derived struct {
		races       int64
		bestWPM     float64
		avgAccuracy float64
	}
	computed := make(map[string]derived)
	err = sqlitex.Execute(conn, `SELECT user_id, COUNT(*), MAX(wpm), AVG(accuracy)
		FROM race_results GROUP BY user_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			computed[stmt.ColumnText(0)] = derived{
				races:       stmt.ColumnInt64(1),
				bestWPM:     stmt.ColumnFloat(2),
				avgAccuracy: stmt.ColumnFloat(3),
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: reconcile: aggregate results: %w", err)
	}

	mismatched := make(map[string]bool)
	err = sqlitex.Execute(conn, `SELECT user_id, races_completed, best_wpm, avg_accuracy
		FROM user_stats`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			userID := stmt.ColumnText(0)
			want, exists := computed[userID]
			if !exists {
				// Stats row with no results backing it.
				mismatched[userID] = true
				return nil
			}
			if stmt.ColumnInt64(1) != want.races ||
				!floatsClose(stmt.ColumnFloat(2), want.bestWPM) ||
				!floatsClose(stmt.ColumnFloat(3), want.avgAccuracy) {
				mismatched[userID] = true
			}
			// Remaining entries in computed after this pass are
			// users missing a stats row entirely.
			delete(computed, userID)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: reconcile: read stats: %w", err)
	}
	for userID := range computed {
		mismatched[userID] = true
	}

	var repaired []ref.UserID
	for rawUserID := range mismatched {
		err = sqlitex.Execute(conn, `INSERT INTO user_stats
			(user_id, races_completed, best_wpm, avg_accuracy)
			SELECT user_id, COUNT(*), MAX(wpm), AVG(accuracy)
			FROM race_results WHERE user_id = ?
			ON CONFLICT(user_id) DO UPDATE SET
				races_completed = excluded.races_completed,
				best_wpm        = excluded.best_wpm,
				avg_accuracy    = excluded.avg_accuracy`, &sqlitex.ExecOptions{
			Args: []any{rawUserID},
		})
		if err != nil {
			return nil, fmt.Errorf("store: reconcile: repair %s: %w", rawUserID, err)
		}
		// A stats row with no backing results disappears entirely.
		err = sqlitex.Execute(conn, `DELETE FROM user_stats
			WHERE user_id = ?
			AND NOT EXISTS (SELECT 1 FROM race_results WHERE user_id = ?)`, &sqlitex.ExecOptions{
			Args: []any{rawUserID, rawUserID},
		})
		if err != nil {
			return nil, fmt.Errorf("store: reconcile: prune %s: %w", rawUserID, err)
		}

		userID, parseErr := ref.ParseUserID(rawUserID)
		if parseErr != nil {
			s.logger.Warn("reconcile: unparseable stored user ID", "user_id", rawUserID)
			continue
		}
		repaired = append(repaired, userID)
		s.logger.Info("reconciled user stats", "user_id", rawUserID)
	}

	return repaired, nil
}

// DrainSpool retries every spooled result. Returns the number
// persisted. Results that still fail stay spooled.
func (s *Store) DrainSpool(ctx context.Context) (int, error) {
	if s.spool == nil {
		return 0, nil
	}
	return s.spool.Drain(func(result game.Result) error {
		return s.RecordResult(ctx, result)
	})
}

// RunSpoolRetry drains the spool on a fixed interval until ctx is
// cancelled. Run as a background goroutine from the daemon.
func (s *Store) RunSpoolRetry(ctx context.Context, interval time.Duration) {
	if s.spool == nil {
		return
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			persisted, err := s.DrainSpool(ctx)
			if err != nil {
				s.logger.Warn("spool retry failed", "error", err)
				continue
			}
			if persisted > 0 {
				s.logger.Info("spooled results persisted", "count", persisted)
			}
		}
	}
}

// floatsClose compares stored REAL columns against recomputed values.
// SQLite round-trips float64 exactly, but running averages accumulate
// differently than AVG(), so allow a small tolerance.
func floatsClose(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1e-9
}
