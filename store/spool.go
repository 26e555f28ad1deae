// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/typit-matrix/typit/game"
	"github.com/typit-matrix/typit/lib/ref"
)

// Spool holds race results that failed to persist, as a sequence of
// CBOR records in a single file. Appends survive process restarts;
// Drain replays them against the store and rewrites the file with
// whatever still fails.
type Spool struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// spoolRecord is the on-disk form of a game.Result. Times are Unix
// milliseconds.
type spoolRecord struct {
	RoomID       string  `cbor:"room_id"`
	UserID       string  `cbor:"user_id"`
	PromptLen    int     `cbor:"prompt_len"`
	CharsCorrect int     `cbor:"chars_correct"`
	ElapsedMS    int64   `cbor:"elapsed_ms"`
	Accuracy     float64 `cbor:"accuracy"`
	WPM          float64 `cbor:"wpm"`
	SubmittedAt  int64   `cbor:"submitted_at"`
	CompletedAt  int64   `cbor:"completed_at"`
}

func toRecord(result game.Result) spoolRecord {
	return spoolRecord{
		RoomID:       result.RoomID.String(),
		UserID:       result.UserID.String(),
		PromptLen:    result.PromptLen,
		CharsCorrect: result.CharsCorrect,
		ElapsedMS:    result.Elapsed.Milliseconds(),
		Accuracy:     result.Accuracy,
		WPM:          result.WPM,
		SubmittedAt:  result.SubmittedAt.UnixMilli(),
		CompletedAt:  result.CompletedAt.UnixMilli(),
	}
}

func (r spoolRecord) toResult() (game.Result, error) {
	roomID, err := ref.ParseRoomID(r.RoomID)
	if err != nil {
		return game.Result{}, fmt.Errorf("spool record room ID: %w", err)
	}
	userID, err := ref.ParseUserID(r.UserID)
	if err != nil {
		return game.Result{}, fmt.Errorf("spool record user ID: %w", err)
	}
	return game.Result{
		RoomID:       roomID,
		UserID:       userID,
		PromptLen:    r.PromptLen,
		CharsCorrect: r.CharsCorrect,
		Elapsed:      time.Duration(r.ElapsedMS) * time.Millisecond,
		Accuracy:     r.Accuracy,
		WPM:          r.WPM,
		SubmittedAt:  time.UnixMilli(r.SubmittedAt),
		CompletedAt:  time.UnixMilli(r.CompletedAt),
	}, nil
}

// NewSpool creates a spool at path. The file is created on first
// Append.
func NewSpool(path string, logger *slog.Logger) *Spool {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Spool{path: path, logger: logger}
}

// Append adds one result to the spool.
func (s *Spool) Append(result game.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := cbor.Marshal(toRecord(result))
	if err != nil {
		return fmt.Errorf("store: spool encode: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("store: spool open: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("store: spool write: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("store: spool sync: %w", err)
	}
	return nil
}

// Len returns the number of spooled results.
func (s *Spool) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Drain applies persist to every spooled result in order. Results that
// persist are removed; results that still fail (and everything
// decodable behind a corrupt record) stay spooled. Returns the number
// persisted.
func (s *Spool) Drain(persist func(game.Result) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	var remaining []spoolRecord
	persisted := 0
	for _, record := range records {
		result, convErr := record.toResult()
		if convErr != nil {
			// Undecodable record: drop it, the write can never
			// succeed.
			s.logger.Warn("dropping corrupt spool record", "error", convErr)
			continue
		}
		if persistErr := persist(result); persistErr != nil {
			remaining = append(remaining, record)
			continue
		}
		persisted++
	}

	if err := s.rewrite(remaining); err != nil {
		return persisted, err
	}
	return persisted, nil
}

// read decodes all records in the file. A truncated trailing record
// (crash mid-append) is dropped with a warning.
func (s *Spool) read() ([]spoolRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: spool read: %w", err)
	}

	var records []spoolRecord
	decoder := cbor.NewDecoder(bytes.NewReader(data))
	for {
		var record spoolRecord
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.logger.Warn("truncated spool tail dropped", "error", err)
			break
		}
		records = append(records, record)
	}
	return records, nil
}

// rewrite atomically replaces the spool file with the given records.
func (s *Spool) rewrite(records []spoolRecord) error {
	if len(records) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store: spool remove: %w", err)
		}
		return nil
	}

	var buffer bytes.Buffer
	encoder := cbor.NewEncoder(&buffer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("store: spool encode: %w", err)
		}
	}

	temp := s.path + ".tmp"
	if err := os.WriteFile(temp, buffer.Bytes(), 0o600); err != nil {
		return fmt.Errorf("store: spool rewrite: %w", err)
	}
	if err := os.Rename(temp, s.path); err != nil {
		return fmt.Errorf("store: spool rename: %w", err)
	}
	return nil
}
