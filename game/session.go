// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"time"
	"unicode/utf8"

	"github.com/typit-matrix/typit/lib/ref"
)

// State is the phase of a room's session.
type State int

const (
	StateIdle State = iota
	StateCountingDown
	StateRacing
	StateScoring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountingDown:
		return "counting_down"
	case StateRacing:
		return "racing"
	case StateScoring:
		return "scoring"
	default:
		return "unknown"
	}
}

// Participant is one racer's in-flight state.
type Participant struct {
	JoinedAt     time.Time
	SubmittedAt  time.Time
	Submitted    bool
	CharsCorrect int
}

// Session is the game state for one room. It owns no timers and no
// clock: the caller schedules countdown expiry and race timeout, and
// every transition takes the current time as an argument.
//
// Each transition bumps the generation counter. Callers capture the
// generation when scheduling a timer and pass it back on fire; a
// mismatch means the session has already left the state that scheduled
// the timer, and the fire is a no-op.
type Session struct {
	roomID       ref.RoomID
	state        State
	prompt       string
	promptLen    int // runes
	startedAt    time.Time
	generation   uint64
	participants map[ref.UserID]*Participant
	lastActivity time.Time
}

// NewSession creates an Idle session for a room.
func NewSession(roomID ref.RoomID) *Session {
	return &Session{
		roomID:       roomID,
		state:        StateIdle,
		participants: make(map[ref.UserID]*Participant),
	}
}

func (s *Session) RoomID() ref.RoomID { return s.roomID }
func (s *Session) State() State       { return s.state }
func (s *Session) Prompt() string     { return s.prompt }

// Generation returns the current timer generation. It changes on
// every state transition.
func (s *Session) Generation() uint64 { return s.generation }

// LastActivity returns the time of the most recent event applied to
// the session. The caller uses it for idle eviction.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Touch records activity without a transition.
func (s *Session) Touch(now time.Time) { s.lastActivity = now }

// ParticipantCount returns the number of registered racers.
func (s *Session) ParticipantCount() int { return len(s.participants) }

// StartRace moves Idle to CountingDown. The racers are the room's
// active members at start time; members joining mid-race do not
// compete. Returns the new generation for scheduling the countdown
// timer. Starting while a race is already underway is a rule
// violation, reported but never queued.
func (s *Session) StartRace(prompt string, racers []ref.UserID, now time.Time) (uint64, error) {
	if s.state != StateIdle {
		return 0, &RuleViolation{Reason: "a race is already in progress — wait for it to finish or use !stop"}
	}
	if prompt == "" {
		return 0, &RuleViolation{Reason: "no prompt available"}
	}

	s.state = StateCountingDown
	s.prompt = prompt
	s.promptLen = utf8.RuneCountInString(prompt)
	s.participants = make(map[ref.UserID]*Participant, len(racers))
	for _, racer := range racers {
		s.participants[racer] = &Participant{JoinedAt: now}
	}
	s.generation++
	s.lastActivity = now
	return s.generation, nil
}

// BeginRacing moves CountingDown to Racing when the countdown timer
// fires. A stale generation (the race was stopped during the
// countdown) is a no-op. Returns the new generation for scheduling
// the race timeout.
func (s *Session) BeginRacing(generation uint64, now time.Time) (uint64, bool) {
	if s.state != StateCountingDown || generation != s.generation {
		return 0, false
	}
	s.state = StateRacing
	s.startedAt = now
	s.generation++
	s.lastActivity = now
	return s.generation, true
}

// Submit records a participant's typed text during Racing. Scoring is
// longest-common-prefix against the prompt. Returns done=true when
// every participant has submitted. A submission outside Racing, from
// a non-racer, or a second submission from the same racer is a rule
// violation, never silently recorded.
func (s *Session) Submit(sender ref.UserID, text string, now time.Time) (done bool, err error) {
	if s.state != StateRacing {
		return false, &RuleViolation{Reason: "there is no race to submit to right now"}
	}
	participant, ok := s.participants[sender]
	if !ok {
		return false, &RuleViolation{Reason: "you are not in this race — wait for the next one"}
	}
	if participant.Submitted {
		return false, &RuleViolation{Reason: "you already submitted"}
	}

	participant.Submitted = true
	participant.SubmittedAt = now
	participant.CharsCorrect = longestCommonPrefix(text, s.prompt)
	s.lastActivity = now
	return s.allSubmitted(), nil
}

func (s *Session) allSubmitted() bool {
	for _, participant := range s.participants {
		if !participant.Submitted {
			return false
		}
	}
	return len(s.participants) > 0
}

// RemoveParticipant drops a racer who left the room. Returns done=true
// when the removal leaves a Racing session with every remaining
// participant submitted.
func (s *Session) RemoveParticipant(userID ref.UserID, now time.Time) (done bool) {
	if _, ok := s.participants[userID]; !ok {
		return false
	}
	delete(s.participants, userID)
	s.lastActivity = now
	return s.state == StateRacing && s.allSubmitted()
}

// FinishRace moves Racing through Scoring back to Idle, producing one
// Result per participant who submitted, ranked for the summary. The
// session is Idle when FinishRace returns: persistence happens after,
// and its failure cannot wedge the room. Call when every participant
// has submitted or the race timeout fires (pass the timeout's
// generation; a live call from the dispatcher passes the current one).
func (s *Session) FinishRace(generation uint64, now time.Time) ([]Result, bool) {
	if s.state != StateRacing || generation != s.generation {
		return nil, false
	}
	s.state = StateScoring

	results := make([]Result, 0, len(s.participants))
	for userID, participant := range s.participants {
		if !participant.Submitted {
			continue
		}
		elapsed := participant.SubmittedAt.Sub(s.startedAt)
		wpm, accuracy := score(participant.CharsCorrect, s.promptLen, elapsed)
		results = append(results, Result{
			RoomID:       s.roomID,
			UserID:       userID,
			PromptLen:    s.promptLen,
			CharsCorrect: participant.CharsCorrect,
			Elapsed:      elapsed,
			Accuracy:     accuracy,
			WPM:          wpm,
			SubmittedAt:  participant.SubmittedAt,
			CompletedAt:  now,
		})
	}
	rank(results)

	s.reset(now)
	return results, true
}

// StopRace aborts any in-flight race and returns the session to Idle.
// Returns false when the session was already Idle.
func (s *Session) StopRace(now time.Time) bool {
	if s.state == StateIdle {
		return false
	}
	s.reset(now)
	return true
}

// reset returns to Idle and invalidates outstanding timers.
func (s *Session) reset(now time.Time) {
	s.state = StateIdle
	s.prompt = ""
	s.promptLen = 0
	s.startedAt = time.Time{}
	s.participants = make(map[ref.UserID]*Participant)
	s.generation++
	s.lastActivity = now
}
