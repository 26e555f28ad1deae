// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/typit-matrix/typit/lib/ref"
)

var (
	testRoom = ref.MustParseRoomID("!race:test.local")
	alice    = ref.MustParseUserID("@alice:test.local")
	bob      = ref.MustParseUserID("@bob:test.local")
)

// startRacing drives a fresh session through StartRace and BeginRacing,
// returning the session, the race-timeout generation, and the racing
// start time.
func startRacing(t *testing.T, prompt string, racers []ref.UserID) (*Session, uint64, time.Time) {
	t.Helper()
	session := NewSession(testRoom)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	countdownGen, err := session.StartRace(prompt, racers, start)
	if err != nil {
		t.Fatalf("StartRace failed: %v", err)
	}
	racingStart := start.Add(5 * time.Second)
	raceGen, ok := session.BeginRacing(countdownGen, racingStart)
	if !ok {
		t.Fatal("BeginRacing rejected a live countdown generation")
	}
	if session.State() != StateRacing {
		t.Fatalf("expected racing state, got %s", session.State())
	}
	return session, raceGen, racingStart
}

func TestExactScoringArithmetic(t *testing.T) {
	// A 25-character prompt typed perfectly in 60 seconds is exactly
	// 5.0 WPM at accuracy 1.0.
	prompt := strings.Repeat("a", 25)
	session, raceGen, racingStart := startRacing(t, prompt, []ref.UserID{alice})

	done, err := session.Submit(alice, prompt, racingStart.Add(60*time.Second))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !done {
		t.Fatal("sole participant's submission should complete the race")
	}

	results, ok := session.FinishRace(raceGen, racingStart.Add(60*time.Second))
	if !ok {
		t.Fatal("FinishRace rejected a live race")
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].WPM != 5.0 {
		t.Errorf("WPM = %v, want exactly 5.0", results[0].WPM)
	}
	if results[0].Accuracy != 1.0 {
		t.Errorf("accuracy = %v, want exactly 1.0", results[0].Accuracy)
	}
}

func TestTwoParticipantRace(t *testing.T) {
	session, raceGen, racingStart := startRacing(t, "hello world", []ref.UserID{alice, bob})

	// Alice types the full prompt at +6s.
	done, err := session.Submit(alice, "hello world", racingStart.Add(6*time.Second))
	if err != nil {
		t.Fatalf("alice's submission failed: %v", err)
	}
	if done {
		t.Fatal("race complete with bob still typing")
	}

	// Bob gets seven characters in at +10s.
	done, err = session.Submit(bob, "hello w", racingStart.Add(10*time.Second))
	if err != nil {
		t.Fatalf("bob's submission failed: %v", err)
	}
	if !done {
		t.Fatal("race should complete once both have submitted")
	}

	results, ok := session.FinishRace(raceGen, racingStart.Add(10*time.Second))
	if !ok {
		t.Fatal("FinishRace rejected a live race")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// Alice ranks first: 22.0 WPM at accuracy 1.0.
	if results[0].UserID != alice {
		t.Errorf("winner = %s, want alice", results[0].UserID)
	}
	if results[0].WPM != 22.0 {
		t.Errorf("alice WPM = %v, want 22.0", results[0].WPM)
	}
	if results[0].Accuracy != 1.0 {
		t.Errorf("alice accuracy = %v, want 1.0", results[0].Accuracy)
	}
	if math.Abs(results[1].Accuracy-7.0/11.0) > 1e-9 {
		t.Errorf("bob accuracy = %v, want ≈0.636", results[1].Accuracy)
	}

	if session.State() != StateIdle {
		t.Errorf("session should return to idle, got %s", session.State())
	}
}

func TestRaceTimeoutScoresOnlySubmitters(t *testing.T) {
	session, raceGen, racingStart := startRacing(t, "hello world", []ref.UserID{alice, bob})

	done, err := session.Submit(alice, "hello world", racingStart.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if done {
		t.Fatal("race complete with bob still typing")
	}

	// The 30s timeout fires with bob never submitting. Only alice
	// gets a result; bob gets none, not a zero.
	results, ok := session.FinishRace(raceGen, racingStart.Add(30*time.Second))
	if !ok {
		t.Fatal("timeout fire with a live generation must finish the race")
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].UserID != alice {
		t.Errorf("result for %s, want alice", results[0].UserID)
	}
	if session.State() != StateIdle {
		t.Errorf("session should return to idle, got %s", session.State())
	}
}

func TestSubmissionOutsideRacing(t *testing.T) {
	t.Run("while idle", func(t *testing.T) {
		session := NewSession(testRoom)
		_, err := session.Submit(alice, "hello", time.Now())
		if !IsRuleViolation(err) {
			t.Errorf("expected rule violation, got: %v", err)
		}
	})

	t.Run("during countdown", func(t *testing.T) {
		session := NewSession(testRoom)
		now := time.Now()
		if _, err := session.StartRace("hello world", []ref.UserID{alice}, now); err != nil {
			t.Fatalf("StartRace failed: %v", err)
		}
		_, err := session.Submit(alice, "hello", now.Add(time.Second))
		if !IsRuleViolation(err) {
			t.Errorf("expected rule violation, got: %v", err)
		}
	})

	t.Run("after race finished", func(t *testing.T) {
		session, raceGen, racingStart := startRacing(t, "hello world", []ref.UserID{alice})
		if _, err := session.Submit(alice, "hello world", racingStart.Add(time.Second)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if _, ok := session.FinishRace(raceGen, racingStart.Add(2*time.Second)); !ok {
			t.Fatal("FinishRace rejected a live race")
		}

		// A late event for the finished race is rejected, not recorded.
		_, err := session.Submit(alice, "hello world", racingStart.Add(3*time.Second))
		if !IsRuleViolation(err) {
			t.Errorf("expected rule violation, got: %v", err)
		}
	})
}

func TestDuplicateStartRejected(t *testing.T) {
	session := NewSession(testRoom)
	now := time.Now()
	if _, err := session.StartRace("hello world", []ref.UserID{alice}, now); err != nil {
		t.Fatalf("StartRace failed: %v", err)
	}
	_, err := session.StartRace("another prompt", []ref.UserID{alice}, now.Add(time.Second))
	if !IsRuleViolation(err) {
		t.Errorf("expected rule violation for re-entrant start, got: %v", err)
	}
	// The in-flight race is untouched.
	if session.Prompt() != "hello world" {
		t.Errorf("prompt changed by rejected start: %q", session.Prompt())
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	session, _, racingStart := startRacing(t, "hello world", []ref.UserID{alice, bob})
	if _, err := session.Submit(alice, "hello", racingStart.Add(time.Second)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	_, err := session.Submit(alice, "hello world", racingStart.Add(2*time.Second))
	if !IsRuleViolation(err) {
		t.Errorf("expected rule violation for second submission, got: %v", err)
	}
}

func TestNonParticipantRejected(t *testing.T) {
	session, _, racingStart := startRacing(t, "hello world", []ref.UserID{alice})
	_, err := session.Submit(bob, "hello world", racingStart.Add(time.Second))
	if !IsRuleViolation(err) {
		t.Errorf("expected rule violation for non-racer, got: %v", err)
	}
}

func TestStaleTimerFiresAreNoOps(t *testing.T) {
	t.Run("countdown after stop", func(t *testing.T) {
		session := NewSession(testRoom)
		now := time.Now()
		countdownGen, err := session.StartRace("hello world", []ref.UserID{alice}, now)
		if err != nil {
			t.Fatalf("StartRace failed: %v", err)
		}
		if !session.StopRace(now.Add(time.Second)) {
			t.Fatal("StopRace should abort the countdown")
		}

		// The countdown timer fires concurrently with the stop.
		if _, ok := session.BeginRacing(countdownGen, now.Add(5*time.Second)); ok {
			t.Error("stale countdown fire must not start racing")
		}
		if session.State() != StateIdle {
			t.Errorf("session state = %s, want idle", session.State())
		}
	})

	t.Run("race timeout after finish", func(t *testing.T) {
		session, raceGen, racingStart := startRacing(t, "hello world", []ref.UserID{alice})
		if _, err := session.Submit(alice, "hello world", racingStart.Add(time.Second)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if _, ok := session.FinishRace(raceGen, racingStart.Add(time.Second)); !ok {
			t.Fatal("FinishRace rejected a live race")
		}

		// The 30s timeout fires after the race already scored.
		if _, ok := session.FinishRace(raceGen, racingStart.Add(30*time.Second)); ok {
			t.Error("stale timeout fire must not score again")
		}
	})

	t.Run("timeout from a previous race", func(t *testing.T) {
		session, firstRaceGen, racingStart := startRacing(t, "hello world", []ref.UserID{alice})
		if _, err := session.Submit(alice, "hello world", racingStart.Add(time.Second)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if _, ok := session.FinishRace(firstRaceGen, racingStart.Add(time.Second)); !ok {
			t.Fatal("FinishRace rejected a live race")
		}

		// A new race begins; the old race's timeout must not end it.
		countdownGen, err := session.StartRace("pack my box", []ref.UserID{alice}, racingStart.Add(2*time.Second))
		if err != nil {
			t.Fatalf("second StartRace failed: %v", err)
		}
		if _, ok := session.BeginRacing(countdownGen, racingStart.Add(7*time.Second)); !ok {
			t.Fatal("BeginRacing rejected a live countdown")
		}
		if _, ok := session.FinishRace(firstRaceGen, racingStart.Add(31*time.Second)); ok {
			t.Error("previous race's timeout must not finish the new race")
		}
		if session.State() != StateRacing {
			t.Errorf("session state = %s, want racing", session.State())
		}
	})
}

func TestRemoveParticipant(t *testing.T) {
	session, _, racingStart := startRacing(t, "hello world", []ref.UserID{alice, bob})
	if _, err := session.Submit(alice, "hello world", racingStart.Add(time.Second)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Bob leaves the room mid-race; alice's submission now completes it.
	if done := session.RemoveParticipant(bob, racingStart.Add(2*time.Second)); !done {
		t.Error("removing the last hold-out should complete the race")
	}
	if done := session.RemoveParticipant(bob, racingStart.Add(3*time.Second)); done {
		t.Error("removing an absent user must not report completion")
	}
}

func TestStopRace(t *testing.T) {
	session := NewSession(testRoom)
	if session.StopRace(time.Now()) {
		t.Error("StopRace on an idle session should report nothing stopped")
	}

	session, _, racingStart := startRacing(t, "hello world", []ref.UserID{alice})
	if !session.StopRace(racingStart.Add(time.Second)) {
		t.Error("StopRace should abort a live race")
	}
	if session.State() != StateIdle {
		t.Errorf("session state = %s, want idle", session.State())
	}
	if session.ParticipantCount() != 0 {
		t.Errorf("participants remain after stop: %d", session.ParticipantCount())
	}
}

func TestZeroElapsedSubmission(t *testing.T) {
	// A submission in the same instant racing began has no meaningful
	// WPM; it must not divide by zero.
	session, raceGen, racingStart := startRacing(t, "hello world", []ref.UserID{alice})
	if _, err := session.Submit(alice, "hello world", racingStart); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	results, ok := session.FinishRace(raceGen, racingStart)
	if !ok {
		t.Fatal("FinishRace rejected a live race")
	}
	if results[0].WPM != 0 {
		t.Errorf("zero-elapsed WPM = %v, want 0", results[0].WPM)
	}
	if results[0].Accuracy != 1.0 {
		t.Errorf("accuracy = %v, want 1.0", results[0].Accuracy)
	}
}
