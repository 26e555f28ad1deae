// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"strings"
	"testing"
	"time"

	"github.com/typit-matrix/typit/lib/ref"
)

func TestLongestCommonPrefix(t *testing.T) {
	tests := []struct {
		submission string
		prompt     string
		want       int
	}{
		{"hello world", "hello world", 11},
		{"hello w", "hello world", 7},
		{"hello world extra", "hello world", 11},
		{"", "hello world", 0},
		{"xello world", "hello world", 0},
		{"hello_world", "hello world", 5},
		{"héllo", "héllo", 5}, // runes, not bytes
		{"日本語です", "日本語", 3},
	}
	for _, test := range tests {
		got := longestCommonPrefix(test.submission, test.prompt)
		if got != test.want {
			t.Errorf("longestCommonPrefix(%q, %q) = %d, want %d",
				test.submission, test.prompt, got, test.want)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	carol := ref.MustParseUserID("@carol:test.local")

	results := []Result{
		{UserID: bob, WPM: 10, Accuracy: 0.5, SubmittedAt: base.Add(10 * time.Second)},
		{UserID: alice, WPM: 20, Accuracy: 1.0, SubmittedAt: base.Add(6 * time.Second)},
		// Same WPM as bob, higher accuracy: ranks above bob.
		{UserID: carol, WPM: 10, Accuracy: 0.8, SubmittedAt: base.Add(12 * time.Second)},
	}
	rank(results)

	want := []ref.UserID{alice, carol, bob}
	for index, userID := range want {
		if results[index].UserID != userID {
			t.Errorf("rank %d = %s, want %s", index+1, results[index].UserID, userID)
		}
	}
}

func TestRankTieBreakBySubmissionTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	results := []Result{
		{UserID: bob, WPM: 10, Accuracy: 1.0, SubmittedAt: base.Add(10 * time.Second)},
		{UserID: alice, WPM: 10, Accuracy: 1.0, SubmittedAt: base.Add(6 * time.Second)},
	}
	rank(results)
	if results[0].UserID != alice {
		t.Errorf("earliest submission should win the tie, got %s first", results[0].UserID)
	}
}

func TestSummary(t *testing.T) {
	t.Run("ranked list", func(t *testing.T) {
		results := []Result{
			{UserID: alice, WPM: 22.0, Accuracy: 1.0, Elapsed: 6 * time.Second},
			{UserID: bob, WPM: 8.4, Accuracy: 7.0 / 11.0, Elapsed: 10 * time.Second},
		}
		names := map[ref.UserID]string{alice: "Alice", bob: "Bob"}
		summary := Summary(results, func(userID ref.UserID) string { return names[userID] })

		lines := strings.Split(summary, "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), summary)
		}
		if !strings.Contains(lines[1], "1. Alice") || !strings.Contains(lines[1], "22.0 WPM") {
			t.Errorf("unexpected winner line: %q", lines[1])
		}
		if !strings.Contains(lines[2], "2. Bob") || !strings.Contains(lines[2], "64% accuracy") {
			t.Errorf("unexpected runner-up line: %q", lines[2])
		}
	})

	t.Run("no finishers", func(t *testing.T) {
		summary := Summary(nil, nil)
		if !strings.Contains(summary, "nobody finished") {
			t.Errorf("unexpected empty summary: %q", summary)
		}
	})

	t.Run("nil name resolver shows user IDs", func(t *testing.T) {
		results := []Result{{UserID: alice, WPM: 5, Accuracy: 1.0, Elapsed: time.Minute}}
		summary := Summary(results, nil)
		if !strings.Contains(summary, "@alice:test.local") {
			t.Errorf("expected raw user ID in summary: %q", summary)
		}
	})
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body string
		want Command
	}{
		{"!race", CommandStartRace},
		{"!RACE", CommandStartRace},
		{"!race now please", CommandStartRace},
		{"!stop", CommandStopRace},
		{"!stats", CommandStats},
		{"!top", CommandTop},
		{"hello world", CommandNone},
		{"!unknown", CommandNone},
		{"", CommandNone},
		{"race", CommandNone},
	}
	for _, test := range tests {
		if got := ParseCommand(test.body); got != test.want {
			t.Errorf("ParseCommand(%q) = %v, want %v", test.body, got, test.want)
		}
	}
}
