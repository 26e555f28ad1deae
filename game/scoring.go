// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"sort"
	"time"

	"github.com/typit-matrix/typit/lib/ref"
)

// Result is the immutable outcome of one participant's completed race.
// Written once per submitter per race; non-submitters get no result.
type Result struct {
	RoomID       ref.RoomID
	UserID       ref.UserID
	PromptLen    int
	CharsCorrect int
	Elapsed      time.Duration
	Accuracy     float64
	WPM          float64
	SubmittedAt  time.Time
	CompletedAt  time.Time
}

// longestCommonPrefix counts how many leading characters of the
// submission match the prompt. Comparison is rune-wise so multi-byte
// prompts score correctly.
func longestCommonPrefix(submission, prompt string) int {
	submissionRunes := []rune(submission)
	promptRunes := []rune(prompt)
	count := 0
	for count < len(submissionRunes) && count < len(promptRunes) {
		if submissionRunes[count] != promptRunes[count] {
			break
		}
		count++
	}
	return count
}

// score computes the derived metrics for a submission. The word in
// "words per minute" is the conventional five characters.
func score(charsCorrect, promptLen int, elapsed time.Duration) (wpm, accuracy float64) {
	minutes := elapsed.Minutes()
	if minutes > 0 {
		wpm = (float64(charsCorrect) / 5) / minutes
	}
	if promptLen > 0 {
		accuracy = float64(charsCorrect) / float64(promptLen)
	}
	return wpm, accuracy
}

// rank orders results for the summary: highest WPM first, then highest
// accuracy, then earliest submission.
func rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].WPM != results[j].WPM {
			return results[i].WPM > results[j].WPM
		}
		if results[i].Accuracy != results[j].Accuracy {
			return results[i].Accuracy > results[j].Accuracy
		}
		return results[i].SubmittedAt.Before(results[j].SubmittedAt)
	})
}
