// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"fmt"
	"strings"

	"github.com/typit-matrix/typit/lib/ref"
)

// Summary formats the final standings for a room. Results must already
// be ranked (FinishRace returns them ranked). displayName resolves a
// user ID to a room-visible name; pass nil to show raw user IDs.
func Summary(results []Result, displayName func(ref.UserID) string) string {
	if len(results) == 0 {
		return "Race over — nobody finished."
	}
	if displayName == nil {
		displayName = func(userID ref.UserID) string { return userID.String() }
	}

	var builder strings.Builder
	builder.WriteString("🏁 Race results:\n")
	for index, result := range results {
		fmt.Fprintf(&builder, "%d. %s — %.1f WPM, %.0f%% accuracy (%.1fs)\n",
			index+1,
			displayName(result.UserID),
			result.WPM,
			result.Accuracy*100,
			result.Elapsed.Seconds(),
		)
	}
	return strings.TrimRight(builder.String(), "\n")
}
