// Copyright 2026 The Typit Matrix Authors
// SPDX-License-Identifier: Apache-2.0

package game

import "errors"

// RuleViolation reports a command or submission that the current
// session state does not allow: a duplicate race start, a submission
// outside Racing, a second submission from the same participant. The
// Reason is written for room members — callers send it back to the
// room as a notice. Rule violations are never fatal.
type RuleViolation struct {
	Reason string
}

func (e *RuleViolation) Error() string {
	return "game: " + e.Reason
}

// IsRuleViolation reports whether err is a *RuleViolation.
func IsRuleViolation(err error) bool {
	var violation *RuleViolation
	return errors.As(err, &violation)
}
