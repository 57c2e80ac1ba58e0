package types

import (
	"strings"
	"time"
)

// Outcome is the verified result of an attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"   // OutcomeSuccess means the heading advanced by exactly one level.
	OutcomeRejected  Outcome = "rejected"  // OutcomeRejected means the level did not change.
	OutcomeAmbiguous Outcome = "ambiguous" // OutcomeAmbiguous means the signal could not be trusted either way.
)

// Attempt is one recorded action and its outcome at a level.
// Attempts are immutable once recorded.
type Attempt struct {
	ID        string     `json:"id"`
	Level     int        `json:"level"`
	Kind      ActionKind `json:"action_kind"`
	Payload   string     `json:"payload"`
	Response  string     `json:"response_text"`
	Outcome   Outcome    `json:"outcome"`
	Tactic    string     `json:"tactic,omitempty"`
	Hint      string     `json:"hint,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NormalizePayload returns the case-normalized form used to compare submits.
func NormalizePayload(payload string) string {
	return strings.ToLower(strings.TrimSpace(payload))
}
