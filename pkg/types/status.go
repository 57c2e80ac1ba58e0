package types

import (
	"fmt"
	"time"
)

// StatusKind is the terminal state of a run.
type StatusKind string

const (
	StatusCompleted StatusKind = "completed"
	StatusHalted    StatusKind = "halted"
	StatusFailed    StatusKind = "failed"
)

// Halt reasons reported with StatusHalted.
const (
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonStopped         = "stopped"
)

// RunStatus is reported by the run loop to its caller.
type RunStatus struct {
	Kind   StatusKind `json:"kind"`
	Level  int        `json:"level"`
	Reason string     `json:"reason,omitempty"`
	Turns  int        `json:"turns"`
}

func (s RunStatus) String() string {
	switch s.Kind {
	case StatusCompleted:
		return fmt.Sprintf("completed(%d)", s.Level)
	case StatusHalted:
		return fmt.Sprintf("halted(%s)", s.Reason)
	default:
		return fmt.Sprintf("failed(%s)", s.Reason)
	}
}

// DiagnosticKind classifies a diagnostic event.
type DiagnosticKind string

const (
	DiagAnomalous        DiagnosticKind = "anomalous"
	DiagStrategyError    DiagnosticKind = "strategy_error"
	DiagInterfaceTimeout DiagnosticKind = "interface_timeout"
	DiagPersistenceError DiagnosticKind = "persistence_error"
	DiagFatal            DiagnosticKind = "fatal"
)

// Diagnostic is an audit entry for anything that went wrong or looked odd.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Level     int            `json:"level"`
	Turn      int            `json:"turn"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// TurnRecord describes one completed turn for transcripts.
type TurnRecord struct {
	Turn      int       `json:"turn"`
	Level     int       `json:"level"`
	Action    Action    `json:"action"`
	Response  string    `json:"response"`
	Heading   string    `json:"heading"`
	Hint      string    `json:"hint,omitempty"`
	Verdict   string    `json:"verdict"`
	Outcome   Outcome   `json:"outcome"`
	Reasoning string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}
