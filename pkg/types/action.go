package types

import (
	"errors"
	"fmt"
	"strings"
)

// ActionKind is the kind of move the agent makes in a turn.
type ActionKind string

const (
	ActionAsk    ActionKind = "ask"    // ActionAsk sends a probing question to the chat.
	ActionSubmit ActionKind = "submit" // ActionSubmit enters a candidate password.
)

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	return k == ActionAsk || k == ActionSubmit
}

// ErrInvalidAction is returned by Action.Validate for schema violations.
var ErrInvalidAction = errors.New("invalid action")

// Action is the single move produced by the strategist for one turn.
// It is consumed once by the run loop and never re-dispatched on its own.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Content string     `json:"content"`

	// Tactic names the ladder rung (or "model"/"extract") that produced the action.
	Tactic string `json:"tactic,omitempty"`

	// Reasoning holds any model reasoning trace behind the action. It is kept
	// for artifacts only and never dispatched.
	Reasoning string `json:"-"`
}

// Ask builds an ask action.
func Ask(question, tactic string) Action {
	return Action{Kind: ActionAsk, Content: question, Tactic: tactic}
}

// Submit builds a submit action.
func Submit(payload, tactic string) Action {
	return Action{Kind: ActionSubmit, Content: payload, Tactic: tactic}
}

// Validate checks the action against the {ask, submit} schema. Content must be
// non-empty and on a single line; submit payloads must be a single token.
func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, a.Kind)
	}
	content := strings.TrimSpace(a.Content)
	if content == "" {
		return fmt.Errorf("%w: empty %s content", ErrInvalidAction, a.Kind)
	}
	if strings.ContainsAny(content, "\r\n") {
		return fmt.Errorf("%w: %s content spans multiple lines", ErrInvalidAction, a.Kind)
	}
	if a.Kind == ActionSubmit && strings.ContainsAny(content, " \t") {
		return fmt.Errorf("%w: submit payload %q is not a single token", ErrInvalidAction, content)
	}
	return nil
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%q)", a.Kind, a.Content)
}
