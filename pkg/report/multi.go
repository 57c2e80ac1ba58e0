// Package report turns run loop events into console output and on-disk
// artifacts.
package report

import (
	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/types"
)

// Multi fans every event out to each reporter in order.
type Multi []runloop.Reporter

var _ runloop.Reporter = Multi(nil)

// NewMulti builds a Multi, skipping nil reporters.
func NewMulti(reporters ...runloop.Reporter) Multi {
	m := make(Multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) Turn(rec types.TurnRecord) {
	for _, r := range m {
		r.Turn(rec)
	}
}

func (m Multi) LevelCompleted(rep types.LevelReport) {
	for _, r := range m {
		r.LevelCompleted(rep)
	}
}

func (m Multi) Diagnostic(d types.Diagnostic) {
	for _, r := range m {
		r.Diagnostic(d)
	}
}
