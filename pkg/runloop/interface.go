package runloop

import (
	"context"
	"errors"

	"github.com/entrhq/merlin/pkg/strategist"
	"github.com/entrhq/merlin/pkg/types"
	"github.com/entrhq/merlin/pkg/verifier"
)

// ErrInterfaceTimeout is returned by an Interface when the target did not
// answer in time. Context deadline errors are treated the same way.
var ErrInterfaceTimeout = errors.New("runloop: interface timeout")

// Response is what the target shows after one action.
type Response struct {
	// Text is the chat reply for an ask, or whatever the page said after a
	// submit.
	Text string
	// Heading is the normalized level heading read after the page settled.
	Heading string
	// Hint is popup text captured while dispatching. It never counts as
	// success.
	Hint string
}

// Interface is the target page.
type Interface interface {
	Send(ctx context.Context, action types.Action) (Response, error)
	CurrentHeading(ctx context.Context) (string, error)
}

// Memory is the attempt memory surface the loop drives.
type Memory interface {
	strategist.Recall
	Load(ctx context.Context) error
	Record(ctx context.Context, a types.Attempt) error
	Forget(level int)
}

// Decider chooses actions.
type Decider interface {
	Decide(ctx context.Context, state types.LevelState, recall strategist.Recall) (types.Action, error)
	Fallback(state types.LevelState, recall strategist.Recall) (types.Action, error)
}

// Checker judges headings.
type Checker interface {
	Parse(heading string) (int, bool)
	Check(prior int, heading string) verifier.Result
}

// Reporter receives the run's external records. Calls are made from the
// loop goroutine, one at a time.
type Reporter interface {
	Turn(rec types.TurnRecord)
	LevelCompleted(rep types.LevelReport)
	Diagnostic(d types.Diagnostic)
}

type nopReporter struct{}

func (nopReporter) Turn(types.TurnRecord)            {}
func (nopReporter) LevelCompleted(types.LevelReport) {}
func (nopReporter) Diagnostic(types.Diagnostic)      {}
