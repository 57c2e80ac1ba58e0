// Package runloop sequences turns against the target page.
//
// Each turn is Decide -> Send -> Check -> Record. A level is passed only when
// the Checker sees the heading step up by one; hints, replies and anything
// else the page shows are recorded but never count as success.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/memory"
	"github.com/entrhq/merlin/pkg/strategist"
	"github.com/entrhq/merlin/pkg/types"
	"github.com/entrhq/merlin/pkg/verifier"
)

// State is a run loop state.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingDecision State = "awaiting_decision"
	StateDispatching      State = "dispatching"
	StateAwaitingResponse State = "awaiting_response"
	StateVerifying        State = "verifying"
	StateAdvancing        State = "advancing"
	StateContinuing       State = "continuing"
	StateHalting          State = "halting"
)

// errStopped marks an abort caused by context cancellation.
var errStopped = errors.New("runloop: stopped")

// Loop owns the current LevelState. It is not safe for concurrent use;
// Run drives everything from the calling goroutine.
type Loop struct {
	cfg      Config
	mem      Memory
	strat    Decider
	check    Checker
	target   Interface
	reporter Reporter
	logger   logging.Interface
	observe  func(from, to State)
	now      func() time.Time

	state State
	level *types.LevelState
	turns int
}

// Option configures a Loop.
type Option func(*Loop)

// WithReporter receives turn records, level reports and diagnostics.
func WithReporter(r Reporter) Option {
	return func(l *Loop) { l.reporter = r }
}

// WithLogger sets the logger; the default discards.
func WithLogger(lg logging.Interface) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(from, to State)) Option {
	return func(l *Loop) { l.observe = fn }
}

// New wires a loop.
func New(cfg Config, mem Memory, strat Decider, check Checker, target Interface, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runloop: %w", err)
	}
	if mem == nil || strat == nil || check == nil || target == nil {
		return nil, errors.New("runloop: memory, strategist, verifier and interface are required")
	}
	l := &Loop{
		cfg:      cfg,
		mem:      mem,
		strat:    strat,
		check:    check,
		target:   target,
		reporter: nopReporter{},
		logger:   logging.Nop(),
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the current state.
func (l *Loop) State() State { return l.state }

func (l *Loop) transition(to State) {
	from := l.state
	l.state = to
	if l.observe != nil {
		l.observe(from, to)
	}
}

func (l *Loop) diagnose(kind types.DiagnosticKind, format string, args ...interface{}) string {
	level := 0
	if l.level != nil {
		level = l.level.Level
	}
	msg := fmt.Sprintf(format, args...)
	l.reporter.Diagnostic(types.Diagnostic{
		Kind:      kind,
		Level:     level,
		Turn:      l.turns,
		Message:   msg,
		Timestamp: l.now().UTC(),
	})
	if kind == types.DiagAnomalous {
		l.logger.Warnf("level %d turn %d: %s", level, l.turns, msg)
	} else {
		l.logger.Errorf("level %d turn %d: %s: %s", level, l.turns, kind, msg)
	}
	return msg
}

func (l *Loop) halt(kind types.StatusKind, reason string) types.RunStatus {
	l.transition(StateHalting)
	st := types.RunStatus{Kind: kind, Reason: reason, Turns: l.turns}
	if l.level != nil {
		st.Level = l.level.Level
	}
	l.logger.Infof("run finished: %s after %d turns", st, l.turns)
	return st
}

func (l *Loop) fail(format string, args ...interface{}) types.RunStatus {
	return l.halt(types.StatusFailed, l.diagnose(types.DiagFatal, format, args...))
}

// Run drives the loop until completion, budget exhaustion, a fatal error or
// cancellation of ctx. A dispatch already in flight when ctx is cancelled is
// allowed to finish and be recorded.
func (l *Loop) Run(ctx context.Context) types.RunStatus {
	l.transition(StateIdle)
	if err := l.mem.Load(ctx); err != nil {
		if ctx.Err() != nil {
			return l.halt(types.StatusHalted, types.ReasonStopped)
		}
		return l.fail("load memory: %v", err)
	}

	headingCtx, cancel := context.WithTimeout(ctx, l.cfg.ResponseTimeout)
	heading, err := l.target.CurrentHeading(headingCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return l.halt(types.StatusHalted, types.ReasonStopped)
		}
		return l.fail("read heading: %v", err)
	}
	start, ok := l.check.Parse(heading)
	if !ok {
		return l.fail("unparsable starting heading %q", heading)
	}
	l.level = l.resume(start)
	l.logger.Infof("starting at level %d with %d prior attempts", start, l.level.Attempts)

	for {
		if l.level.Level >= l.cfg.MaxLevel {
			return l.halt(types.StatusCompleted, "")
		}
		if ctx.Err() != nil {
			return l.halt(types.StatusHalted, types.ReasonStopped)
		}
		if l.turns >= l.cfg.TurnBudget {
			return l.halt(types.StatusHalted, types.ReasonBudgetExhausted)
		}

		l.transition(StateAwaitingDecision)
		action, err := l.decide(ctx)
		if err != nil {
			if errors.Is(err, errStopped) {
				return l.halt(types.StatusHalted, types.ReasonStopped)
			}
			return l.fail("decide at level %d: %v", l.level.Level, err)
		}
		if ctx.Err() != nil {
			return l.halt(types.StatusHalted, types.ReasonStopped)
		}

		resp, err := l.dispatch(ctx, action)
		if err != nil {
			if errors.Is(err, errStopped) {
				return l.halt(types.StatusHalted, types.ReasonStopped)
			}
			return l.fail("dispatch %s: %v", action.Kind, err)
		}
		l.turns++

		if st, done := l.settle(ctx, action, resp); done {
			return st
		}
	}
}

// resume rebuilds the level state from memory so a restarted session carries
// its history, hints and attempt count.
func (l *Loop) resume(level int) *types.LevelState {
	s := types.NewLevelState(level)
	for _, a := range l.mem.Attempts(level) {
		s.AddExchange(types.SpeakerAgent, a.Payload)
		if a.Response != "" {
			s.AddExchange(types.SpeakerTarget, a.Response)
		}
		s.AddHint(a.Hint)
		s.Attempts++
	}
	return s
}

// decide asks the strategist, retrying StrategyErrors, then falls back to
// the ladder. A submit of an already rejected payload is refused.
func (l *Loop) decide(ctx context.Context) (types.Action, error) {
	state := l.level.Clone()
	for try := 0; try <= l.cfg.DecisionRetries; try++ {
		action, err := l.strat.Decide(ctx, state, l.mem)
		if err == nil {
			err = l.admit(action)
		}
		if err == nil {
			return action, nil
		}
		if ctx.Err() != nil {
			return types.Action{}, errStopped
		}
		l.diagnose(types.DiagStrategyError, "decision try %d: %v", try+1, err)
		var serr *strategist.StrategyError
		if !errors.As(err, &serr) {
			break
		}
	}

	action, err := l.strat.Fallback(state, l.mem)
	if err == nil {
		err = l.admit(action)
	}
	if err != nil {
		return types.Action{}, fmt.Errorf("fallback: %w", err)
	}
	l.logger.Infof("level %d: using fallback %s", l.level.Level, action)
	return action, nil
}

func (l *Loop) admit(a types.Action) error {
	if err := a.Validate(); err != nil {
		return &strategist.StrategyError{Reason: "invalid action", Err: err}
	}
	if a.Kind == types.ActionSubmit && l.mem.WasRejected(l.level.Level, a.Content) {
		return &strategist.StrategyError{Reason: fmt.Sprintf("payload %q was already rejected", a.Content)}
	}
	return nil
}

// dispatch sends one action. The send is detached from ctx so cancellation
// never interrupts a message half-way; timeouts are re-sent with backoff.
func (l *Loop) dispatch(ctx context.Context, a types.Action) (Response, error) {
	detached := context.WithoutCancel(ctx)
	for try := 0; ; try++ {
		l.transition(StateDispatching)
		callCtx, cancel := context.WithTimeout(detached, l.cfg.ResponseTimeout)
		l.transition(StateAwaitingResponse)
		resp, err := l.target.Send(callCtx, a)
		cancel()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrInterfaceTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return Response{}, err
		}

		l.diagnose(types.DiagInterfaceTimeout, "%s try %d timed out: %v", a.Kind, try+1, err)
		if try >= l.cfg.DispatchRetries {
			return Response{}, fmt.Errorf("%w after %d tries", ErrInterfaceTimeout, try+1)
		}

		t := time.NewTimer(l.cfg.RetryBaseDelay << try)
		select {
		case <-ctx.Done():
			t.Stop()
			return Response{}, errStopped
		case <-t.C:
		}
	}
}

// settle verifies the turn, records it and moves the level state. It reports
// done with a terminal status when the run must stop.
func (l *Loop) settle(ctx context.Context, a types.Action, resp Response) (types.RunStatus, bool) {
	l.transition(StateVerifying)
	result := l.check.Check(l.level.Level, resp.Heading)
	outcome := classify(a, result, resp)

	attempt := types.Attempt{
		Level:    l.level.Level,
		Kind:     a.Kind,
		Payload:  a.Content,
		Response: resp.Text,
		Outcome:  outcome,
		Tactic:   a.Tactic,
		Hint:     resp.Hint,
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.RecordTimeout)
	err := l.mem.Record(recCtx, attempt)
	cancel()
	if err != nil {
		var perr *memory.PersistenceError
		if !errors.As(err, &perr) {
			return l.fail("record attempt: %v", err), true
		}
		msg := l.diagnose(types.DiagPersistenceError, "%v", err)
		if l.cfg.PersistenceFailure == PersistenceHalt {
			return l.halt(types.StatusFailed, msg), true
		}
	}

	l.reporter.Turn(types.TurnRecord{
		Turn:      l.turns,
		Level:     l.level.Level,
		Action:    a,
		Response:  resp.Text,
		Heading:   resp.Heading,
		Hint:      resp.Hint,
		Verdict:   string(result.Verdict),
		Outcome:   outcome,
		Reasoning: a.Reasoning,
		Timestamp: l.now().UTC(),
	})

	if result.Verdict == verifier.Advanced {
		l.transition(StateAdvancing)
		done := l.level.Level
		summary := l.mem.Summary(done)
		report := types.LevelReport{
			Level:        done,
			TacticsTried: summary.TacticsUsed,
			TurnsTaken:   summary.Attempts,
		}
		if a.Kind == types.ActionSubmit {
			report.FinalPayload = a.Content
		}
		l.reporter.LevelCompleted(report)
		l.mem.Forget(done)
		l.level = types.NewLevelState(result.Level)
		l.logger.Infof("level %d passed with %s; now at level %d", done, a, result.Level)
		return types.RunStatus{}, false
	}

	l.transition(StateContinuing)
	if result.Verdict == verifier.Anomalous {
		l.diagnose(types.DiagAnomalous, "%s", result.Reason)
	}
	l.level.AddExchange(types.SpeakerAgent, a.Content)
	if resp.Text != "" {
		l.level.AddExchange(types.SpeakerTarget, resp.Text)
	}
	l.level.AddHint(resp.Hint)
	l.level.Attempts++
	return types.RunStatus{}, false
}

// classify maps a verdict to the recorded outcome. A failed ask is rejected
// only when the reply is a refusal; otherwise it stays ambiguous.
func classify(a types.Action, result verifier.Result, resp Response) types.Outcome {
	switch result.Verdict {
	case verifier.Advanced:
		return types.OutcomeSuccess
	case verifier.Anomalous:
		return types.OutcomeAmbiguous
	}
	if a.Kind == types.ActionSubmit || strategist.IsRefusal(resp.Text) {
		return types.OutcomeRejected
	}
	return types.OutcomeAmbiguous
}
