// Package strategist decides the agent's next move at a level: probe the
// chat with a question or submit a candidate password.
//
// Decisions combine three sources, cheapest first: candidates lifted
// directly from the latest reply, a language model reading the level's
// feedback transcript, and a deterministic ladder of probing tactics that
// also serves as the fallback when the model misbehaves.
package strategist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/merlin/pkg/llm/parser"
	"github.com/entrhq/merlin/pkg/llm/tokenizer"
	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/memory"
	"github.com/entrhq/merlin/pkg/types"
)

// ErrTacticsExhausted is returned when no unasked question remains on any
// rung the strategist is allowed to use.
var ErrTacticsExhausted = errors.New("strategist: tactics exhausted")

// StrategyError reports an unusable decision from the model: a failed call,
// output with no JSON object, or an action that fails validation.
type StrategyError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *StrategyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strategist: %s: %v", e.Reason, e.Err)
	}
	return "strategist: " + e.Reason
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Completer is the text-completion capability the strategist consults.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Recall is the read-only view of attempt memory.
type Recall interface {
	WasSubmitted(level int, payload string) bool
	WasRejected(level int, payload string) bool
	SolvedWith(level int) (string, bool)
	WasAsked(level int, fingerprint string) bool
	Summary(level int) types.LevelSummary
	Attempts(level int) []types.Attempt
}

// Config holds the policy parameters.
type Config struct {
	// Ladder is the tactic order; empty means DefaultLadder.
	Ladder []string
	// AskBudget is the run of consecutive asks after which the next ladder
	// question must come from a later rung.
	AskBudget int
	// ConfidenceThreshold gates model submits. A missing confidence counts
	// as 1.0.
	ConfidenceThreshold float64
	// ObfuscateFromLevel is the first level where the secret is called
	// "p4ssw0rd". Zero disables obfuscation.
	ObfuscateFromLevel int
	// MaxIndexProbe caps index questions when the length is unknown.
	MaxIndexProbe int
	// PromptTokenBudget trims the feedback transcript; zero is unlimited.
	PromptTokenBudget int
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		Ladder:              append([]string(nil), DefaultLadder...),
		AskBudget:           3,
		ConfidenceThreshold: 0.6,
		ObfuscateFromLevel:  3,
		MaxIndexProbe:       12,
	}
}

// Validate checks the policy parameters.
func (c Config) Validate() error {
	if c.AskBudget < 1 {
		return fmt.Errorf("ask budget must be at least 1, got %d", c.AskBudget)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxIndexProbe < 1 {
		return fmt.Errorf("max index probe must be at least 1, got %d", c.MaxIndexProbe)
	}
	seen := make(map[string]struct{}, len(c.Ladder))
	for _, t := range c.Ladder {
		if !KnownTactic(t) {
			return fmt.Errorf("unknown tactic %q in ladder", t)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("tactic %q appears twice in ladder", t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// Strategist maps level state and memory to exactly one next Action.
// It holds no per-level state of its own.
type Strategist struct {
	cfg    Config
	model  Completer
	tok    *tokenizer.Tokenizer
	logger logging.Interface
	rungs  map[string]int
}

// Option configures a Strategist.
type Option func(*Strategist)

// WithTokenizer sets the tokenizer used for the prompt budget. Without one
// token counts are estimated.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(s *Strategist) { s.tok = t }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l logging.Interface) Option {
	return func(s *Strategist) { s.logger = l }
}

// New returns a Strategist. A nil model limits decisions to extraction and
// the ladder.
func New(cfg Config, model Completer, opts ...Option) (*Strategist, error) {
	if len(cfg.Ladder) == 0 {
		cfg.Ladder = append([]string(nil), DefaultLadder...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategist: %w", err)
	}
	s := &Strategist{
		cfg:    cfg,
		model:  model,
		logger: logging.Nop(),
		rungs:  make(map[string]int, len(cfg.Ladder)),
	}
	for i, t := range cfg.Ladder {
		s.rungs[t] = i
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Strategist) term(level int) string {
	if s.cfg.ObfuscateFromLevel > 0 && level >= s.cfg.ObfuscateFromLevel {
		return "p4ssw0rd"
	}
	return "password"
}

// Decide returns the next action for state.
//
// A password that already solved this level in an earlier session is
// replayed first. Otherwise the first move at a level is a ladder question.
// After that a candidate extracted from the latest reply is submitted unless
// it was rejected before, then the model is consulted, then the ladder.
// Model failures and malformed model output are returned as *StrategyError
// so the caller can retry or use Fallback.
func (s *Strategist) Decide(ctx context.Context, state types.LevelState, recall Recall) (types.Action, error) {
	if p, ok := recall.SolvedWith(state.Level); ok {
		s.logger.Infof("level %d: replaying known password", state.Level)
		return types.Submit(p, TacticReplay), nil
	}
	if state.Attempts == 0 {
		return s.ladderAsk(state, recall)
	}

	attempts := recall.Attempts(state.Level)
	if a, ok := s.extracted(state.Level, attempts, recall); ok {
		return a, nil
	}
	if s.model == nil {
		return s.ladderAsk(state, recall)
	}

	proposal, err := s.consult(ctx, state, recall, attempts)
	if err != nil {
		return types.Action{}, err
	}

	escalate := s.escalationDue(state.Level, attempts)
	switch proposal.action.Kind {
	case types.ActionSubmit:
		if recall.WasRejected(state.Level, proposal.action.Content) {
			s.logger.Debugf("level %d: model repeated rejected payload %q", state.Level, proposal.action.Content)
			break
		}
		if proposal.confidence >= s.cfg.ConfidenceThreshold {
			return proposal.action, nil
		}
	case types.ActionAsk:
		if !escalate && !recall.WasAsked(state.Level, memory.Fingerprint(proposal.action.Content)) {
			return proposal.action, nil
		}
	}

	a, err := s.ladderAsk(state, recall)
	if !errors.Is(err, ErrTacticsExhausted) {
		return a, err
	}

	// Nothing later on the ladder: take any fresh move the model offered.
	switch proposal.action.Kind {
	case types.ActionAsk:
		if !recall.WasAsked(state.Level, memory.Fingerprint(proposal.action.Content)) {
			return proposal.action, nil
		}
	case types.ActionSubmit:
		if !recall.WasRejected(state.Level, proposal.action.Content) {
			return proposal.action, nil
		}
	}
	return types.Action{}, err
}

// Fallback returns the next ladder question without consulting the model.
func (s *Strategist) Fallback(state types.LevelState, recall Recall) (types.Action, error) {
	return s.ladderAsk(state, recall)
}

// extracted returns a submit for the first unseen candidate in the reply to
// the latest ask.
func (s *Strategist) extracted(level int, attempts []types.Attempt, recall Recall) (types.Action, bool) {
	if len(attempts) == 0 {
		return types.Action{}, false
	}
	last := attempts[len(attempts)-1]
	if last.Kind != types.ActionAsk || strings.TrimSpace(last.Response) == "" {
		return types.Action{}, false
	}

	candidates := ExtractCandidates(last.Response)
	switch last.Tactic {
	case TacticAcrostic:
		if c, ok := AcrosticCandidate(last.Response); ok {
			candidates = append([]string{c}, candidates...)
		}
	case TacticCharClass, TacticIndex, TacticLength:
	default:
		if c, ok := LettersCandidate(last.Response); ok {
			candidates = append(candidates, c)
		}
	}

	for _, c := range candidates {
		if recall.WasRejected(level, c) {
			continue
		}
		a := types.Submit(c, TacticExtract)
		if a.Validate() != nil {
			continue
		}
		s.logger.Debugf("level %d: extracted candidate %q", level, c)
		return a, true
	}
	return types.Action{}, false
}

type proposal struct {
	action     types.Action
	confidence float64
}

// consult asks the model for one JSON action, retrying once with a
// format-only reminder.
func (s *Strategist) consult(ctx context.Context, state types.LevelState, recall Recall, attempts []types.Attempt) (proposal, error) {
	prompt := s.buildPrompt(state, recall, knownLength(attempts))

	var raw string
	var obj map[string]interface{}
	for try := 0; try < 2; try++ {
		p := prompt
		if try > 0 {
			p += formatOnlySuffix
		}
		out, err := s.model.Complete(ctx, p)
		if err != nil {
			return proposal{}, &StrategyError{Reason: "model call failed", Err: err}
		}
		raw = out
		var ok bool
		if obj, ok = parser.ExtractJSONObject(out); ok {
			break
		}
		s.logger.Warnf("level %d: model output had no JSON object (try %d)", state.Level, try+1)
	}
	if obj == nil {
		return proposal{}, &StrategyError{Reason: "no JSON object in model output", Raw: raw}
	}

	thinking, _ := parser.SplitThinking(raw)
	p, err := toProposal(obj)
	if err != nil {
		return proposal{}, &StrategyError{Reason: "invalid model action", Raw: raw, Err: err}
	}
	p.action.Reasoning = thinking
	return p, nil
}

func toProposal(obj map[string]interface{}) (proposal, error) {
	kind, _ := parser.StringField(obj, "action")
	p := proposal{confidence: 1.0}

	switch types.ActionKind(strings.ToLower(kind)) {
	case types.ActionAsk:
		q, _ := parser.StringField(obj, "question")
		p.action = types.Ask(q, TacticModel)
	case types.ActionSubmit:
		answer, ok := parser.StringField(obj, "answer")
		if !ok {
			answer, _ = parser.StringField(obj, "password")
		}
		p.action = types.Submit(answer, TacticModel)
		if c, ok := obj["confidence"].(float64); ok {
			p.confidence = c
		}
	default:
		return p, fmt.Errorf("%w: action %q", types.ErrInvalidAction, kind)
	}
	return p, p.action.Validate()
}

// ladderAsk picks the first unasked question on the lowest allowed rung.
// Without escalation the ladder never moves back below the highest rung
// already used; with escalation it must move past it.
func (s *Strategist) ladderAsk(state types.LevelState, recall Recall) (types.Action, error) {
	attempts := recall.Attempts(state.Level)
	high := s.highestRung(attempts)
	start := high
	if start < 0 {
		start = 0
	}
	if s.escalationDue(state.Level, attempts) {
		start = high + 1
	}

	term := s.term(state.Level)
	length := knownLength(attempts)
	for rung := start; rung < len(s.cfg.Ladder); rung++ {
		tactic := s.cfg.Ladder[rung]
		for _, q := range s.questions(tactic, term, length) {
			if recall.WasAsked(state.Level, memory.Fingerprint(q)) {
				continue
			}
			return types.Ask(q, tactic), nil
		}
	}
	return types.Action{}, ErrTacticsExhausted
}

func (s *Strategist) highestRung(attempts []types.Attempt) int {
	high := -1
	for _, a := range attempts {
		if a.Kind != types.ActionAsk {
			continue
		}
		if r, ok := s.rungs[a.Tactic]; ok && r > high {
			high = r
		}
	}
	return high
}

// escalationDue reports whether the trailing asks since the last submit fill
// a whole number of ask budgets with distinct questions.
func (s *Strategist) escalationDue(level int, attempts []types.Attempt) bool {
	run := 0
	for i := len(attempts) - 1; i >= 0 && attempts[i].Kind == types.ActionAsk; i-- {
		run++
	}
	if run == 0 || run%s.cfg.AskBudget != 0 {
		return false
	}
	seen := make(map[string]struct{}, s.cfg.AskBudget)
	for _, a := range attempts[len(attempts)-s.cfg.AskBudget:] {
		seen[memory.Fingerprint(a.Payload)] = struct{}{}
	}
	return len(seen) == s.cfg.AskBudget
}

// knownLength returns the most recent length the chat gave in answer to a
// "how many letters" question.
func knownLength(attempts []types.Attempt) int {
	for i := len(attempts) - 1; i >= 0; i-- {
		a := attempts[i]
		if a.Kind != types.ActionAsk || a.Tactic != TacticLength {
			continue
		}
		if !strings.Contains(memory.Fingerprint(a.Payload), "how many letters") {
			continue
		}
		if n, ok := parseLength(a.Response); ok {
			return n
		}
	}
	return 0
}

func sortedHints(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
