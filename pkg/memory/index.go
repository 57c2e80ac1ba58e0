package memory

import "github.com/entrhq/merlin/pkg/types"

// levelIndex is the derived per-level view over the attempt log.
type levelIndex struct {
	submitted       map[string]types.Outcome // normalized payload -> outcome
	asked           map[string]struct{}      // question fingerprints
	lastHint        string
	asks, submits   int
	attempts        int
	consecutiveAsks int
	tactics         []string
	tacticSeen      map[string]struct{}
	rejected        []string
	solved          string // payload of the latest success, if still valid
}

func newLevelIndex() *levelIndex {
	return &levelIndex{
		submitted:  make(map[string]types.Outcome),
		asked:      make(map[string]struct{}),
		tacticSeen: make(map[string]struct{}),
	}
}

func (x *levelIndex) add(a types.Attempt) {
	x.attempts++
	if a.Hint != "" {
		x.lastHint = a.Hint
	}
	if a.Tactic != "" {
		if _, ok := x.tacticSeen[a.Tactic]; !ok {
			x.tacticSeen[a.Tactic] = struct{}{}
			x.tactics = append(x.tactics, a.Tactic)
		}
	}

	switch a.Kind {
	case types.ActionAsk:
		x.asks++
		x.consecutiveAsks++
		x.asked[Fingerprint(a.Payload)] = struct{}{}
	case types.ActionSubmit:
		x.submits++
		x.consecutiveAsks = 0
		if a.Outcome != types.OutcomeRejected && a.Outcome != types.OutcomeSuccess {
			return
		}
		key := types.NormalizePayload(a.Payload)
		prev, seen := x.submitted[key]
		x.submitted[key] = a.Outcome
		switch {
		case a.Outcome == types.OutcomeSuccess:
			x.solved = a.Payload
		case !seen || prev != types.OutcomeRejected:
			x.rejected = append(x.rejected, a.Payload)
			if types.NormalizePayload(x.solved) == key {
				x.solved = ""
			}
		}
	}
}

func (x *levelIndex) summary(level int) types.LevelSummary {
	return types.LevelSummary{
		Level:           level,
		Asks:            x.asks,
		Submits:         x.submits,
		Attempts:        x.attempts,
		LastHint:        x.lastHint,
		ConsecutiveAsks: x.consecutiveAsks,
		TacticsUsed:     append([]string(nil), x.tactics...),
		Rejected:        append([]string(nil), x.rejected...),
	}
}
