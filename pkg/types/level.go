package types

// Speaker identifies who produced a line of the level conversation.
type Speaker string

const (
	SpeakerAgent  Speaker = "agent"
	SpeakerTarget Speaker = "target"
)

// Exchange is one line of conversation at the current level.
type Exchange struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// LevelState is the run loop's view of the level being solved. It is created on
// level entry and replaced when the level advances.
type LevelState struct {
	Level     int
	History   []Exchange
	HintsSeen map[string]struct{}
	Attempts  int
}

// NewLevelState returns an empty state for level.
func NewLevelState(level int) *LevelState {
	return &LevelState{
		Level:     level,
		HintsSeen: make(map[string]struct{}),
	}
}

// AddExchange appends a conversation line.
func (s *LevelState) AddExchange(speaker Speaker, text string) {
	s.History = append(s.History, Exchange{Speaker: speaker, Text: text})
}

// AddHint remembers hint text; empty hints are ignored.
func (s *LevelState) AddHint(hint string) {
	if hint == "" {
		return
	}
	if s.HintsSeen == nil {
		s.HintsSeen = make(map[string]struct{})
	}
	s.HintsSeen[hint] = struct{}{}
}

// LastResponse returns the most recent target text, or "" if there is none.
func (s *LevelState) LastResponse() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Speaker == SpeakerTarget {
			return s.History[i].Text
		}
	}
	return ""
}

// Clone returns a copy that shares no mutable state with s.
func (s *LevelState) Clone() LevelState {
	c := LevelState{
		Level:     s.Level,
		History:   append([]Exchange(nil), s.History...),
		HintsSeen: make(map[string]struct{}, len(s.HintsSeen)),
		Attempts:  s.Attempts,
	}
	for h := range s.HintsSeen {
		c.HintsSeen[h] = struct{}{}
	}
	return c
}

// LevelSummary aggregates what memory knows about one level.
type LevelSummary struct {
	Level    int
	Asks     int
	Submits  int
	Attempts int
	LastHint string

	// ConsecutiveAsks counts the trailing asks since the last submit.
	ConsecutiveAsks int

	// TacticsUsed lists distinct tactics in first-use order.
	TacticsUsed []string

	// Rejected lists payloads submitted and rejected, in submit order.
	Rejected []string
}

// LevelReport is emitted when a level is completed.
type LevelReport struct {
	Level        int      `json:"level_index"`
	TacticsTried []string `json:"tactics_tried"`
	TurnsTaken   int      `json:"turns_taken"`
	FinalPayload string   `json:"final_payload"`
}
