// Package verifier decides from the page heading alone whether a level was
// passed.
package verifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPattern matches headings such as "Level 3" or "LEVEL 12 of 8".
const DefaultPattern = `(?i)\blevel\s*(\d+)`

// Verdict classifies a heading observation.
type Verdict string

const (
	Advanced  Verdict = "advanced"
	NoChange  Verdict = "no_change"
	Anomalous Verdict = "anomalous"
)

// Result is the outcome of one check. Level is the parsed heading level, or
// zero when the heading could not be parsed.
type Result struct {
	Verdict Verdict
	Level   int
	Reason  string
}

// Verifier parses headings with a fixed pattern.
type Verifier struct {
	pattern *regexp.Regexp
}

// New compiles pattern, which must have one capture group for the level
// number. An empty pattern uses DefaultPattern.
func New(pattern string) (*Verifier, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("verifier: compile pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("verifier: pattern %q has no capture group", pattern)
	}
	return &Verifier{pattern: re}, nil
}

// Default returns a Verifier using DefaultPattern.
func Default() *Verifier {
	v, _ := New(DefaultPattern)
	return v
}

// Parse extracts the level number from a heading.
func (v *Verifier) Parse(heading string) (int, bool) {
	m := v.pattern.FindStringSubmatch(normalize(heading))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Check compares a heading with the level the loop believes it is on. Only
// a single-step increase is Advanced.
func (v *Verifier) Check(prior int, heading string) Result {
	n, ok := v.Parse(heading)
	switch {
	case !ok:
		return Result{Verdict: Anomalous, Reason: fmt.Sprintf("unparsable heading %q", truncate(heading, 80))}
	case n == prior+1:
		return Result{Verdict: Advanced, Level: n}
	case n == prior:
		return Result{Verdict: NoChange, Level: n}
	case n > prior+1:
		return Result{Verdict: Anomalous, Level: n, Reason: fmt.Sprintf("heading jumped from level %d to %d", prior, n)}
	default:
		return Result{Verdict: Anomalous, Level: n, Reason: fmt.Sprintf("heading went back from level %d to %d", prior, n)}
	}
}

// normalize collapses whitespace, including non-breaking spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
