package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/types"
)

// Verbosity controls how much the console reporter prints.
type Verbosity int

const (
	// VerbosityQuiet shows only diagnostics and the final summary.
	VerbosityQuiet Verbosity = iota
	// VerbosityNormal shows one line per turn and level completions (default).
	VerbosityNormal
	// VerbosityVerbose prints every exchange in full.
	VerbosityVerbose
	// VerbosityDebug adds model reasoning and timestamps.
	VerbosityDebug
)

// ParseVerbosity converts a config string to a Verbosity. Unknown values
// map to VerbosityNormal.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quiet":
		return VerbosityQuiet
	case "verbose":
		return VerbosityVerbose
	case "debug":
		return VerbosityDebug
	default:
		return VerbosityNormal
	}
}

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	coralPink   = lipgloss.Color("#FFCCCB")
	mintGreen   = lipgloss.Color("#A8E6CF")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
	amber       = lipgloss.Color("#FCD34D")
)

type consoleStyles struct {
	header  lipgloss.Style
	prompt  lipgloss.Style
	reply   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		header:  r.NewStyle().Foreground(salmonPink).Bold(true),
		prompt:  r.NewStyle().Foreground(coralPink).Bold(true),
		reply:   r.NewStyle().Foreground(brightWhite),
		success: r.NewStyle().Foreground(mintGreen).Bold(true),
		warn:    r.NewStyle().Foreground(amber),
		failure: r.NewStyle().Foreground(salmonPink).Bold(true),
		muted:   r.NewStyle().Foreground(mutedGray),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1),
	}
}

// Console prints the run to a terminal.
type Console struct {
	level     Verbosity
	writer    io.Writer
	styles    consoleStyles
	startTime time.Time
	lastLevel int
}

var _ runloop.Reporter = (*Console)(nil)

// NewConsole creates a console reporter writing to w, or stdout when w is
// nil. Colors are dropped automatically when w is not a terminal.
func NewConsole(level Verbosity, w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{
		level:     level,
		writer:    w,
		styles:    newConsoleStyles(lipgloss.NewRenderer(w)),
		startTime: time.Now(),
	}
}

// Header prints the run banner.
func (c *Console) Header(title string, lines ...string) {
	if c.level < VerbosityNormal {
		return
	}
	body := c.styles.header.Render(title)
	for _, l := range lines {
		body += "\n" + c.styles.muted.Render(l)
	}
	fmt.Fprintln(c.writer, c.styles.box.Render(body))
}

// Turn prints one exchange.
func (c *Console) Turn(rec types.TurnRecord) {
	if c.level < VerbosityNormal {
		return
	}
	if rec.Level != c.lastLevel {
		c.lastLevel = rec.Level
		fmt.Fprintf(c.writer, "\n%s\n", c.styles.header.Render(fmt.Sprintf("=== Level %d ===", rec.Level)))
	}

	if c.level == VerbosityNormal {
		fmt.Fprintf(c.writer, "%s %s %s %s\n",
			c.styles.muted.Render(fmt.Sprintf("[%d]", rec.Turn)),
			c.styles.prompt.Render(string(rec.Action.Kind)),
			truncate(singleLine(rec.Action.Content), 80),
			c.outcome(rec))
		return
	}

	fmt.Fprintln(c.writer, c.styles.muted.Render(strings.Repeat("=", 16)+" EXCHANGE "+strings.Repeat("=", 16)))
	fmt.Fprintf(c.writer, "Turn %d  Level %d  Tactic %s\n", rec.Turn, rec.Level, rec.Action.Tactic)
	if c.level >= VerbosityDebug && rec.Reasoning != "" {
		fmt.Fprintf(c.writer, "%s\n%s\n", c.styles.muted.Render("... reasoning:"), c.styles.muted.Render(truncate(rec.Reasoning, 600)))
	}
	label := ">>> PROMPT SENT:"
	if rec.Action.Kind == types.ActionSubmit {
		label = ">>> PASSWORD SUBMITTED:"
	}
	fmt.Fprintf(c.writer, "%s\n%s\n", c.styles.prompt.Render(label), rec.Action.Content)
	if rec.Response != "" {
		fmt.Fprintf(c.writer, "%s\n%s\n", c.styles.prompt.Render("<<< REPLY RECEIVED:"), c.styles.reply.Render(rec.Response))
	}
	if rec.Hint != "" {
		fmt.Fprintf(c.writer, "%s %s\n", c.styles.warn.Render("[Modal Hint]"), rec.Hint)
	}
	fmt.Fprintf(c.writer, "Heading: %s  Verdict: %s  %s\n", rec.Heading, rec.Verdict, c.outcome(rec))
	if c.level >= VerbosityDebug {
		fmt.Fprintln(c.writer, c.styles.muted.Render(rec.Timestamp.Format(time.RFC3339Nano)))
	}
}

func (c *Console) outcome(rec types.TurnRecord) string {
	switch rec.Outcome {
	case types.OutcomeSuccess:
		return c.styles.success.Render("✓ " + string(rec.Outcome))
	case types.OutcomeRejected:
		return c.styles.failure.Render("✗ " + string(rec.Outcome))
	default:
		return c.styles.muted.Render("· " + string(rec.Outcome))
	}
}

// LevelCompleted prints a solved level.
func (c *Console) LevelCompleted(rep types.LevelReport) {
	if c.level < VerbosityNormal {
		return
	}
	fmt.Fprintf(c.writer, "%s\n", c.styles.success.Render(
		fmt.Sprintf("✓ SOLVED L%d: %s (%d turns, tactics: %s)",
			rep.Level, rep.FinalPayload, rep.TurnsTaken, strings.Join(rep.TacticsTried, ", "))))
}

// Diagnostic prints anomalies and errors at every verbosity.
func (c *Console) Diagnostic(d types.Diagnostic) {
	style := c.styles.warn
	prefix := "⚠"
	if d.Kind == types.DiagFatal {
		style = c.styles.failure
		prefix = "✗"
	}
	fmt.Fprintf(c.writer, "%s\n", style.Render(fmt.Sprintf("%s %s (level %d, turn %d): %s", prefix, d.Kind, d.Level, d.Turn, d.Message)))
}

// Summary prints the final run status.
func (c *Console) Summary(s Summary) {
	var b strings.Builder
	b.WriteString(c.styles.header.Render("RUN SUMMARY"))
	b.WriteString("\n")

	status := s.Status.String()
	switch s.Status.Kind {
	case types.StatusCompleted:
		status = c.styles.success.Render("✓ " + status)
	case types.StatusHalted:
		status = c.styles.warn.Render("⚠ " + status)
	default:
		status = c.styles.failure.Render("✗ " + status)
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Level: %d  Turns: %d  Duration: %s", s.Status.Level, s.Status.Turns, s.Duration.Round(time.Second))
	if len(s.Levels) > 0 {
		b.WriteString("\n")
		for _, l := range s.Levels {
			fmt.Fprintf(&b, "\n  L%d  %-20s %d turns", l.Level, l.FinalPayload, l.TurnsTaken)
		}
	}
	if c.level >= VerbosityVerbose && s.Diagnostics > 0 {
		fmt.Fprintf(&b, "\n\nDiagnostics: %d", s.Diagnostics)
	}
	if s.ArtifactDir != "" {
		fmt.Fprintf(&b, "\n%s", c.styles.muted.Render("Artifacts: "+s.ArtifactDir))
	}
	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, c.styles.box.Render(b.String()))
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
