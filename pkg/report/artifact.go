package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/types"
)

// Artifact file names inside a run directory.
const (
	TranscriptFile  = "transcript.jsonl"
	DiagnosticsFile = "diagnostics.jsonl"
	LevelsFile      = "levels.jsonl"
	SummaryJSONFile = "summary.json"
	SummaryMDFile   = "summary.md"
	ThinkDir        = "think"
)

// Snapshotter captures the page for artifacts.
type Snapshotter interface {
	Screenshot(path string) error
	DumpDOM(path string) error
}

// Summary is the final record of a run.
type Summary struct {
	Status      types.RunStatus     `json:"status"`
	StartTime   time.Time           `json:"start_time"`
	EndTime     time.Time           `json:"end_time"`
	Duration    time.Duration       `json:"duration"`
	Levels      []types.LevelReport `json:"levels"`
	Diagnostics int                 `json:"diagnostics"`
	ArtifactDir string              `json:"artifact_dir,omitempty"`
}

// SessionDir returns the per-run directory name under root for a run
// started at t.
func SessionDir(root string, t time.Time) string {
	return filepath.Join(root, "session-"+t.Format("20060102-150405"))
}

// ArtifactWriter writes run artifacts to a directory. It implements
// runloop.Reporter; write failures are logged and kept for Err.
type ArtifactWriter struct {
	mu        sync.Mutex
	outputDir string
	start     time.Time
	logger    logging.Interface
	snap      Snapshotter

	levels      []types.LevelReport
	diagnostics int
	dumped      map[int]bool
	err         error
}

var _ runloop.Reporter = (*ArtifactWriter)(nil)

// ArtifactOption configures an ArtifactWriter.
type ArtifactOption func(*ArtifactWriter)

// WithSnapshotter takes a screenshot after every turn and a DOM dump on the
// first turn of each level.
func WithSnapshotter(s Snapshotter) ArtifactOption {
	return func(w *ArtifactWriter) {
		w.snap = s
	}
}

// WithArtifactLogger sets the logger for write failures.
func WithArtifactLogger(l logging.Interface) ArtifactOption {
	return func(w *ArtifactWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewArtifactWriter creates outputDir and returns a writer for it.
func NewArtifactWriter(outputDir string, opts ...ArtifactOption) (*ArtifactWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	w := &ArtifactWriter{
		outputDir: outputDir,
		start:     time.Now(),
		logger:    logging.Nop(),
		dumped:    make(map[int]bool),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Dir returns the output directory.
func (w *ArtifactWriter) Dir() string {
	return w.outputDir
}

// Err returns the first write failure, if any.
func (w *ArtifactWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Turn appends a transcript line, saves any reasoning trace and captures
// the page when a snapshotter is configured.
func (w *ArtifactWriter) Turn(rec types.TurnRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.fail(w.appendJSONL(TranscriptFile, rec))
	if strings.TrimSpace(rec.Reasoning) != "" {
		w.fail(w.writeThink(rec))
	}
	if w.snap == nil {
		return
	}
	if !w.dumped[rec.Level] {
		w.dumped[rec.Level] = true
		path := filepath.Join(w.outputDir, fmt.Sprintf("dom_level%d.html", rec.Level))
		if err := w.snap.DumpDOM(path); err != nil {
			w.logger.Warnf("DOM dump failed: %v", err)
		}
	}
	shot := filepath.Join(w.outputDir, fmt.Sprintf("level%02d_attempt%02d.png", rec.Level, rec.Turn))
	if err := w.snap.Screenshot(shot); err != nil {
		w.logger.Warnf("Screenshot failed: %v", err)
	}
}

// LevelCompleted appends the report to levels.jsonl.
func (w *ArtifactWriter) LevelCompleted(rep types.LevelReport) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.levels = append(w.levels, rep)
	w.fail(w.appendJSONL(LevelsFile, rep))
}

// Diagnostic appends the entry to diagnostics.jsonl.
func (w *ArtifactWriter) Diagnostic(d types.Diagnostic) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.diagnostics++
	w.fail(w.appendJSONL(DiagnosticsFile, d))
}

// Finish writes summary.json and summary.md for the final status and
// returns the summary it wrote.
func (w *ArtifactWriter) Finish(status types.RunStatus) (Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := time.Now()
	s := Summary{
		Status:      status,
		StartTime:   w.start,
		EndTime:     end,
		Duration:    end.Sub(w.start),
		Levels:      append([]types.LevelReport(nil), w.levels...),
		Diagnostics: w.diagnostics,
		ArtifactDir: w.outputDir,
	}
	if err := w.writeSummaryJSON(s); err != nil {
		return s, err
	}
	if err := w.writeSummaryMarkdown(s); err != nil {
		return s, err
	}
	return s, nil
}

func (w *ArtifactWriter) fail(err error) {
	if err == nil {
		return
	}
	w.logger.Errorf("Artifact write failed: %v", err)
	if w.err == nil {
		w.err = err
	}
}

func (w *ArtifactWriter) appendJSONL(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", name, err)
	}
	f, err := os.OpenFile(filepath.Join(w.outputDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return nil
}

func (w *ArtifactWriter) writeThink(rec types.TurnRecord) error {
	dir := filepath.Join(w.outputDir, ThinkDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create think directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("l%02d_turn%02d.txt", rec.Level, rec.Turn))
	if err := os.WriteFile(path, []byte(rec.Reasoning), 0644); err != nil {
		return fmt.Errorf("failed to write reasoning trace: %w", err)
	}
	w.logger.Debugf("Saved model reasoning to %s", path)
	return nil
}

func (w *ArtifactWriter) writeSummaryJSON(s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.outputDir, SummaryJSONFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write summary JSON: %w", err)
	}
	return nil
}

func (w *ArtifactWriter) writeSummaryMarkdown(s Summary) error {
	var md strings.Builder

	md.WriteString("# Merlin Run Summary\n\n")
	fmt.Fprintf(&md, "**Status:** %s\n\n", s.Status)
	fmt.Fprintf(&md, "**Level reached:** %d\n\n", s.Status.Level)
	fmt.Fprintf(&md, "**Turns:** %d\n\n", s.Status.Turns)
	fmt.Fprintf(&md, "**Started:** %s\n\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Finished:** %s\n\n", s.EndTime.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Duration:** %s\n\n", s.Duration.Round(time.Second))

	md.WriteString("## Result\n\n")
	switch s.Status.Kind {
	case types.StatusCompleted:
		md.WriteString("✅ **Completed**\n\n")
	case types.StatusHalted:
		fmt.Fprintf(&md, "⏸ **Halted:** %s\n\n", s.Status.Reason)
	default:
		fmt.Fprintf(&md, "❌ **Failed:** %s\n\n", s.Status.Reason)
	}

	if len(s.Levels) > 0 {
		md.WriteString("## Levels\n\n")
		md.WriteString("| Level | Password | Turns | Tactics |\n")
		md.WriteString("|-------|----------|-------|---------|\n")
		for _, l := range s.Levels {
			fmt.Fprintf(&md, "| %d | `%s` | %d | %s |\n", l.Level, l.FinalPayload, l.TurnsTaken, strings.Join(l.TacticsTried, ", "))
		}
		md.WriteString("\n")
	}

	if s.Diagnostics > 0 {
		fmt.Fprintf(&md, "## Diagnostics\n\n%d entries in `%s`.\n", s.Diagnostics, DiagnosticsFile)
	}

	if err := os.WriteFile(filepath.Join(w.outputDir, SummaryMDFile), []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return nil
}
