// Package main runs the merlin agent against a password-gated level page.
// It wires the browser driver, attempt memory, strategist and verifier into
// the run loop and writes per-run artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/entrhq/merlin/pkg/browser"
	"github.com/entrhq/merlin/pkg/config"
	"github.com/entrhq/merlin/pkg/llm"
	"github.com/entrhq/merlin/pkg/llm/tokenizer"
	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/memory"
	"github.com/entrhq/merlin/pkg/report"
	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/strategist"
	"github.com/entrhq/merlin/pkg/types"
	"github.com/entrhq/merlin/pkg/verifier"
)

const (
	version = "0.1.0"

	// llmRequestTimeout bounds one model call; local models can be slow.
	llmRequestTimeout = 10 * time.Minute
)

// Exit codes.
const (
	exitCompleted = 0
	exitFailed    = 1
	exitHalted    = 2
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	URL         string
	Model       string
	BaseURL     string
	APIKey      string
	Headless    bool
	MaxLevel    int
	Turns       int
	Resume      bool
	ShowVersion bool

	// set records which flags were given explicitly.
	set map[string]bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("Merlin v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// The loop halts after the in-flight dispatch completes.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nStopping after the current turn...")
		cancel()
	}()

	code, err := run(ctx, cli)
	cancel()
	if err != nil {
		log.Printf("Run failed: %v", err)
		os.Exit(exitFailed)
	}
	os.Exit(code)
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{set: make(map[string]bool)}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.URL, "url", "", "Target page URL")
	flag.StringVar(&cli.Model, "model", "", "LLM model to use (or set MERLIN_MODEL)")
	flag.StringVar(&cli.BaseURL, "base-url", "", "OpenAI-compatible API base URL (or set OPENAI_BASE_URL)")
	flag.StringVar(&cli.APIKey, "api-key", "", "API key (or set OPENAI_API_KEY)")
	flag.BoolVar(&cli.Headless, "headless", true, "Run the browser without a window")
	flag.IntVar(&cli.MaxLevel, "max-level", 0, "Stop after reaching this level")
	flag.IntVar(&cli.Turns, "turns", 0, "Turn budget")
	flag.BoolVar(&cli.Resume, "resume", false, "Reuse the configured attempt store instead of a fresh one")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Merlin - level-solving agent\n\n")
		fmt.Fprintf(os.Stderr, "Usage: merlin [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Local Ollama model, visible browser\n")
		fmt.Fprintf(os.Stderr, "  merlin -model deepseek-r1:7b -headless=false\n\n")
		fmt.Fprintf(os.Stderr, "  # Config file, continue from earlier attempts\n")
		fmt.Fprintf(os.Stderr, "  merlin -config merlin.yaml -resume\n\n")
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) { cli.set[f.Name] = true })
	return cli
}

// loadConfig resolves the configuration: flags over environment over file
// over defaults.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	if err := config.LoadEnvFile(); err != nil {
		log.Printf("Ignoring .env: %v", err)
	}

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	config.Overrides{Model: cli.Model, BaseURL: cli.BaseURL, APIKey: cli.APIKey}.Apply(cfg)

	if cli.URL != "" {
		cfg.Target.URL = cli.URL
	}
	if cli.set["headless"] {
		cfg.Target.Headless = cli.Headless
	}
	if cli.MaxLevel > 0 {
		cfg.Loop.MaxLevel = cli.MaxLevel
	}
	if cli.Turns > 0 {
		cfg.Loop.TurnBudget = cli.Turns
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run wires the components and drives one run. It returns the process exit
// code for the final status.
//
//nolint:gocyclo
func run(ctx context.Context, cli *CLIConfig) (int, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return exitFailed, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Logging.Dir != "" {
		logging.SetDirectory(cfg.Logging.Dir)
	}
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.SetLevel(level)
	logger, err := logging.NewLogger("merlin")
	if err != nil {
		log.Printf("Logging to stderr: %v", err)
	}
	defer logger.Close()

	sessionDir := report.SessionDir(cfg.Artifacts.OutputDir, time.Now())

	store, err := openStore(cfg, cli.Resume, sessionDir)
	if err != nil {
		return exitFailed, err
	}
	mem := memory.New(store, memory.WithLogger(logger.With("memory")))
	defer func() {
		if err := mem.Close(); err != nil {
			logger.Warnf("Closing attempt store: %v", err)
		}
	}()

	strat, model, err := buildStrategist(cfg, logger)
	if err != nil {
		return exitFailed, err
	}

	check, err := verifier.New(cfg.Verifier.HeadingPattern)
	if err != nil {
		return exitFailed, err
	}

	driver, err := browser.New(cfg.BrowserOptions(), browser.WithLogger(logger.With("browser")))
	if err != nil {
		return exitFailed, err
	}
	if err := driver.Start(ctx); err != nil {
		return exitFailed, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warnf("Closing browser: %v", err)
		}
	}()

	console := report.NewConsole(report.ParseVerbosity(cfg.Logging.Verbosity), os.Stdout)
	console.Header(fmt.Sprintf("Merlin v%s", version),
		"Target: "+cfg.Target.URL,
		"Model:  "+model,
		"Log:    "+logger.LogPath())

	reporters := []runloop.Reporter{console}
	var artifacts *report.ArtifactWriter
	if cfg.Artifacts.Enabled {
		opts := []report.ArtifactOption{report.WithArtifactLogger(logger.With("artifacts"))}
		if cfg.Artifacts.Screenshots {
			opts = append(opts, report.WithSnapshotter(driver))
		}
		artifacts, err = report.NewArtifactWriter(sessionDir, opts...)
		if err != nil {
			return exitFailed, err
		}
		reporters = append(reporters, artifacts)
	}

	loop, err := runloop.New(cfg.RunloopConfig(), mem, strat, check, driver,
		runloop.WithReporter(report.NewMulti(reporters...)),
		runloop.WithLogger(logger.With("runloop")),
		runloop.WithStateObserver(func(from, to runloop.State) {
			logger.Debugf("state %s -> %s", from, to)
		}),
	)
	if err != nil {
		return exitFailed, err
	}

	start := time.Now()
	status := loop.Run(ctx)
	logger.Infof("Run finished: %s", status)

	summary := report.Summary{
		Status:    status,
		StartTime: start,
		EndTime:   time.Now(),
		Duration:  time.Since(start),
	}
	if artifacts != nil {
		s, err := artifacts.Finish(status)
		if err != nil {
			logger.Errorf("Writing summary: %v", err)
		}
		summary = s
		if err := artifacts.Err(); err != nil {
			logger.Warnf("Some artifacts were not written: %v", err)
		}
	}
	console.Summary(summary)

	return exitCode(status), nil
}

// openStore picks the attempt store. Without resume a fresh store is
// created inside the session directory so earlier runs do not leak in.
func openStore(cfg *config.Config, resume bool, sessionDir string) (memory.Store, error) {
	path := cfg.Memory.Path
	if !resume && cfg.Memory.Backend != memory.BackendMemory {
		path = filepath.Join(sessionDir, filepath.Base(cfg.Memory.Path))
	}
	store, err := memory.Open(cfg.Memory.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt store: %w", err)
	}
	return store, nil
}

// buildStrategist also returns a label naming the model it consults.
func buildStrategist(cfg *config.Config, logger *logging.Logger) (*strategist.Strategist, string, error) {
	opts := []strategist.Option{strategist.WithLogger(logger.With("strategist"))}

	tok, err := tokenizer.New()
	if err != nil {
		logger.Warnf("Token counts will be estimated: %v", err)
	} else {
		opts = append(opts, strategist.WithTokenizer(tok))
	}

	if cfg.LLM.Disabled {
		s, err := strategist.New(cfg.StrategistConfig(), nil, opts...)
		return s, "disabled (ladder only)", err
	}
	provider, err := cfg.BuildProvider(llmRequestTimeout)
	if err != nil {
		return nil, "", err
	}
	label := provider.Model() + " @ " + provider.BaseURL()
	logger.Infof("Using model %s", label)

	completer := llm.NewPromptCompleter(provider, strategist.SystemPrompt)
	s, err := strategist.New(cfg.StrategistConfig(), completer, opts...)
	return s, label, err
}

func exitCode(s types.RunStatus) int {
	switch s.Kind {
	case types.StatusCompleted:
		return exitCompleted
	case types.StatusHalted:
		return exitHalted
	default:
		return exitFailed
	}
}
