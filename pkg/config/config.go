// Package config loads the run configuration from YAML, a .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/merlin/pkg/browser"
	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/memory"
	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/strategist"
	"github.com/entrhq/merlin/pkg/verifier"
)

// Environment variables that override the file.
const (
	EnvAPIKey  = "OPENAI_API_KEY"
	EnvBaseURL = "OPENAI_BASE_URL"
	EnvModel   = "MERLIN_MODEL"
)

// Config is the complete run configuration.
type Config struct {
	Target    TargetConfig   `yaml:"target" json:"target"`
	LLM       LLMConfig      `yaml:"llm" json:"llm"`
	Loop      LoopConfig     `yaml:"loop" json:"loop"`
	Strategy  StrategyConfig `yaml:"strategy" json:"strategy"`
	Memory    MemoryConfig   `yaml:"memory" json:"memory"`
	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts"`
	Logging   LoggingConfig  `yaml:"logging" json:"logging"`
	Verifier  VerifierConfig `yaml:"verifier" json:"verifier"`
}

// TargetConfig describes the page being solved.
type TargetConfig struct {
	URL             string            `yaml:"url" json:"url"`
	Headless        bool              `yaml:"headless" json:"headless"`
	VideoDir        string            `yaml:"video_dir" json:"video_dir"`
	Selectors       browser.Selectors `yaml:"selectors" json:"selectors"`
	NavigateTimeout time.Duration     `yaml:"navigate_timeout" json:"navigate_timeout"`
	ActionTimeout   time.Duration     `yaml:"action_timeout" json:"action_timeout"`
	ReplyWait       time.Duration     `yaml:"reply_wait" json:"reply_wait"`
	SettleWindow    time.Duration     `yaml:"settle_window" json:"settle_window"`
	PollInterval    time.Duration     `yaml:"poll_interval" json:"poll_interval"`
	InstallBrowsers bool              `yaml:"install_browsers" json:"install_browsers"`
}

// LLMConfig selects the inference backend.
type LLMConfig struct {
	Model       string  `yaml:"model" json:"model"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"-"`
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// PromptTokenBudget trims the feedback transcript; zero is unlimited.
	PromptTokenBudget int `yaml:"prompt_token_budget" json:"prompt_token_budget"`

	// Disabled runs the ladder and extraction only, without a model.
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// LoopConfig bounds the run loop.
type LoopConfig struct {
	MaxLevel           int           `yaml:"max_level" json:"max_level"`
	TurnBudget         int           `yaml:"turn_budget" json:"turn_budget"`
	DecisionRetries    int           `yaml:"decision_retries" json:"decision_retries"`
	DispatchRetries    int           `yaml:"dispatch_retries" json:"dispatch_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	ResponseTimeout    time.Duration `yaml:"response_timeout" json:"response_timeout"`
	RecordTimeout      time.Duration `yaml:"record_timeout" json:"record_timeout"`
	PersistenceFailure string        `yaml:"persistence_failure" json:"persistence_failure"`
}

// StrategyConfig tunes the strategist.
type StrategyConfig struct {
	AskBudget           int      `yaml:"ask_budget" json:"ask_budget"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold" json:"confidence_threshold"`
	ObfuscateFromLevel  int      `yaml:"obfuscate_from_level" json:"obfuscate_from_level"`
	MaxIndexProbe       int      `yaml:"max_index_probe" json:"max_index_probe"`
	Ladder              []string `yaml:"ladder" json:"ladder"`
}

// MemoryConfig selects the attempt store.
type MemoryConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// ArtifactConfig controls what is written per run.
type ArtifactConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	OutputDir   string `yaml:"output_dir" json:"output_dir"`
	Screenshots bool   `yaml:"screenshots" json:"screenshots"`
}

// LoggingConfig controls console verbosity and the session log file.
type LoggingConfig struct {
	// Verbosity is quiet, normal, verbose or debug.
	Verbosity string `yaml:"verbosity" json:"verbosity"`
	// Level is the file log level: debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// VerifierConfig sets the heading pattern.
type VerifierConfig struct {
	HeadingPattern string `yaml:"heading_pattern" json:"heading_pattern"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	bo := browser.DefaultOptions()
	lc := runloop.DefaultConfig()
	sc := strategist.DefaultConfig()
	return &Config{
		Target: TargetConfig{
			URL:             bo.URL,
			Headless:        bo.Headless,
			Selectors:       bo.Selectors,
			NavigateTimeout: bo.NavigateTimeout,
			ActionTimeout:   bo.ActionTimeout,
			ReplyWait:       bo.ReplyWait,
			SettleWindow:    bo.SettleWindow,
			PollInterval:    bo.PollInterval,
			InstallBrowsers: bo.InstallBrowsers,
		},
		LLM: LLMConfig{
			Model:       "mixtral:8x7b",
			BaseURL:     "http://127.0.0.1:11434/v1",
			Temperature: 0.8,
		},
		Loop: LoopConfig{
			MaxLevel:           lc.MaxLevel,
			TurnBudget:         lc.TurnBudget,
			DecisionRetries:    lc.DecisionRetries,
			DispatchRetries:    lc.DispatchRetries,
			RetryBaseDelay:     lc.RetryBaseDelay,
			ResponseTimeout:    lc.ResponseTimeout,
			RecordTimeout:      lc.RecordTimeout,
			PersistenceFailure: lc.PersistenceFailure,
		},
		Strategy: StrategyConfig{
			AskBudget:           sc.AskBudget,
			ConfidenceThreshold: sc.ConfidenceThreshold,
			ObfuscateFromLevel:  sc.ObfuscateFromLevel,
			MaxIndexProbe:       sc.MaxIndexProbe,
			Ladder:              sc.Ladder,
		},
		Memory: MemoryConfig{
			Backend: memory.BackendJSONL,
			Path:    "runs/attempts.jsonl",
		},
		Artifacts: ArtifactConfig{
			Enabled:     true,
			OutputDir:   "runs",
			Screenshots: true,
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
			Level:     "info",
		},
	}
}

// Load reads a YAML file over DefaultConfig. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads variables from .env files without overriding ones
// already set. With no arguments it reads ./.env. A missing file is not an
// error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides LLM settings from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModel)); v != "" {
		c.LLM.Model = v
	}
}

// Validate checks the configuration and fills the verbosity default.
func (c *Config) Validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("target url is required")
	}
	if c.Target.NavigateTimeout < 0 || c.Target.ActionTimeout < 0 || c.Target.SettleWindow < 0 {
		return fmt.Errorf("target timeouts cannot be negative")
	}
	if err := c.BrowserOptions().Validate(); err != nil {
		return fmt.Errorf("invalid target config: %w", err)
	}
	if err := c.RunloopConfig().Validate(); err != nil {
		return fmt.Errorf("invalid loop config: %w", err)
	}
	if err := c.StrategistConfig().Validate(); err != nil {
		return fmt.Errorf("invalid strategy config: %w", err)
	}
	if !c.LLM.Disabled && c.LLM.Model == "" {
		return fmt.Errorf("llm model is required unless llm.disabled is set")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	if c.LLM.PromptTokenBudget < 0 {
		return fmt.Errorf("prompt_token_budget cannot be negative")
	}
	if _, err := verifier.New(c.Verifier.HeadingPattern); err != nil {
		return fmt.Errorf("invalid heading pattern: %w", err)
	}

	switch c.Memory.Backend {
	case memory.BackendMemory:
	case memory.BackendJSONL, memory.BackendSQLite:
		if c.Memory.Path == "" {
			return fmt.Errorf("memory path is required for the %s backend", c.Memory.Backend)
		}
	default:
		return fmt.Errorf("invalid memory backend: %s (must be '%s', '%s' or '%s')",
			c.Memory.Backend, memory.BackendJSONL, memory.BackendSQLite, memory.BackendMemory)
	}

	if c.Artifacts.Enabled && c.Artifacts.OutputDir == "" {
		return fmt.Errorf("artifacts output_dir is required when artifacts are enabled")
	}

	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}
	validVerbosity := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validVerbosity[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	return nil
}

// RunloopConfig converts the loop section.
func (c *Config) RunloopConfig() runloop.Config {
	return runloop.Config{
		MaxLevel:           c.Loop.MaxLevel,
		TurnBudget:         c.Loop.TurnBudget,
		DecisionRetries:    c.Loop.DecisionRetries,
		DispatchRetries:    c.Loop.DispatchRetries,
		RetryBaseDelay:     c.Loop.RetryBaseDelay,
		ResponseTimeout:    c.Loop.ResponseTimeout,
		RecordTimeout:      c.Loop.RecordTimeout,
		PersistenceFailure: c.Loop.PersistenceFailure,
	}
}

// StrategistConfig converts the strategy section.
func (c *Config) StrategistConfig() strategist.Config {
	return strategist.Config{
		Ladder:              append([]string(nil), c.Strategy.Ladder...),
		AskBudget:           c.Strategy.AskBudget,
		ConfidenceThreshold: c.Strategy.ConfidenceThreshold,
		ObfuscateFromLevel:  c.Strategy.ObfuscateFromLevel,
		MaxIndexProbe:       c.Strategy.MaxIndexProbe,
		PromptTokenBudget:   c.LLM.PromptTokenBudget,
	}
}

// BrowserOptions converts the target section.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		URL:             c.Target.URL,
		Headless:        c.Target.Headless,
		VideoDir:        c.Target.VideoDir,
		Selectors:       c.Target.Selectors,
		NavigateTimeout: c.Target.NavigateTimeout,
		ActionTimeout:   c.Target.ActionTimeout,
		ReplyWait:       c.Target.ReplyWait,
		SettleWindow:    c.Target.SettleWindow,
		PollInterval:    c.Target.PollInterval,
		InstallBrowsers: c.Target.InstallBrowsers,
	}
}
