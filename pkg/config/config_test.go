package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/merlin/pkg/memory"
	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/strategist"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, runloop.DefaultConfig(), cfg.RunloopConfig())
	assert.Equal(t, strategist.DefaultConfig(), cfg.StrategistConfig())
	assert.Equal(t, memory.BackendJSONL, cfg.Memory.Backend)
	assert.Equal(t, "h1.mantine-Title-root", cfg.BrowserOptions().Selectors.LevelHeading)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "merlin.yaml", `
target:
  url: http://localhost:3000/
  headless: false
  settle_window: 3s
  selectors:
    level_heading: h2.level
llm:
  model: deepseek-r1:7b
  prompt_token_budget: 1500
loop:
  max_level: 4
  turn_budget: 50
  persistence_failure: halt
strategy:
  ask_budget: 2
  ladder: [direct, index]
memory:
  backend: sqlite
  path: runs/attempts.db
logging:
  verbosity: verbose
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:3000/", cfg.Target.URL)
	assert.False(t, cfg.Target.Headless)
	assert.Equal(t, 3*time.Second, cfg.Target.SettleWindow)
	assert.Equal(t, "h2.level", cfg.Target.Selectors.LevelHeading)
	assert.Equal(t, "blockquote p", cfg.Target.Selectors.AssistantMessage, "unset selectors keep defaults")

	rc := cfg.RunloopConfig()
	assert.Equal(t, 4, rc.MaxLevel)
	assert.Equal(t, 50, rc.TurnBudget)
	assert.Equal(t, runloop.PersistenceHalt, rc.PersistenceFailure)
	assert.Equal(t, runloop.DefaultConfig().ResponseTimeout, rc.ResponseTimeout)

	sc := cfg.StrategistConfig()
	assert.Equal(t, 2, sc.AskBudget)
	assert.Equal(t, []string{"direct", "index"}, sc.Ladder)
	assert.Equal(t, 1500, sc.PromptTokenBudget)

	assert.Equal(t, memory.BackendSQLite, cfg.Memory.Backend)
	assert.Equal(t, "verbose", cfg.Logging.Verbosity)
}

func TestLoadErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "loop: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.Target.URL = "" }},
		{"negative timeout", func(c *Config) { c.Target.ActionTimeout = -time.Second }},
		{"poll longer than settle", func(c *Config) { c.Target.PollInterval = time.Minute }},
		{"zero turn budget", func(c *Config) { c.Loop.TurnBudget = 0 }},
		{"bad persistence policy", func(c *Config) { c.Loop.PersistenceFailure = "ignore" }},
		{"zero ask budget", func(c *Config) { c.Strategy.AskBudget = 0 }},
		{"unknown tactic", func(c *Config) { c.Strategy.Ladder = []string{"telepathy"} }},
		{"missing model", func(c *Config) { c.LLM.Model = "" }},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 3 }},
		{"negative token budget", func(c *Config) { c.LLM.PromptTokenBudget = -1 }},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }},
		{"jsonl without path", func(c *Config) { c.Memory.Path = "" }},
		{"artifacts without dir", func(c *Config) { c.Artifacts.OutputDir = "" }},
		{"bad verbosity", func(c *Config) { c.Logging.Verbosity = "loud" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"pattern without group", func(c *Config) { c.Verifier.HeadingPattern = `Level \d+` }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateFillsVerbosityAndAllowsDisabledModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Verbosity = ""
	cfg.LLM.Disabled = true
	cfg.LLM.Model = ""
	cfg.Memory = MemoryConfig{Backend: memory.BackendMemory}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "normal", cfg.Logging.Verbosity)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, " sk-test ")
	t.Setenv(EnvBaseURL, "https://example.com/v1")
	t.Setenv(EnvModel, "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://example.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "mixtral:8x7b", cfg.LLM.Model)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv(EnvModel, "")
	os.Unsetenv(EnvModel)
	t.Setenv(EnvAPIKey, "already-set")

	path := writeFile(t, ".env", "MERLIN_MODEL=qwen2.5:7b\nOPENAI_API_KEY=from-file\n")
	require.NoError(t, LoadEnvFile(path))

	assert.Equal(t, "qwen2.5:7b", os.Getenv(EnvModel))
	assert.Equal(t, "already-set", os.Getenv(EnvAPIKey), "existing variables are not overridden")

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
