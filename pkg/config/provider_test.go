package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProvider(t *testing.T) {
	tests := []struct {
		name          string
		overrides     Overrides
		envAPIKey     string
		envBaseURL    string
		envModel      string
		fileBaseURL   string
		expectError   bool
		expectedModel string
		expectedKey   string
		expectedURL   string
	}{
		{
			name:          "CLI flag takes precedence over env",
			overrides:     Overrides{Model: "gpt-4o", BaseURL: "https://cli.example.com/v1", APIKey: "cli-key"},
			envAPIKey:     "env-key",
			envBaseURL:    "https://env.example.com/v1",
			envModel:      "env-model",
			expectedModel: "gpt-4o",
			expectedKey:   "cli-key",
			expectedURL:   "https://cli.example.com/v1",
		},
		{
			name:          "Environment used when CLI empty",
			envAPIKey:     "env-key",
			envBaseURL:    "https://env.example.com/v1/",
			envModel:      "env-model",
			expectedModel: "env-model",
			expectedKey:   "env-key",
			expectedURL:   "https://env.example.com/v1",
		},
		{
			name:          "Local server gets a placeholder key",
			expectedModel: "mixtral:8x7b",
			expectedKey:   placeholderAPIKey,
			expectedURL:   "http://127.0.0.1:11434/v1",
		},
		{
			name:        "Remote server without key fails",
			fileBaseURL: "https://api.openai.com/v1",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvAPIKey, tt.envAPIKey)
			t.Setenv(EnvBaseURL, tt.envBaseURL)
			t.Setenv(EnvModel, tt.envModel)

			cfg := DefaultConfig()
			if tt.fileBaseURL != "" {
				cfg.LLM.BaseURL = tt.fileBaseURL
			}
			cfg.ApplyEnv()
			tt.overrides.Apply(cfg)

			provider, err := cfg.BuildProvider(time.Minute)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedModel, provider.Model())
			assert.Equal(t, tt.expectedURL, provider.BaseURL())

			key, err := cfg.resolveAPIKey()
			require.NoError(t, err)
			assert.Equal(t, tt.expectedKey, key)
		})
	}
}

func TestBuildProviderDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Disabled = true
	_, err := cfg.BuildProvider(0)
	assert.Error(t, err)
}

func TestIsLocal(t *testing.T) {
	assert.True(t, isLocal("http://localhost:11434/v1"))
	assert.True(t, isLocal("HTTP://127.0.0.1:8080"))
	assert.False(t, isLocal("https://api.openai.com/v1"))
	assert.False(t, isLocal(""))
}
