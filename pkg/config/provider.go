package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/entrhq/merlin/pkg/llm/openai"
)

// placeholderAPIKey is sent to local OpenAI-compatible servers that ignore
// authentication.
const placeholderAPIKey = "ollama"

// Overrides are command-line values; empty fields leave the config alone.
type Overrides struct {
	Model   string
	BaseURL string
	APIKey  string
}

// Apply copies non-empty overrides into the LLM section.
func (o Overrides) Apply(c *Config) {
	if o.Model != "" {
		c.LLM.Model = o.Model
	}
	if o.BaseURL != "" {
		c.LLM.BaseURL = o.BaseURL
	}
	if o.APIKey != "" {
		c.LLM.APIKey = o.APIKey
	}
}

// BuildProvider creates the LLM provider from the resolved LLM section.
// Precedence is CLI flags, then environment, then config file, then
// defaults; callers apply them in that order before calling this.
func (c *Config) BuildProvider(requestTimeout time.Duration) (*openai.Provider, error) {
	if c.LLM.Disabled {
		return nil, fmt.Errorf("llm is disabled")
	}
	apiKey, err := c.resolveAPIKey()
	if err != nil {
		return nil, err
	}

	opts := []openai.ProviderOption{
		openai.WithModel(c.LLM.Model),
		openai.WithTemperature(c.LLM.Temperature),
	}
	if c.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(c.LLM.BaseURL, "/")))
	}
	if requestTimeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: requestTimeout}))
	}

	provider, err := openai.NewProvider(apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}

// resolveAPIKey returns the configured key, or a placeholder for servers on
// this machine.
func (c *Config) resolveAPIKey() (string, error) {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey, nil
	}
	if !isLocal(c.LLM.BaseURL) {
		return "", fmt.Errorf("API key is required. Set %s, use -api-key, or set llm.api_key in the config file", EnvAPIKey)
	}
	return placeholderAPIKey, nil
}

// isLocal reports whether baseURL points at this machine.
func isLocal(baseURL string) bool {
	u := strings.ToLower(baseURL)
	for _, host := range []string{"://localhost", "://127.0.0.1", "://[::1]", "://0.0.0.0"} {
		if strings.Contains(u, host) {
			return true
		}
	}
	return false
}
