// Package openai talks to any server speaking the OpenAI chat completions
// API. The default deployment is a local Ollama instance on its /v1
// endpoint:
//
//	provider, err := openai.NewProvider("ollama",
//	    openai.WithBaseURL("http://127.0.0.1:11434/v1"),
//	    openai.WithModel("mixtral:8x7b"),
//	    openai.WithTemperature(0.8))
//
// Replies are streamed so slow local models keep the connection busy, and
// reasoning wrapped in <think> tags is split from the answer as it arrives.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/entrhq/merlin/pkg/llm"
	"github.com/entrhq/merlin/pkg/llm/parser"
	"github.com/entrhq/merlin/pkg/types"
)

const (
	// DefaultBaseURL is the hosted OpenAI endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model option is given.
	DefaultModel = "gpt-4o"
)

// Provider completes chat prompts against one model.
type Provider struct {
	client      openai.Client
	httpClient  *http.Client
	temperature *float64
	apiKey      string
	baseURL     string
	model       string
}

var _ llm.Provider = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model name sent with every request.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL points the provider at another OpenAI-compatible server.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = &temperature
	}
}

// WithHTTPClient replaces the HTTP client, e.g. to bound a request.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewProvider returns a provider authenticating with apiKey. Local servers
// ignore the key, but it must not be empty.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}

	// The run loop owns retries; a hidden SDK retry would double them.
	p.client = openai.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(strings.TrimRight(p.baseURL, "/")+"/"),
		option.WithHTTPClient(p.httpClient),
		option.WithMaxRetries(0),
	)
	return p, nil
}

// Model returns the model name.
func (p *Provider) Model() string {
	return p.model
}

// BaseURL returns the server the provider talks to.
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// Complete streams one completion and returns it as an assistant message.
// Reasoning found in <think> blocks is stored under llm.MetadataThinking
// instead of the content.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toParams(messages),
	}
	if p.temperature != nil {
		params.Temperature = openai.Float(*p.temperature)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var content, thinking strings.Builder
	collect := func(chunks ...*llm.StreamChunk) {
		for _, c := range chunks {
			if c == nil {
				continue
			}
			if c.IsThinking() {
				thinking.WriteString(c.Content)
			} else {
				content.WriteString(c.Content)
			}
		}
	}

	tags := parser.NewThinkingParser()
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			collect(tags.Parse(delta))
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: completion failed: %w", err)
	}
	collect(tags.Flush())

	msg := types.NewAssistantMessage(content.String())
	if thinking.Len() > 0 {
		msg.Metadata[llm.MetadataThinking] = thinking.String()
	}
	return msg, nil
}

func toParams(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
