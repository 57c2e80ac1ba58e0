package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/merlin/pkg/types"
)

// MetadataThinking is the message metadata key under which providers store
// reasoning content separated from the visible answer.
const MetadataThinking = "thinking"

// PromptCompleter adapts a Provider to the single-prompt completion capability
// used by the strategist: one fixed system prompt, one user prompt per call.
type PromptCompleter struct {
	provider Provider
	system   string
}

// NewPromptCompleter wraps provider with the given system prompt.
func NewPromptCompleter(provider Provider, systemPrompt string) *PromptCompleter {
	return &PromptCompleter{provider: provider, system: systemPrompt}
}

// Complete sends the prompt and returns the raw model text. Reasoning split off
// by the provider is put back in front as a <think> block so callers see the
// output the model actually produced.
func (c *PromptCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]*types.Message, 0, 2)
	if c.system != "" {
		messages = append(messages, types.NewSystemMessage(c.system))
	}
	messages = append(messages, types.NewUserMessage(prompt))

	msg, err := c.provider.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if msg == nil {
		return "", fmt.Errorf("completion returned no message")
	}

	thinking, _ := msg.Metadata[MetadataThinking].(string)
	if strings.TrimSpace(thinking) == "" {
		return msg.Content, nil
	}
	return "<think>" + thinking + "</think>\n" + msg.Content, nil
}
