// Package llm connects the strategist to a chat model.
//
// A Provider turns a short message list into one assistant message. The
// strategist only ever needs a single system prompt and a single user prompt
// per decision, which PromptCompleter packages as a plain text-in, text-out
// call.
package llm

import (
	"context"

	"github.com/entrhq/merlin/pkg/types"
)

// Provider completes a chat exchange.
//
// Implementations return the visible answer as the message content. Any
// reasoning the model produced separately goes under MetadataThinking.
type Provider interface {
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)
}
