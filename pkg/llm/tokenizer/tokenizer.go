// Package tokenizer counts prompt tokens so the strategist can keep the
// transcript it sends to the model under a budget.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used by the gpt-4 family and a reasonable
// approximation for most OpenAI-compatible servers.
const DefaultEncoding = "cl100k_base"

// Tokenizer wraps a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New returns a tokenizer using DefaultEncoding. The encoding tables may be
// downloaded on first use, so callers should tolerate an error and fall back
// to Estimate.
func New() (*Tokenizer, error) {
	return NewWithEncoding(DefaultEncoding)
}

// NewWithEncoding returns a tokenizer for the named tiktoken encoding.
func NewWithEncoding(name string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", name, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the token count of text. A nil tokenizer estimates.
func (t *Tokenizer) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// TruncateLines drops whole lines from the front of text until it fits in
// maxTokens. The most recent lines are kept. A non-positive budget returns
// text unchanged.
func (t *Tokenizer) TruncateLines(text string, maxTokens int) string {
	if maxTokens <= 0 || t.CountTokens(text) <= maxTokens {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[1:]
		joined := strings.Join(lines, "\n")
		if t.CountTokens(joined) <= maxTokens {
			return joined
		}
	}
	return lines[0]
}

// Estimate approximates a token count at four characters per token.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
