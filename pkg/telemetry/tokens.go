package telemetry

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for usage metrics. Providers that
// do not report usage in their stream get their token counts estimated
// through the GPT-4 encoding, which is close enough for accounting.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for the specified model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	tikModel := tokenizer.GPT4
	if strings.HasPrefix(model, "gpt-3.5") {
		tikModel = tokenizer.GPT35Turbo
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text. Falls back
// to a 4-chars-per-token estimate when encoding fails.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}
