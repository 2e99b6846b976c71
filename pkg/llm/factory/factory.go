// Package factory constructs the configured generation client.
package factory

import (
	"context"
	"fmt"

	"runsheet/pkg/config"
	"runsheet/pkg/llm"
	"runsheet/pkg/llm/anthropic"
	"runsheet/pkg/llm/google"
	"runsheet/pkg/llm/ollama"
	"runsheet/pkg/llm/openai"
	"runsheet/pkg/logx"
)

// NewClient creates the llm.Client selected by cfg.LLM.Provider. The API
// key is resolved through the secret store; providers that need no key
// (ollama) ignore it.
func NewClient(ctx context.Context, cfg *config.Config, secrets *config.SecretStore) (llm.Client, error) {
	apiKey := ""
	if name := cfg.APIKeySecret(); name != "" {
		key, err := secrets.Get(name)
		if err != nil {
			return nil, fmt.Errorf("missing API key for provider %s: %w", cfg.LLM.Provider, err)
		}
		apiKey = key
	}

	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		return anthropic.New(apiKey, cfg.LLM.Model), nil
	case config.ProviderGoogle:
		return google.New(ctx, apiKey, cfg.LLM.Model)
	case config.ProviderOpenAI:
		return openai.New(apiKey, cfg.LLM.BaseURL, cfg.LLM.Model), nil
	case config.ProviderOllama:
		return ollama.New(cfg.LLM.Host, cfg.LLM.Model), nil
	default:
		return nil, logx.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
