package llmservice

import (
	"context"
	"fmt"
	"time"

	"codebase-qa/internal/config"
)

// Answer is the generated text. Degraded is set when the model responded but
// not in the expected shape and Text holds a placeholder instead.
type Answer struct {
	Text     string
	Degraded bool
}

// Generator sends an assembled prompt to a language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Answer, error)
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg *config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(cfg), nil
	case config.ProviderGenAI:
		return NewGenAIGenerator(ctx, cfg)
	case config.ProviderOpenAI, config.ProviderOllama:
		return NewLangchainGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown inference provider: %s", cfg.Provider)
	}
}

func timeout(cfg *config.LLMConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
