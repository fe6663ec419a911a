package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"codebase-qa/internal/config"
	"codebase-qa/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// LangchainGenerator generates answers through a langchaingo model, either an
// OpenAI compatible API or a local ollama server.
type LangchainGenerator struct {
	llm  llms.Model
	cfg  *config.LLMConfig
	opts []llms.CallOption
}

func NewLangchainGenerator(cfg *config.LLMConfig) (*LangchainGenerator, error) {
	llm, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return &LangchainGenerator{
		llm: llm,
		cfg: cfg,
		opts: []llms.CallOption{
			llms.WithTemperature(cfg.GenerationTemperature()),
			llms.WithTopK(cfg.TopK),
			llms.WithTopP(cfg.TopP),
		},
	}, nil
}

func newModel(cfg *config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	}
}

func (g *LangchainGenerator) Generate(ctx context.Context, prompt string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(g.cfg))
	defer cancel()

	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := GenerateContent(ctx, g.llm, msgContent, g.opts...)
	if err != nil {
		return Answer{}, err
	}
	if len(res.Choices) == 0 {
		log.Warn().Str("model", g.cfg.Model).Msg("LLM returned no choices")
		return Answer{Text: models.NoResponsePlaceholder, Degraded: true}, nil
	}
	text := strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, ""))
	return Answer{Text: text}, nil
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	res, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	return res, nil
}
