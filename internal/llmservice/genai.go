package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"codebase-qa/internal/config"
	"codebase-qa/internal/models"
)

// GenAIGenerator talks to Gemini through the generative-ai-go SDK instead of
// the raw REST endpoint.
type GenAIGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	cfg    *config.LLMConfig
}

func NewGenAIGenerator(ctx context.Context, cfg *config.LLMConfig) (*GenAIGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.GenerationTemperature()))
	model.SetTopK(int32(cfg.TopK))
	model.SetTopP(float32(cfg.TopP))
	return &GenAIGenerator{client: client, model: model, cfg: cfg}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(g.cfg))
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Answer{}, fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		log.Warn().Msg("Unexpected LLM response structure: no candidates")
		return Answer{Text: models.UnparseablePlaceholder, Degraded: true}, nil
	}

	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		log.Warn().Msg("Unexpected LLM response structure: no content parts")
		return Answer{Text: models.NoResponsePlaceholder, Degraded: true}, nil
	}
	var parts []string
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return Answer{Text: models.NoTextPlaceholder, Degraded: true}, nil
	}
	return Answer{Text: strings.Join(parts, "\n")}, nil
}

func (g *GenAIGenerator) Close() error {
	return g.client.Close()
}
