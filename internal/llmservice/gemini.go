package llmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"codebase-qa/internal/config"
	"codebase-qa/internal/models"
)

// GeminiClient calls the generateContent REST endpoint directly. A single
// request is made per prompt, without retries.
type GeminiClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	genConfig  generationConfig
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"topK"`
	TopP        float64 `json:"topP"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// geminiResponse uses pointers so missing fields can be told apart from
// empty ones.
type geminiResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func NewGeminiClient(cfg *config.LLMConfig) *GeminiClient {
	return &GeminiClient{
		endpoint:   cfg.BaseURL,
		apiKey:     cfg.Key,
		httpClient: &http.Client{Timeout: timeout(cfg)},
		genConfig: generationConfig{
			Temperature: cfg.GenerationTemperature(),
			TopK:        cfg.TopK,
			TopP:        cfg.TopP,
		},
	}
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (Answer, error) {
	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: c.genConfig,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return Answer{}, err
	}

	endpoint, err := c.requestURL()
	if err != nil {
		return Answer{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return Answer{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Answer{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Answer{}, fmt.Errorf("request failed: %d, %s", resp.StatusCode, string(body))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Answer{}, fmt.Errorf("failed to decode LLM response: %w", err)
	}
	answer := extractAnswer(parsed)
	if answer.Degraded {
		log.Warn().Str("response", string(body)).Msg("Unexpected LLM response structure")
	}
	return answer, nil
}

// requestURL appends the api key as the "key" query parameter when one is
// configured.
func (c *GeminiClient) requestURL() (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("LLM endpoint is not configured")
	}
	if c.apiKey == "" {
		return c.endpoint, nil
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid LLM endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func extractAnswer(resp geminiResponse) Answer {
	if len(resp.Candidates) == 0 {
		return Answer{Text: models.UnparseablePlaceholder, Degraded: true}
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return Answer{Text: models.NoResponsePlaceholder, Degraded: true}
	}
	text := content.Parts[0].Text
	if text == nil {
		return Answer{Text: models.NoTextPlaceholder, Degraded: true}
	}
	return Answer{Text: *text}
}
