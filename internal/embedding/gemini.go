package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"codebase-qa/internal/config"
)

// GeminiEmbedder embeds text with the Gemini embedding API through the
// generative-ai-go SDK. It satisfies embeddings.Embedder.
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	batchSize int
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.LLMConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	return &GeminiEmbedder{
		client:    client,
		model:     client.EmbeddingModel(cfg.Model),
		batchSize: batchSize,
	}, nil
}

func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("empty embedding response")
	}
	return cloneVector(resp.Embedding.Values), nil
}

func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		batch := e.model.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}
		resp, err := e.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		batchVectors, err := embeddingValues(resp.Embeddings, start)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// embeddingValues copies the vectors of one batch response. offset is the
// index of the batch's first text, used in errors.
func embeddingValues(embs []*genai.ContentEmbedding, offset int) ([][]float32, error) {
	vectors := make([][]float32, len(embs))
	for i, emb := range embs {
		if emb == nil {
			return nil, fmt.Errorf("empty embedding for text %d", offset+i)
		}
		vectors[i] = cloneVector(emb.Values)
	}
	return vectors, nil
}

func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}

// cloneVector copies values so the store may normalize them in place.
func cloneVector(values []float32) []float32 {
	out := make([]float32, len(values))
	copy(out, values)
	return out
}
