// Package ragtest has deterministic stand-ins for the embedding model and the
// LLM, used by the service and handler tests.
package ragtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"codebase-qa/internal/llmservice"
)

// Embedder hashes lower-cased words into Dimension buckets. Component 0 is
// always set so no vector is zero. Texts sharing words end up close.
type Embedder struct {
	Dimension int
	Err       error
}

func NewEmbedder(dimension int) *Embedder {
	return &Embedder{Dimension: dimension}
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(text), nil
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = e.vector(t)
	}
	return vectors, nil
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dimension)
	v[0] = 0.1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[1+int(h.Sum32()%uint32(e.Dimension-1))]++
	}
	return v
}

// Generator returns Answer for every prompt and records the prompts it saw.
type Generator struct {
	mu      sync.Mutex
	Answer  llmservice.Answer
	Err     error
	Prompts []string
}

func (g *Generator) Generate(_ context.Context, prompt string) (llmservice.Answer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Prompts = append(g.Prompts, prompt)
	if g.Err != nil {
		return llmservice.Answer{}, g.Err
	}
	return g.Answer, nil
}

func (g *Generator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Prompts) == 0 {
		return ""
	}
	return g.Prompts[len(g.Prompts)-1]
}
