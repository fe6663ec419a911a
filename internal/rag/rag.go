package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"codebase-qa/internal/chunker"
	"codebase-qa/internal/config"
	"codebase-qa/internal/embedding"
	"codebase-qa/internal/llmservice"
	"codebase-qa/internal/models"
	"codebase-qa/internal/parser"
)

var ErrEmptyQuery = errors.New("query cannot be empty")

// Store is the vector collection the service reads and writes.
type Store interface {
	Add(ctx context.Context, ids, texts []string, metadatas []map[string]string, embeddings [][]float32) error
	Query(ctx context.Context, embedding []float32, k int) ([]models.Hit, error)
	ListMetadata(ctx context.Context) ([]map[string]string, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// RAG sequences the loader, chunker, embedder, store and generator. It is
// built once and shared by every request.
type RAG struct {
	store     Store
	embedder  embeddings.Embedder
	generator llmservice.Generator
	cfg       *config.Config
}

func NewRAG(store Store, embedder embeddings.Embedder, generator llmservice.Generator, cfg *config.Config) *RAG {
	return &RAG{store: store, embedder: embedder, generator: generator, cfg: cfg}
}

// Ingest loads the file stored at filePath, chunks and embeds it and adds
// the chunks to the store. filename is the name the document was uploaded
// with. It returns the number of chunks added.
func (r *RAG) Ingest(ctx context.Context, filePath, filename string) (int, error) {
	units, err := parser.Load(filePath, filename, parser.Options{OfficeFormats: r.cfg.Parser.OfficeFormats})
	if err != nil {
		return 0, err
	}

	chunks, err := chunker.Split(units, chunker.Config{
		ChunkSize:    r.cfg.RAG.ChunkSize,
		ChunkOverlap: r.cfg.RAG.ChunkOverlap,
		Strategy:     r.cfg.RAG.Splitter,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to split %s: %w", filename, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := embedding.EmbedChunks(ctx, r.embedder, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	metadatas := make([]map[string]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		texts[i] = chunk.Content
		metadatas[i] = chunk.Metadata
	}
	if err := r.store.Add(ctx, ids, texts, metadatas, vectors); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}

	log.Info().Str("file", filename).Int("chunks", len(chunks)).Msg("Document ingested")
	return len(chunks), nil
}

// Query answers question from the top_k nearest chunks. Every retrieved
// chunk is returned as a source, even when the prompt budget dropped it.
func (r *RAG) Query(ctx context.Context, question string) (*models.QueryResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuery
	}

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.Query(ctx, queryEmbedding, r.cfg.RAG.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Content
	}
	prompt, used := BuildPrompt(texts, question, r.cfg.RAG.MaxContextChars)
	if used < len(hits) {
		log.Warn().Int("retrieved", len(hits)).Int("used", used).Msg("Context truncated to fit the prompt budget")
	}

	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &models.QueryResponse{
		Answer:              answer.Text,
		Sources:             Sources(hits),
		RetrievedChunkCount: len(hits),
		Degraded:            answer.Degraded,
	}, nil
}

// ListDocuments returns the distinct source filenames in the store, sorted.
func (r *RAG) ListDocuments(ctx context.Context) ([]string, error) {
	metadatas, err := r.store.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	documents := []string{}
	for _, meta := range metadatas {
		source, ok := meta[models.MetaSource]
		if !ok || source == "" {
			continue
		}
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}
		documents = append(documents, source)
	}
	sort.Strings(documents)
	return documents, nil
}

func (r *RAG) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}

// Health reports "ok" when the store answers a ping and "error: <msg>"
// otherwise. It never fails.
func (r *RAG) Health(ctx context.Context) string {
	if err := r.store.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Vector store health check failed")
		return "error: " + err.Error()
	}
	return "ok"
}

// CollectionName is the configured collection, used in user facing messages.
func (r *RAG) CollectionName() string {
	return r.cfg.VectorDB.Collection
}
