package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"codebase-qa/internal/models"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrLengthMismatch    = errors.New("ids, texts, metadatas and embeddings must have the same length")
)

// Options configures a VectorDBManager. Dimension is the embedding size every
// record of the collection must have.
type Options struct {
	Path          string
	Collection    string
	InMemory      bool
	Compress      bool
	EncryptionKey string
	ExportFile    string
	Dimension     int
	EmbeddingFunc chromem.EmbeddingFunc
}

// VectorDBManager encapsulates the chromem-go database operations. It owns the
// single collection of the deployment; Add and Clear hold the write lock,
// reads hold the read lock.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dimension      int
	embeddingFunc  chromem.EmbeddingFunc
	dbPath         string
	inMemory       bool
	compress       bool
	encryptionKey  string
	filePath       string
}

// EmbeddingFuncFrom adapts a langchaingo embedder to chromem's EmbeddingFunc
// so the collection is created with the same model used for ingestion.
func EmbeddingFuncFrom(embedder embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}

// NewVectorDBManager opens (or creates) the database and its collection. An
// in-memory database is seeded from the export file when one exists.
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	var db *chromem.DB
	var err error
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	filePath := opts.ExportFile
	if filePath == "" && opts.Path != "" {
		filePath = filepath.Join(opts.Path, opts.Collection+".chromem")
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: opts.Collection,
		dimension:      opts.Dimension,
		embeddingFunc:  opts.EmbeddingFunc,
		dbPath:         opts.Path,
		inMemory:       opts.InMemory,
		compress:       opts.Compress,
		encryptionKey:  opts.EncryptionKey,
		filePath:       filePath,
	}

	if opts.InMemory && opts.ExportFile != "" {
		if _, err := os.Stat(opts.ExportFile); err == nil {
			if err := m.Import(context.Background()); err != nil {
				return nil, err
			}
			log.Info().Str("file", opts.ExportFile).Msg("Imported collection")
		}
	}

	if _, err := m.GetOrCreateCollection(opts.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) collectionMetadata() map[string]string {
	return map[string]string{
		"hnsw:space": "cosine",
		"dimension":  strconv.Itoa(m.dimension),
	}
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.db.GetOrCreateCollection(collectionName, m.collectionMetadata(), m.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Add inserts new records. ids must be unique within the batch and must not
// exist in the collection yet; every embedding must have the collection
// dimension.
func (m *VectorDBManager) Add(ctx context.Context, ids, texts []string, metadatas []map[string]string, embeddings [][]float32) error {
	if len(texts) != len(ids) || len(metadatas) != len(ids) || len(embeddings) != len(ids) {
		return ErrLengthMismatch
	}
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("record %d has an empty id", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		if err := m.checkDimension(embeddings[i]); err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.collection.GetByID(ctx, id); err == nil {
			return fmt.Errorf("%w: %s already exists", ErrDuplicateID, id)
		}
	}

	docs := make([]chromem.Document, len(ids))
	for i := range ids {
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   texts[i],
			Metadata:  metadatas[i],
			Embedding: embeddings[i],
		}
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Query returns the k records nearest to embedding, nearest first. k is
// clamped to the collection size; an empty collection yields no hits.
// chromem keeps whichever tied record it meets first, so the whole
// collection is ranked and cut after the id tie-break.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, k int) ([]models.Hit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}
	if err := m.checkDimension(embedding); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	total := m.collection.Count()
	n := min(k, total)
	if n <= 0 {
		return []models.Hit{}, nil
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       total,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]models.Hit, len(results))
	for i, r := range results {
		hits[i] = models.Hit{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: 1 - r.Similarity,
		}
	}
	sortHits(hits)
	return hits[:n], nil
}

// SearchWithQueryOptions runs a raw chromem query against the collection.
// Callers must hold the lock.
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// ListMetadata returns the metadata of every record. chromem has no scan
// operation, so all records are fetched with a query for a unit probe vector
// and nResults equal to the collection size.
func (m *VectorDBManager) ListMetadata(ctx context.Context) ([]map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.collection.Count()
	if n == 0 {
		return []map[string]string{}, nil
	}
	if m.dimension <= 0 {
		return nil, fmt.Errorf("collection dimension is unknown")
	}

	probe := make([]float32, m.dimension)
	probe[0] = 1
	results, err := m.collection.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	metadatas := make([]map[string]string, 0, len(results))
	for _, r := range results {
		metadatas = append(metadatas, r.Metadata)
	}
	return metadatas, nil
}

// Clear deletes the collection and recreates it empty with the same name,
// metadata and embedding function.
func (m *VectorDBManager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c, err := m.db.CreateCollection(m.collectionName, m.collectionMetadata(), m.embeddingFunc)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	m.collection = c
	log.Info().Str("collection", m.collectionName).Msg("Collection re-created and is now empty")
	return nil
}

// Ping checks that the collection is open and, for a persistent database,
// that its directory is still reachable.
func (m *VectorDBManager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.collection == nil {
		return fmt.Errorf("collection %s is not open", m.collectionName)
	}
	if m.db.GetCollection(m.collectionName, m.embeddingFunc) == nil {
		return fmt.Errorf("collection %s not found", m.collectionName)
	}
	if !m.inMemory {
		if _, err := os.Stat(m.dbPath); err != nil {
			return fmt.Errorf("database path unavailable: %w", err)
		}
	}
	return nil
}

func (m *VectorDBManager) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count(), nil
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.filePath == "" {
		return fmt.Errorf("export file is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	log.Debug().Msgf("Collection name: %s", m.collectionName)
	log.Debug().Msgf("File path: %s", m.filePath)
	log.Debug().Msgf("Compress: %t", m.compress)
	// export collection
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	if c := m.db.GetCollection(m.collectionName, m.embeddingFunc); c != nil {
		m.collection = c
	}
	return nil
}

func (m *VectorDBManager) checkDimension(embedding []float32) error {
	if m.dimension > 0 && len(embedding) != m.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), m.dimension)
	}
	return nil
}

// sortHits orders by distance and breaks ties by id so equal queries return
// the same order.
func sortHits(hits []models.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
}
