package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"codebase-qa/internal/config"
	"codebase-qa/internal/models"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrLengthMismatch    = errors.New("ids, texts, metadatas and embeddings must have the same length")
)

// Document is one chunk row. Page is NULL for sources without pages.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string          `bun:"id,pk"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	ChunkIndex    int             `bun:"chunk_index"`
	Page          sql.NullInt64   `bun:"page"`
	StartIndex    int             `bun:"start_index"`
	Title         string          `bun:"title"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	Distance      float32         `bun:"distance,scanonly"`
}

// PGVectorStore keeps the collection in a postgres table with a pgvector
// column. The table name is the collection name.
type PGVectorStore struct {
	mu        sync.RWMutex
	db        *bun.DB
	table     string
	dimension int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(debug)))
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// NewPGVectorStore creates the vector extension and the collection table if
// they are missing.
func NewPGVectorStore(ctx context.Context, db *bun.DB, table string, dimension int) (*PGVectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	s := &PGVectorStore{db: db, table: pq.QuoteIdentifier(table), dimension: dimension}
	if err := s.InitDB(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	content text NOT NULL,
	source text NOT NULL,
	chunk_index integer NOT NULL DEFAULT 0,
	page integer,
	start_index integer NOT NULL DEFAULT 0,
	title text NOT NULL DEFAULT '',
	embedding vector(%d) NOT NULL
)`, s.table, s.dimension)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Add(ctx context.Context, ids, texts []string, metadatas []map[string]string, embeddings [][]float32) error {
	if len(texts) != len(ids) || len(metadatas) != len(ids) || len(embeddings) != len(ids) {
		return ErrLengthMismatch
	}
	if len(ids) == 0 {
		return nil
	}

	docs := make([]Document, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		if len(embeddings[i]) != s.dimension {
			return fmt.Errorf("record %s: %w: got %d, want %d", id, ErrDimensionMismatch, len(embeddings[i]), s.dimension)
		}
		docs[i] = documentFromMetadata(id, texts[i], metadatas[i], embeddings[i])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.db.NewSelect().
		TableExpr(s.table+" AS d").
		Where("id IN (?)", bun.In(ids)).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to check ids: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %d ids already exist", ErrDuplicateID, existing)
	}

	_, err = s.db.NewInsert().
		Model(&docs).
		ModelTableExpr(s.table).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}
	return nil
}

// Query orders by cosine distance, then id, so ties are stable.
func (s *PGVectorStore) Query(ctx context.Context, embedding []float32, k int) ([]models.Hit, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	if k <= 0 {
		return []models.Hit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []Document
	err := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr(s.table+" AS d").
		Column("id", "content", "source", "chunk_index", "page", "start_index", "title").
		ColumnExpr("embedding <=> ? AS distance", pgvector.NewVector(embedding)).
		OrderExpr("distance ASC, id ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Hit, len(docs))
	for i, d := range docs {
		hits[i] = models.Hit{ID: d.ID, Content: d.Content, Metadata: d.metadata(), Distance: d.Distance}
	}
	return hits, nil
}

func (s *PGVectorStore) ListMetadata(ctx context.Context) ([]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []Document
	err := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr(s.table+" AS d").
		Column("id", "source", "chunk_index", "page", "start_index", "title").
		Order("source", "chunk_index").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	metadatas := make([]map[string]string, len(docs))
	for i, d := range docs {
		metadatas[i] = d.metadata()
	}
	return metadatas, nil
}

// Clear drops and recreates the table with the same dimension.
func (s *PGVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	if err := s.InitDB(ctx); err != nil {
		return err
	}
	log.Info().Str("table", s.table).Msg("Table re-created and is now empty")
	return nil
}

func (s *PGVectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.NewSelect().TableExpr(s.table + " AS d").Count(ctx)
}

func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

func documentFromMetadata(id, content string, meta map[string]string, embedding []float32) Document {
	d := Document{
		ID:        id,
		Content:   content,
		Source:    meta[models.MetaSource],
		Title:     meta[models.MetaTitle],
		Embedding: pgvector.NewVector(embedding),
	}
	d.ChunkIndex, _ = strconv.Atoi(meta[models.MetaChunkIndex])
	d.StartIndex, _ = strconv.Atoi(meta[models.MetaStartIndex])
	if page, err := strconv.ParseInt(meta[models.MetaPage], 10, 64); err == nil {
		d.Page = sql.NullInt64{Int64: page, Valid: true}
	}
	return d
}

func (d Document) metadata() map[string]string {
	meta := map[string]string{
		models.MetaSource:     d.Source,
		models.MetaChunkIndex: strconv.Itoa(d.ChunkIndex),
		models.MetaStartIndex: strconv.Itoa(d.StartIndex),
	}
	if d.Page.Valid {
		meta[models.MetaPage] = strconv.FormatInt(d.Page.Int64, 10)
	}
	if d.Title != "" {
		meta[models.MetaTitle] = d.Title
	}
	return meta
}
