package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebase-qa/internal/chromemdb"
	"codebase-qa/internal/config"
	"codebase-qa/internal/rag"
	"codebase-qa/internal/ragtest"
)

type closeCounter struct{ closed int }

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func newTestApp(t *testing.T, gen *ragtest.Generator) (*app, *closeCounter) {
	t.Helper()
	cfg := config.Default()
	cfg.VectorDB.InMemory = true
	cfg.VectorDB.ExportFile = filepath.Join(t.TempDir(), "export.gob")

	store, err := chromemdb.NewVectorDBManager(chromemdb.Options{
		Collection: cfg.VectorDB.Collection,
		InMemory:   true,
		ExportFile: cfg.VectorDB.ExportFile,
		Dimension:  64,
	})
	require.NoError(t, err)

	closer := &closeCounter{}
	return &app{
		cfg:     cfg,
		rag:     rag.NewRAG(store, ragtest.NewEmbedder(64), gen, cfg),
		chromem: store,
		closers: []io.Closer{closer},
	}, closer
}

func TestExecuteClosesAfterFailure(t *testing.T) {
	a, closer := newTestApp(t, &ragtest.Generator{Err: assert.AnError})

	doc := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("the scheduler retries jobs"), 0o644))
	require.NoError(t, ingestFile(context.Background(), a, doc))

	err := execute(context.Background(), a, mode{query: "does it retry?"})
	require.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, 1, closer.closed)
	_, err = os.Stat(a.cfg.VectorDB.ExportFile)
	assert.NoError(t, err, "collection is exported even though the query failed")
}

func TestExecuteUnsupportedFile(t *testing.T) {
	a, closer := newTestApp(t, &ragtest.Generator{})

	err := execute(context.Background(), a, mode{filePath: "diagram.png"})
	assert.Error(t, err)
	assert.Equal(t, 1, closer.closed)
}
