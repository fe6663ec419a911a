package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebase-qa/internal/config"
	"codebase-qa/internal/models"
)

func TestDocumentMetadataRoundTrip(t *testing.T) {
	meta := map[string]string{
		models.MetaSource:     "guide.pdf",
		models.MetaChunkIndex: "7",
		models.MetaPage:       "2",
		models.MetaStartIndex: "800",
		models.MetaTitle:      "Guide",
	}
	d := documentFromMetadata("guide_7_abcd1234", "text", meta, []float32{1, 2, 3})

	assert.Equal(t, 7, d.ChunkIndex)
	assert.True(t, d.Page.Valid)
	assert.EqualValues(t, 2, d.Page.Int64)
	assert.Equal(t, []float32{1, 2, 3}, d.Embedding.Slice())
	assert.Equal(t, meta, d.metadata())
}

func TestDocumentWithoutPage(t *testing.T) {
	d := documentFromMetadata("a_0_00000000", "text", map[string]string{
		models.MetaSource:     "a.txt",
		models.MetaChunkIndex: "0",
		models.MetaStartIndex: "0",
	}, []float32{1})

	assert.False(t, d.Page.Valid)
	md := d.metadata()
	assert.NotContains(t, md, models.MetaPage)
	assert.NotContains(t, md, models.MetaTitle)
}

func TestConnectDBRequiresURL(t *testing.T) {
	_, err := ConnectDB(&config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestNewPGVectorStoreRejectsDimension(t *testing.T) {
	sqldb, err := ConnectDB(&config.DatabaseConfig{URL: "postgres://postgres@localhost:5432/postgres?sslmode=disable"})
	require.NoError(t, err)
	db := NewDB(sqldb, false)
	defer db.Close()

	_, err = NewPGVectorStore(context.Background(), db, "docs", 0)
	assert.Error(t, err)
}
