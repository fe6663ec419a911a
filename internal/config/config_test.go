package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_URL", "")
	t.Setenv("SERVER_ADDR", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost", "http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, VectorDBChromem, cfg.VectorDB.Type)
	assert.Equal(t, "codebase_docs", cfg.VectorDB.Collection)
	assert.Equal(t, "codebase_docs", cfg.Database.Table)
	assert.Equal(t, ProviderOllama, cfg.EmbedLLM.Provider)
	assert.Equal(t, 384, cfg.EmbedLLM.Dimension)
	assert.Equal(t, ProviderGemini, cfg.InferenceLLM.Provider)
	assert.Equal(t, DefaultGeminiURL, cfg.InferenceLLM.BaseURL)
	assert.Equal(t, 0.2, cfg.InferenceLLM.GenerationTemperature())
	assert.Equal(t, 1, cfg.InferenceLLM.TopK)
	assert.Equal(t, 60, cfg.InferenceLLM.TimeoutSeconds)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 12000, cfg.RAG.MaxContextChars)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  addr: ":9000"
vector_db:
  type: "PGVector"
  collection: "docs"
rag:
  chunk_size: 500
  chunk_overlap: 600
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("SERVER_ADDR", ":9100")
	t.Setenv("GEMINI_API_URL", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr, "env overrides the file")
	assert.Equal(t, VectorDBPGVector, cfg.VectorDB.Type)
	assert.Equal(t, "docs", cfg.Database.Table)
	assert.Equal(t, "secret", cfg.InferenceLLM.Key)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap, "overlap larger than the chunk falls back")
	assert.Empty(t, cfg.Warnings())
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestWarningsMissingKey(t *testing.T) {
	cfg := Default()
	warnings := cfg.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "GEMINI_API_KEY")
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CODEBASE_QA_TEST_VAR=hello\n"), 0o644))
	t.Setenv("CODEBASE_QA_TEST_VAR", "")
	os.Unsetenv("CODEBASE_QA_TEST_VAR")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "hello", os.Getenv("CODEBASE_QA_TEST_VAR"))
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
inference_llm:
  temperature: 0
rag:
  chunk_overlap: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.InferenceLLM.Temperature)
	assert.Zero(t, cfg.InferenceLLM.GenerationTemperature())
	assert.Zero(t, cfg.RAG.ChunkOverlap)

	cfg, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.InferenceLLM.Temperature)
	assert.Equal(t, DefaultTemperature, cfg.InferenceLLM.GenerationTemperature())
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
}
