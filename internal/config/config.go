package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	VectorDBChromem  = "chromem"
	VectorDBPGVector = "pgvector"

	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"
)

type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Log          LogConfig      `yaml:"log"`
	VectorDB     VectorDBConfig `yaml:"vector_db"`
	Database     DatabaseConfig `yaml:"database"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Parser       ParserConfig   `yaml:"parser"`
	RAG          RAGConfig      `yaml:"rag"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	UploadDir       string   `yaml:"upload_dir"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxUploadMB     int      `yaml:"max_upload_mb"`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// VectorDBConfig selects the vector store. Path and the export settings only
// apply to chromem.
type VectorDBConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	ExportFile    string `yaml:"export_file"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

// LLMConfig is shared by the embedding model and the inference model. Dimension
// and BatchSize are only read for embeddings, the generation settings only for
// inference.
type LLMConfig struct {
	Provider       string   `yaml:"provider"`
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	Key            string   `yaml:"key"`
	Dimension      int      `yaml:"dimension,omitempty"`
	BatchSize      int      `yaml:"batch_size,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
	TopK           int      `yaml:"top_k,omitempty"`
	TopP           float64  `yaml:"top_p,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// DefaultTemperature is used when no temperature is configured. An explicit
// 0 is kept.
const DefaultTemperature = 0.2

func (c *LLMConfig) GenerationTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

type ParserConfig struct {
	OfficeFormats bool `yaml:"office_formats"`
}

type RAGConfig struct {
	ChunkSize       int    `yaml:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	Splitter        string `yaml:"splitter"`
	TopK            int    `yaml:"top_k"`
	MaxContextChars int    `yaml:"max_context_chars"`
}

// LoadConfig reads the yaml file at path. A missing file is not an error, the
// defaults and environment overrides are used instead.
func LoadConfig(path string) (*Config, error) {
	cfg := seeded()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadEnvFile loads a .env file into the process environment if it exists.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func Default() *Config {
	cfg := seeded()
	applyDefaults(&cfg)
	return &cfg
}

// seeded presets the fields where zero is a valid setting, so yaml only
// overrides them when the key is present.
func seeded() Config {
	var cfg Config
	cfg.RAG.ChunkOverlap = 200
	return cfg
}

// Warnings lists non-fatal configuration problems worth logging at startup.
func (c *Config) Warnings() []string {
	var warnings []string
	switch c.InferenceLLM.Provider {
	case ProviderGemini, ProviderGenAI, ProviderOpenAI:
		if c.InferenceLLM.Key == "" {
			warnings = append(warnings, "GEMINI_API_KEY not found in environment variables. LLM calls will fail.")
		}
	}
	if c.EmbedLLM.Provider == ProviderGemini && c.EmbedLLM.Key == "" {
		warnings = append(warnings, "embedding provider is gemini but no key is configured")
	}
	return warnings
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.InferenceLLM.Key = v
		if cfg.EmbedLLM.Provider == ProviderGemini && cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = v
		}
	}
	if v := os.Getenv("GEMINI_API_URL"); v != "" {
		cfg.InferenceLLM.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.EmbedLLM.BaseURL = v
	}
	if v := os.Getenv("CHROMA_DB_PATH"); v != "" {
		cfg.VectorDB.Path = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Server.UploadDir = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "uploaded_files"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost", "http://localhost:5173"}
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Server.ShutdownSeconds <= 0 {
		cfg.Server.ShutdownSeconds = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	cfg.VectorDB.Type = strings.ToLower(cfg.VectorDB.Type)
	if cfg.VectorDB.Type == "" {
		cfg.VectorDB.Type = VectorDBChromem
	}
	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = "./chroma_db"
	}
	if cfg.VectorDB.Collection == "" {
		cfg.VectorDB.Collection = "codebase_docs"
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = cfg.VectorDB.Collection
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOllama
	}
	if cfg.EmbedLLM.Model == "" {
		switch cfg.EmbedLLM.Provider {
		case ProviderOpenAI:
			cfg.EmbedLLM.Model = "text-embedding-3-small"
		case ProviderGemini:
			cfg.EmbedLLM.Model = "text-embedding-004"
		default:
			cfg.EmbedLLM.Model = "all-minilm"
		}
	}
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == ProviderOllama {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Dimension <= 0 {
		switch cfg.EmbedLLM.Provider {
		case ProviderOpenAI:
			cfg.EmbedLLM.Dimension = 1536
		case ProviderGemini:
			cfg.EmbedLLM.Dimension = 768
		default:
			cfg.EmbedLLM.Dimension = 384
		}
	}
	if cfg.EmbedLLM.BatchSize <= 0 {
		cfg.EmbedLLM.BatchSize = 32
	}

	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = ProviderGemini
	}
	if cfg.InferenceLLM.BaseURL == "" && cfg.InferenceLLM.Provider == ProviderGemini {
		cfg.InferenceLLM.BaseURL = DefaultGeminiURL
	}
	if cfg.InferenceLLM.Model == "" {
		switch cfg.InferenceLLM.Provider {
		case ProviderOpenAI:
			cfg.InferenceLLM.Model = "gpt-4o-mini"
		case ProviderOllama:
			cfg.InferenceLLM.Model = "llama3.2"
		default:
			cfg.InferenceLLM.Model = "gemini-1.5-flash"
		}
	}
	if cfg.InferenceLLM.TopK == 0 {
		cfg.InferenceLLM.TopK = 1
	}
	if cfg.InferenceLLM.TopP == 0 {
		cfg.InferenceLLM.TopP = 1
	}
	if cfg.InferenceLLM.TimeoutSeconds <= 0 {
		cfg.InferenceLLM.TimeoutSeconds = 60
	}

	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.RAG.Splitter == "" {
		cfg.RAG.Splitter = "window"
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MaxContextChars <= 0 {
		cfg.RAG.MaxContextChars = 12000
	}
}
