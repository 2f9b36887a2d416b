package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1500, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 100, cfg.RAG.MinChunkLength)
	assert.Equal(t, 768, cfg.RAG.EmbeddingDimension)
	assert.Equal(t, 10, cfg.RAG.BatchSize)
	assert.Equal(t, 15, cfg.RAG.TopK)
	assert.Equal(t, 50000, cfg.Fetcher.MaxTextLength)
	assert.Equal(t, 5, cfg.Fetcher.MaxRelated)
	assert.Equal(t, 30*time.Second, cfg.Fetcher.MainTimeout)
	assert.Equal(t, 20*time.Second, cfg.Fetcher.RelatedTimeout)
	assert.Equal(t, 100000, cfg.Pipeline.FallbackContextLimit)
	assert.Zero(t, cfg.Pipeline.RequestTimeout)
	assert.Equal(t, []string{"weaviate", "pgvector", "chromem-persistent", "chromem-memory"}, cfg.RAG.Strategies)
	assert.Contains(t, cfg.Fetcher.Keywords, "privacy")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
fetcher:
  renderer: http
  main_timeout: 5s
rag:
  chunk_size: 800
  chunk_overlap: 100
  strategies: [chromem-memory]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http", cfg.Fetcher.Renderer)
	assert.Equal(t, 5*time.Second, cfg.Fetcher.MainTimeout)
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, []string{"chromem-memory"}, cfg.RAG.Strategies)
	// untouched fields fall back to defaults
	assert.Equal(t, 10, cfg.RAG.BatchSize)
}

func TestLoadConfig_ExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
rag:
  chunk_overlap: 0
  min_chunk_length: 0
  batch_delay: 0s
fetcher:
  max_related: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.RAG.ChunkOverlap)
	assert.Zero(t, cfg.RAG.MinChunkLength)
	assert.Zero(t, cfg.RAG.BatchDelay)
	assert.Zero(t, cfg.Fetcher.MaxRelated)
	assert.Equal(t, 1500, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.Fetcher.MinTextLength)
}

func TestLoadConfig_InferenceFollowsEmbedding(t *testing.T) {
	path := writeConfig(t, `
embed_llm:
  provider: ollama
  base_url: http://localhost:11434
  model: nomic-embed-text
inference_llm:
  model: llama3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.InferenceLLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.InferenceLLM.BaseURL)
	assert.Equal(t, "llama3", cfg.InferenceLLM.Model)
	assert.Equal(t, "llama3", cfg.Models.Default)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("WEAVIATE_HOST", "weaviate:8080")
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.EmbedLLM.Key)
	assert.Equal(t, "secret", cfg.InferenceLLM.Key)
	assert.Equal(t, "weaviate:8080", cfg.Weaviate.Host)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap equals size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"negative overlap", func(c *Config) { c.RAG.ChunkOverlap = -1 }},
		{"negative chunk size", func(c *Config) { c.RAG.ChunkSize = -5 }},
		{"negative min chunk length", func(c *Config) { c.RAG.MinChunkLength = -1 }},
		{"unknown renderer", func(c *Config) { c.Fetcher.Renderer = "lynx" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
