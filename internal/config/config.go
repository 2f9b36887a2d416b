package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Log          LogConfig      `yaml:"log"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Models       ModelsConfig   `yaml:"models"`
	Fetcher      FetcherConfig  `yaml:"fetcher"`
	RAG          RAGConfig      `yaml:"rag"`
	Pipeline     PipelineConfig `yaml:"pipeline"`
	Database     DatabaseConfig `yaml:"database"`
	Weaviate     WeaviateConfig `yaml:"weaviate"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LLMConfig describes one model endpoint. Provider is "openai" (any
// OpenAI-compatible API) or "ollama".
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type ModelsConfig struct {
	Default  string   `yaml:"default"`
	Filter   string   `yaml:"filter"`
	Fallback []string `yaml:"fallback"`
	Language string   `yaml:"language"`
}

type FetcherConfig struct {
	// Renderer is "chrome" or "http".
	Renderer       string        `yaml:"renderer"`
	UserAgent      string        `yaml:"user_agent"`
	MainTimeout    time.Duration `yaml:"main_timeout"`
	MainSettle     time.Duration `yaml:"main_settle"`
	RelatedTimeout time.Duration `yaml:"related_timeout"`
	RelatedSettle  time.Duration `yaml:"related_settle"`
	MaxTextLength  int           `yaml:"max_text_length"`
	MinTextLength  int           `yaml:"min_text_length"`
	MaxRelated     int           `yaml:"max_related"`
	Keywords       []string      `yaml:"keywords"`
}

type RAGConfig struct {
	ChunkSize          int           `yaml:"chunk_size"`
	ChunkOverlap       int           `yaml:"chunk_overlap"`
	MinChunkLength     int           `yaml:"min_chunk_length"`
	EmbeddingDimension int           `yaml:"embedding_dimension"`
	BatchSize          int           `yaml:"batch_size"`
	BatchDelay         time.Duration `yaml:"batch_delay"`
	TopK               int           `yaml:"top_k"`
	// Strategies lists index backends in the order they are tried at startup.
	Strategies  []string `yaml:"strategies"`
	PersistPath string   `yaml:"persist_path"`
}

type PipelineConfig struct {
	FallbackContextLimit int `yaml:"fallback_context_limit"`
	// RequestTimeout bounds a whole run; zero means no overall deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

type DatabaseConfig struct {
	// Driver is "pgdriver" (default) or "postgres" for lib/pq.
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	APIKey string `yaml:"api_key"`
}

var defaultKeywords = []string{"privacy", "policy", "terms", "usage", "guidelines", "data", "processing"}

// Default returns a configuration with every field populated.
func Default() *Config {
	cfg := defaults()
	cfg.inherit()
	return cfg
}

// LoadConfig decodes path over the defaults, so keys absent from the file
// keep their default while explicit zeros (chunk_overlap: 0) are honoured.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.inherit()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults leaves the inference endpoint and the default model empty; they
// follow the embedding endpoint unless set explicitly.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
		EmbedLLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:    "text-embedding-004",
		},
		InferenceLLM: LLMConfig{Model: "gemini-1.5-flash"},
		Models: ModelsConfig{
			Filter:   "gemini",
			Language: "Traditional Chinese",
			Fallback: []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-1.0-pro"},
		},
		Fetcher: FetcherConfig{
			Renderer:       "chrome",
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			MainTimeout:    30 * time.Second,
			MainSettle:     2500 * time.Millisecond,
			RelatedTimeout: 20 * time.Second,
			RelatedSettle:  3 * time.Second,
			MaxTextLength:  50000,
			MinTextLength:  100,
			MaxRelated:     5,
			Keywords:       append([]string(nil), defaultKeywords...),
		},
		RAG: RAGConfig{
			ChunkSize:          1500,
			ChunkOverlap:       200,
			MinChunkLength:     100,
			EmbeddingDimension: 768,
			BatchSize:          10,
			BatchDelay:         500 * time.Millisecond,
			TopK:               15,
			Strategies:         []string{"weaviate", "pgvector", "chromem-persistent", "chromem-memory"},
			PersistPath:        "/tmp/chroma",
		},
		Pipeline: PipelineConfig{
			FallbackContextLimit: 100000,
			CleanupTimeout:       10 * time.Second,
		},
		Database: DatabaseConfig{Driver: "pgdriver"},
		Weaviate: WeaviateConfig{Scheme: "http"},
	}
}

func (c *Config) inherit() {
	setString(&c.InferenceLLM.Provider, c.EmbedLLM.Provider)
	setString(&c.InferenceLLM.BaseURL, c.EmbedLLM.BaseURL)
	setString(&c.InferenceLLM.Key, c.EmbedLLM.Key)
	setString(&c.Models.Default, c.InferenceLLM.Model)
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	for _, name := range []string{"GEMINI_API_KEY", "LLM_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			c.EmbedLLM.Key = v
			c.InferenceLLM.Key = v
		}
	}
	if v := os.Getenv("WEAVIATE_HOST"); v != "" {
		c.Weaviate.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.BatchSize <= 0 {
		return fmt.Errorf("rag.batch_size must be positive, got %d", c.RAG.BatchSize)
	}
	if c.RAG.MinChunkLength < 0 {
		return fmt.Errorf("rag.min_chunk_length must not be negative, got %d", c.RAG.MinChunkLength)
	}
	if c.RAG.EmbeddingDimension <= 0 {
		return fmt.Errorf("rag.embedding_dimension must be positive, got %d", c.RAG.EmbeddingDimension)
	}
	switch c.Fetcher.Renderer {
	case "chrome", "http":
	default:
		return fmt.Errorf("unknown fetcher.renderer %q", c.Fetcher.Renderer)
	}
	return nil
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
